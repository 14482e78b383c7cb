// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/wneessen/navinudge/internal/logger"
)

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second

	// DefaultMinMovement is the distance in meters a source has to move before a new fix
	// of that source is broadcast.
	DefaultMinMovement = 10.0
)

const (
	AccuracyGPS3D   = 10
	AccuracyGPS2D   = 25
	AccuracyWiFi    = 100
	AccuracyCity    = 15000
	AccuracyUnknown = 1000000
	TruncPrecision  = 6
)

// Provider defines an interface for geolocation service providers.
// It supports retrieving streamed results for a given key.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context, key string) <-chan Result
}

// GeoBus coordinates the publishing and subscribing of geolocation results between providers and consumers.
type GeoBus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	minMovement float64
	best        map[string]Result
	subscribers map[string]map[chan Result]struct{}
}

// Option configures a GeoBus.
type Option func(*GeoBus)

// Result represents a geolocation result with associated metadata.
type Result struct {
	Key            string
	Lat, Lon       float64
	Alt            float64
	AccuracyMeters float64
	Source         string
	At             time.Time
	TTL            time.Duration
}

// Coordinate returns the position of the Result as Coordinate.
func (r Result) Coordinate() Coordinate {
	return Coordinate{Lat: r.Lat, Lon: r.Lon, Acc: r.AccuracyMeters}
}

// BetterThan reports whether r should replace prev. Older results never win. A result
// wins when it is more accurate, or equally accurate and newer.
func (r Result) BetterThan(prev Result) bool {
	if prev.Key == "" {
		return true
	}
	if r.At.Before(prev.At) {
		return false
	}
	if r.AccuracyMeters < prev.AccuracyMeters-accuracyEpsilon {
		return true
	}
	if prev.AccuracyMeters < r.AccuracyMeters-accuracyEpsilon {
		return false
	}
	return r.At.After(prev.At)
}

// IsExpired checks if the Result has exceeded its time-to-live (TTL) based on the current time and the timestamp.
func (r Result) IsExpired() bool {
	return r.TTL > 0 && time.Since(r.At) > r.TTL
}

// WithMinMovement sets the distance in meters a source has to move before its next fix is
// broadcast. It acts as the distance filter of the location feed.
func WithMinMovement(meters float64) Option {
	return func(b *GeoBus) {
		if meters >= 0 {
			b.minMovement = meters
		}
	}
}

// New initializes and returns a new instance of GeoBus to handle geolocation result coordination.
func New(log *logger.Logger, opts ...Option) *GeoBus {
	bus := &GeoBus{
		logger:      log,
		minMovement: DefaultMinMovement,
		best:        make(map[string]Result),
		subscribers: make(map[string]map[chan Result]struct{}),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

func (b *GeoBus) NewOrchestrator(provider []Provider) *Orchestrator {
	return &Orchestrator{
		Bus:       b,
		Providers: provider,
	}
}

// Subscribe adds a subscriber for updates associated with the given key and buffer size, returning a result
// channel and an unsubscribe function.
func (b *GeoBus) Subscribe(key string, size int) (<-chan Result, func()) {
	resultChan := make(chan Result, size)
	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[chan Result]struct{})
	}

	b.subscribers[key][resultChan] = struct{}{}
	if best, ok := b.best[key]; ok && !best.IsExpired() {
		select {
		case resultChan <- best:
		default:
		}
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[key]; ok {
				delete(subs, resultChan)
				if len(subs) == 0 {
					delete(b.subscribers, key)
				}
			}
			b.mu.Unlock()
			close(resultChan)
		})
	}

	return resultChan, unsub
}

// Publish offers a result to the bus. It is broadcast when there is no current result for
// the key, the current one expired, or the new one is not less accurate (or comes from the
// same source) and moved further than the minimum movement.
func (b *GeoBus) Publish(r Result) {
	if r.AccuracyMeters <= 0 || math.IsNaN(r.AccuracyMeters) {
		return
	}
	if !r.Coordinate().Valid() {
		b.logger.Warn("dropping geolocation result with invalid coordinates", slog.String("source", r.Source),
			slog.Float64("lat", r.Lat), slog.Float64("lon", r.Lon))
		return
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev, have := b.best[r.Key]

	accept := !have || prev.IsExpired()
	if !accept && !r.At.Before(prev.At) {
		notWorse := prev.Source == r.Source || !(prev.AccuracyMeters < r.AccuracyMeters-accuracyEpsilon)
		accept = notWorse && r.Coordinate().PosHasSignificantChange(prev.Coordinate(), b.minMovement)
	}
	if accept {
		b.best[r.Key] = r
		b.broadcastResult(r)
		return
	}

	// Refresh the TTL if the source has not changed
	if have && prev.Source == r.Source && r.At.After(prev.At) {
		prev.At = r.At
		b.best[r.Key] = prev
	}
}

func (b *GeoBus) broadcastResult(r Result) {
	subs, ok := b.subscribers[r.Key]
	if !ok {
		return
	}
	for ch := range subs {
		select {
		case ch <- r:
		default:
			b.logger.Debug("subscriber channel full, dropping geolocation result", slog.String("key", r.Key))
		}
	}
}

// Best returns the current best, non-expired result for key.
func (b *GeoBus) Best(key string) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.best[key]
	return r, ok && !r.IsExpired()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}
