// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package proximity turns a stream of position fixes into one-shot alerts per destination.
//
// Every tracked destination is either Armed or Fired. A fix within the threshold fires an
// Armed destination once, a fix beyond threshold*multiplier rearms it. Fixes in between
// leave the state untouched, so lingering at the boundary does not cause repeated alerts.
package proximity

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/logger"
)

const (
	// DefaultThresholdMeters is the distance at which an alert fires when nothing else is configured.
	DefaultThresholdMeters = 50.0
	// DefaultExitMultiplier is the factor applied to the threshold for rearming.
	DefaultExitMultiplier = 3.0
)

// ErrNoDestinations is returned when monitoring is started without any tracked destination.
var ErrNoDestinations = errors.New("no destinations to monitor")

// State is the trigger state of a single destination.
type State int

const (
	Armed State = iota
	Fired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// Sink receives the alerts of the engine. Both calls must return quickly.
type Sink interface {
	Trigger()
	Prepare()
}

// Observer is notified about engine decisions. It is optional and used for metrics.
type Observer interface {
	FixEvaluated()
	Triggered(id string)
	Rearmed(id string)
	InvalidDestination(id string)
	InvalidFix()
	Tracked(count int)
}

// Target is a destination as seen by the engine.
type Target struct {
	ID         string
	Coordinate geobus.Coordinate
}

// Fix is a reported device position.
type Fix struct {
	Coordinate geobus.Coordinate
	At         time.Time
}

// Config holds the distances the engine works with.
type Config struct {
	ThresholdMeters float64
	ExitMultiplier  float64
}

// Engine is the proximity state machine. It is not safe for concurrent use, Monitor
// serializes all calls onto a single goroutine.
type Engine struct {
	threshold  float64
	multiplier float64
	sink       Sink
	observer   Observer
	logger     *logger.Logger

	targets    []Target
	fired      map[string]bool
	monitoring bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an Observer with the engine.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// WithLogger sets the logger used for data quality warnings.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.logger = log
		}
	}
}

// NewEngine returns an engine for the given configuration. Threshold validation belongs to
// the configuration layer. A threshold that is not positive never triggers, a multiplier
// below 1 is treated as 1.
func NewEngine(config Config, sink Sink, opts ...Option) *Engine {
	multiplier := config.ExitMultiplier
	if math.IsNaN(multiplier) || multiplier < 1 {
		multiplier = 1
	}
	engine := &Engine{
		threshold:  config.ThresholdMeters,
		multiplier: multiplier,
		sink:       sink,
		observer:   nopObserver{},
		logger:     logger.NewLogger(slog.LevelError, io.Discard),
		fired:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Sync replaces the tracked destinations with targets. State of removed destinations is
// dropped, destinations whose coordinate changed are rearmed and a reordering has no
// effect. An empty set stops monitoring and clears all state.
func (e *Engine) Sync(targets []Target) {
	previous := make(map[string]geobus.Coordinate, len(e.targets))
	for _, target := range e.targets {
		previous[target.ID] = target.Coordinate
	}

	e.targets = make([]Target, 0, len(targets))
	active := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if _, dup := active[target.ID]; dup {
			e.logger.Warn("ignoring duplicate destination id", slog.String("id", target.ID))
			continue
		}
		active[target.ID] = struct{}{}
		e.targets = append(e.targets, target)

		prev, known := previous[target.ID]
		if known && (prev.Lat != target.Coordinate.Lat || prev.Lon != target.Coordinate.Lon) {
			delete(e.fired, target.ID)
		}
	}
	for id := range e.fired {
		if _, ok := active[id]; !ok {
			delete(e.fired, id)
		}
	}
	e.observer.Tracked(len(e.targets))

	if len(e.targets) == 0 {
		e.monitoring = false
		clear(e.fired)
	}
}

// Start enables fix evaluation. It fails with ErrNoDestinations if nothing is tracked.
// Existing trigger state is kept.
func (e *Engine) Start() error {
	if len(e.targets) == 0 {
		return ErrNoDestinations
	}
	e.monitoring = true
	return nil
}

// Stop disables fix evaluation. Trigger state is kept for a later Start.
func (e *Engine) Stop() {
	e.monitoring = false
}

// Monitoring reports whether fixes are currently evaluated.
func (e *Engine) Monitoring() bool {
	return e.monitoring
}

// Tracked returns the number of tracked destinations.
func (e *Engine) Tracked() int {
	return len(e.targets)
}

// State returns the trigger state of the destination with the given id. The second return
// value is false if the destination has not been evaluated since it was added or edited.
func (e *Engine) State(id string) (State, bool) {
	fired, ok := e.fired[id]
	if !ok {
		return Armed, false
	}
	if fired {
		return Fired, true
	}
	return Armed, true
}

// OnFix evaluates fix against all tracked destinations and returns the number of alerts
// it fired. The sink is prepared once per evaluated fix.
func (e *Engine) OnFix(fix Fix) int {
	if !e.monitoring || len(e.targets) == 0 {
		return 0
	}
	if !fix.Coordinate.Valid() {
		e.logger.Warn("skipping fix with invalid coordinates", slog.Float64("lat", fix.Coordinate.Lat),
			slog.Float64("lon", fix.Coordinate.Lon))
		e.observer.InvalidFix()
		return 0
	}

	triggered := 0
	rearmAt := e.threshold * e.multiplier
	for _, target := range e.targets {
		if !target.Coordinate.Valid() {
			e.logger.Warn("skipping destination with invalid coordinates", slog.String("id", target.ID),
				slog.Float64("lat", target.Coordinate.Lat), slog.Float64("lon", target.Coordinate.Lon))
			e.observer.InvalidDestination(target.ID)
			continue
		}

		distance := fix.Coordinate.DistanceTo(target.Coordinate)
		fired := e.fired[target.ID]
		switch {
		case e.threshold > 0 && distance <= e.threshold:
			if fired {
				continue
			}
			e.fired[target.ID] = true
			e.sink.Trigger()
			e.observer.Triggered(target.ID)
			e.logger.Info("destination reached", slog.String("id", target.ID),
				slog.Float64("distance", distance), slog.Time("fix_time", fix.At))
			triggered++
		case distance > rearmAt:
			e.fired[target.ID] = false
			if fired {
				e.observer.Rearmed(target.ID)
				e.logger.Debug("destination rearmed", slog.String("id", target.ID),
					slog.Float64("distance", distance))
			}
		default:
			if _, ok := e.fired[target.ID]; !ok {
				e.fired[target.ID] = false
			}
		}
	}

	e.sink.Prepare()
	e.observer.FixEvaluated()
	return triggered
}

type nopObserver struct{}

func (nopObserver) FixEvaluated()             {}
func (nopObserver) Triggered(string)          {}
func (nopObserver) Rearmed(string)            {}
func (nopObserver) InvalidDestination(string) {}
func (nopObserver) InvalidFix()               {}
func (nopObserver) Tracked(int)               {}
