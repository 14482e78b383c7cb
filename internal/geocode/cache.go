// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/navinudge/internal/geobus"
)

// coordPrecision is the precision used to quantize coordinates (0.0001 degrees ≈ 11 m)
const coordPrecision = 1e-4

type reverseKey struct {
	provider string
	latQ     int32
	lonQ     int32
}

type searchKey struct {
	provider string
	query    string
	limit    int
}

type reverseEntry struct {
	address Address
	expiry  time.Time
}

type searchEntry struct {
	places []Place
	err    error
	expiry time.Time
}

// CachedGeocoder caches the answers of the wrapped Geocoder. Reverse lookups are keyed by
// the position quantized to roughly 11 m, searches by the normalized query and limit. Misses
// (no address, no places) expire after ttlMiss, everything else after ttlHit.
type CachedGeocoder struct {
	coder   Geocoder
	ttlHit  time.Duration
	ttlMiss time.Duration

	mu       sync.RWMutex
	reverses map[reverseKey]reverseEntry
	searches map[searchKey]searchEntry
}

func NewCachedGeocoder(coder Geocoder, ttlHit, ttlMiss time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		coder:    coder,
		ttlHit:   ttlHit,
		ttlMiss:  ttlMiss,
		reverses: make(map[reverseKey]reverseEntry),
		searches: make(map[searchKey]searchEntry),
	}
}

func (c *CachedGeocoder) Name() string {
	return "geocoder cache using " + c.coder.Name()
}

func (c *CachedGeocoder) Reverse(ctx context.Context, coords geobus.Coordinate) (Address, error) {
	key := reverseKey{
		provider: c.coder.Name(),
		latQ:     quantizeCoord(coords.Lat),
		lonQ:     quantizeCoord(coords.Lon),
	}

	c.mu.RLock()
	entry, ok := c.reverses[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiry) {
		addr := entry.address
		addr.CacheHit = true
		return addr, nil
	}

	addr, err := c.coder.Reverse(ctx, coords)
	if err != nil {
		return addr, err
	}

	ttl := c.ttlHit
	if !addr.AddressFound {
		ttl = c.ttlMiss
	}
	c.mu.Lock()
	c.reverses[key] = reverseEntry{address: addr, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()

	return addr, nil
}

// Search returns the places for query. An ErrNoResults answer is cached like a miss, any
// other error is returned without caching.
func (c *CachedGeocoder) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	key := searchKey{
		provider: c.coder.Name(),
		query:    strings.ToLower(strings.Join(strings.Fields(query), " ")),
		limit:    limit,
	}

	c.mu.RLock()
	entry, ok := c.searches[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiry) {
		return append([]Place(nil), entry.places...), entry.err
	}

	places, err := c.coder.Search(ctx, query, limit)
	ttl := c.ttlHit
	switch {
	case errors.Is(err, ErrNoResults):
		ttl = c.ttlMiss
	case err != nil:
		return nil, err
	}
	c.mu.Lock()
	c.searches[key] = searchEntry{places: places, err: err, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()

	return append([]Place(nil), places...), err
}

func quantizeCoord(val float64) int32 {
	return int32(math.Round(val / coordPrecision))
}
