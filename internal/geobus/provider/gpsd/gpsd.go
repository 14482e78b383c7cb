// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/gpspoll"
)

const (
	name       = "gpsd"
	reportSize = 16
)

// GeolocationGPSDProvider streams TPV reports of a gpsd daemon. It keeps a watch session open
// and reconnects after period whenever the session ends.
type GeolocationGPSDProvider struct {
	name    string
	addr    string
	period  time.Duration
	ttl     time.Duration
	watchFn func(ctx context.Context, report func(*gpsd.TPVReport)) error
}

// NewGeolocationGPSDProvider returns a provider for the gpsd daemon listening on host and port.
func NewGeolocationGPSDProvider(host, port string) *GeolocationGPSDProvider {
	provider := &GeolocationGPSDProvider{
		name:   name,
		addr:   net.JoinHostPort(host, port),
		period: time.Second * 10,
		ttl:    time.Second * 30,
	}
	provider.watchFn = provider.watch
	return provider
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// LookupStream emits a Result for every TPV report with at least a 2D fix whose position
// differs from the previously emitted one.
func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	// The watch callback runs on a goroutine of go-gpsd that we cannot stop, so it must
	// never write to a channel that gets closed.
	reports := make(chan *gpsd.TPVReport, reportSize)
	report := func(tpv *gpsd.TPVReport) {
		select {
		case reports <- tpv:
		default:
		}
	}

	go func() {
		for {
			// Connection errors are retried after period.
			_ = p.watchFn(ctx, report)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	go func() {
		defer close(out)
		state := geobus.GeolocationState{}

		for {
			var tpv *gpsd.TPVReport
			select {
			case <-ctx.Done():
				return
			case tpv = <-reports:
			}
			if tpv == nil || tpv.Mode < gpsd.Mode2D {
				continue
			}

			coord := geobus.Coordinate{
				Lat: geobus.Truncate(tpv.Lat, geobus.TruncPrecision),
				Lon: geobus.Truncate(tpv.Lon, geobus.TruncPrecision),
				Acc: gpspoll.HorizontalAccuracy(0, tpv.Epx, tpv.Epy, int(tpv.Mode)),
			}
			if !state.HasChanged(coord) {
				continue
			}
			state.Update(coord)

			select {
			case <-ctx.Done():
				return
			case out <- p.createResult(key, coord):
			}
		}
	}()

	return out
}

// watch opens a gpsd session and forwards TPV reports until the session ends or ctx is done.
func (p *GeolocationGPSDProvider) watch(ctx context.Context, report func(*gpsd.TPVReport)) error {
	session, err := gpsd.Dial(p.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", p.addr, err)
	}
	session.AddFilter("TPV", func(r interface{}) {
		if tpv, ok := r.(*gpsd.TPVReport); ok {
			report(tpv)
		}
	})

	done := session.Watch()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationGPSDProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}
