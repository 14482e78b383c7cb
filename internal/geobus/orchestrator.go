// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/navinudge/internal/logger"
)

// Orchestrator coordinates the tracking and publication of geolocation results from multiple
// providers through a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track initiates concurrent geolocation tracking for a given key across multiple providers in the
// Orchestrator. It blocks until ctx is done and all provider goroutines returned.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			o.trackProvider(ctx, p, key)
		}(p)
	}
	<-ctx.Done()
	wg.Wait()
}

// trackProvider continuously tracks a Provider for geolocation data, publishing results to
// the GeoBus. Whenever the provider stream ends, the lookup is restarted with exponential backoff.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lookupChan, err := o.safeLookup(ctx, p, key)
		if err != nil {
			o.Bus.logger.Error("geolocation provider failed", slog.String("provider", p.Name()), logger.Err(err))
		}
		if lookupChan != nil {
			backoff = o.drain(ctx, lookupChan, backoff)
		}

		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// drain publishes all results of a lookup stream until it is closed or ctx is done. It returns
// the backoff to use for the next lookup, which is reset whenever a result was received.
func (o *Orchestrator) drain(ctx context.Context, lookupChan <-chan Result, backoff time.Duration) time.Duration {
	for {
		select {
		case <-ctx.Done():
			return backoff
		case r, ok := <-lookupChan:
			if !ok {
				return backoff
			}
			o.Bus.Publish(r)
			backoff = initialBackoff
		}
	}
}

// safeLookup safely invokes the LookupStream method on a Provider and recovers from potential panics.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider, key string) (ch <-chan Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return provider.LookupStream(ctx, key), nil
}
