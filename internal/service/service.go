// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service wires the location feed, the destination store and the proximity engine
// into the long running navinudge daemon.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vorlif/spreak"

	"github.com/wneessen/navinudge/internal/config"
	"github.com/wneessen/navinudge/internal/destination"
	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/haptic"
	"github.com/wneessen/navinudge/internal/logger"
	"github.com/wneessen/navinudge/internal/metrics"
	"github.com/wneessen/navinudge/internal/proximity"
)

const (
	// DeviceID is the geobus key all location providers report for.
	DeviceID = "navinudge"

	subscriptionSize = 32
	reloadJobName    = "destinations_reload_job"

	// Monitor holds
	holdDisabled  = "disabled"
	holdPaused    = "paused"
	holdSuspended = "suspended"
)

// Service is the navinudge daemon.
type Service struct {
	config  *config.Config
	geobus  *geobus.GeoBus
	logger  *logger.Logger
	loc     *spreak.Localizer
	metrics *metrics.Recorder
	store   *destination.Store
	monitor *proximity.Monitor
	relay   *sinkRelay

	// Set before Run to replace the configured providers, sinks or sleep watcher
	providers    []geobus.Provider
	sink         haptic.Sink
	sleepMonitor func(context.Context)

	SignalSrc signalSource

	// paused is the last pause state requested via SIGUSR1
	paused  atomic.Bool
	lastFix atomic.Pointer[geobus.Result]
	sleep   sleepState
}

// sinkRelay forwards to the haptic sink created by Run. The sink is set before the monitor
// goroutine starts and never changed afterwards.
type sinkRelay struct {
	sink haptic.Sink
}

func (r *sinkRelay) Trigger() { r.sink.Trigger() }

func (r *sinkRelay) Prepare() { r.sink.Prepare() }

// New returns a Service for the given configuration. Alert texts are translated with loc.
func New(conf *config.Config, log *logger.Logger, loc *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if loc == nil {
		return nil, errors.New("localizer must not be nil")
	}

	recorder := metrics.New()
	relay := &sinkRelay{}
	engine := proximity.NewEngine(proximity.Config{
		ThresholdMeters: conf.Proximity.ThresholdMeters,
		ExitMultiplier:  conf.Proximity.ExitMultiplier,
	}, relay, proximity.WithObserver(recorder), proximity.WithLogger(log))
	var holds []string
	if conf.Haptics.Disabled {
		holds = append(holds, holdDisabled)
	}

	service := &Service{
		config:  conf,
		geobus:  geobus.New(log, geobus.WithMinMovement(conf.Proximity.MinMovement)),
		logger:  log,
		loc:     loc,
		metrics: recorder,
		store: destination.NewStore(conf.Destinations.File, log,
			destination.WithSaveDebounce(conf.Destinations.SaveDebounce)),
		monitor:   proximity.NewMonitor(engine, proximity.DefaultInboxSize, holds...),
		relay:     relay,
		SignalSrc: stdLibSignalSource{},
	}
	service.sleepMonitor = service.monitorSleepResume
	return service, nil
}

// Run starts the daemon and blocks until ctx is canceled. Requests made through signals
// before Run are queued and applied once monitoring is up.
func (s *Service) Run(ctx context.Context) error {
	if err := s.store.Load(); err != nil {
		return fmt.Errorf("failed to load destinations: %w", err)
	}

	providers := s.providers
	if providers == nil {
		var err error
		if providers, err = s.selectGeobusProviders(); err != nil {
			return fmt.Errorf("failed to create geobus orchestrator: %w", err)
		}
	}

	sink := s.sink
	if sink == nil {
		msg := haptic.Message{
			Summary: s.loc.Get("Destination nearby"),
			Body:    s.loc.Get("You are approaching one of your destinations."),
		}
		sinks, err := haptic.New(ctx, s.logger, s.config.Haptics.Sinks, msg)
		if err != nil {
			return fmt.Errorf("failed to create haptic sinks: %w", err)
		}
		sink = sinks
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err = createScheduledJob(ctx, scheduler, s.config.Intervals.Reload, s.reloadDestinations,
		reloadJobName); err != nil {
		return errors.Join(err, scheduler.Shutdown())
	}

	s.relay.sink = sink
	go s.monitor.Run(ctx)
	scheduler.Start()

	destSub, destUnsub := s.store.Subscribe(1)
	go s.processDestinationUpdates(ctx, destSub)

	geoSub, geoUnsub := s.geobus.Subscribe(DeviceID, subscriptionSize)
	go s.processLocationUpdates(ctx, geoSub)
	go s.geobus.NewOrchestrator(providers).Track(ctx, DeviceID)

	if s.sleepMonitor != nil {
		go s.sleepMonitor(ctx)
	}
	if s.config.Metrics.Listen != "" {
		go func() {
			if err := s.metrics.Serve(ctx, s.config.Metrics.Listen, s.logger); err != nil {
				s.logger.Error("metrics endpoint failed", logger.Err(err))
			}
		}()
	}

	// Wait for the context to cancel
	<-ctx.Done()
	destUnsub()
	geoUnsub()
	return errors.Join(s.store.Flush(), scheduler.Shutdown())
}

func createScheduledJob(ctx context.Context, scheduler gocron.Scheduler, interval time.Duration,
	task func(context.Context), jobName string,
) error {
	_, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// reloadDestinations picks up changes other navinudge invocations wrote to the
// destination file.
func (s *Service) reloadDestinations(context.Context) {
	changed, err := s.store.Reload()
	if err != nil {
		s.logger.Error("failed to reload destinations", logger.Err(err))
		return
	}
	if changed {
		s.logger.Info("destination list changed on disk")
	}
}

// processDestinationUpdates forwards every destination snapshot to the monitor and starts
// monitoring once there is something to monitor.
func (s *Service) processDestinationUpdates(ctx context.Context, sub <-chan []destination.Destination) {
	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-sub:
			if !ok {
				return
			}
			if err := s.monitor.Sync(ctx, destination.Targets(list)); err != nil {
				s.logger.Error("failed to sync destinations", logger.Err(err))
				continue
			}
			s.logger.Debug("destinations synced", slog.Int("count", len(list)))
			s.resume(ctx)
		}
	}
}

// processLocationUpdates feeds fixes from the geobus into the monitor. Fixes that are less
// accurate than configured are dropped.
func (s *Service) processLocationUpdates(ctx context.Context, sub <-chan geobus.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-sub:
			if !ok {
				return
			}
			s.logger.Debug("received geolocation update", slog.Float64("lat", r.Lat), slog.Float64("lon", r.Lon),
				slog.Float64("accuracy", r.AccuracyMeters), slog.String("source", r.Source))
			if r.AccuracyMeters > s.config.Proximity.MaxFixAccuracy {
				s.metrics.InaccurateFix()
				s.logger.Debug("dropping inaccurate geolocation update", slog.String("source", r.Source),
					slog.Float64("accuracy", r.AccuracyMeters))
				continue
			}
			s.lastFix.Store(&r)
			if err := s.monitor.Fix(ctx, proximity.Fix{Coordinate: r.Coordinate(), At: r.At}); err != nil {
				s.logger.Error("failed to evaluate geolocation update", logger.Err(err), slog.String("source", r.Source))
			}
		}
	}
}

// resume starts monitoring. The monitor refuses to start while it is held because haptics
// are disabled, paused or the system is suspended.
func (s *Service) resume(ctx context.Context) {
	s.logStartErr(s.monitor.Start(ctx))
}

// hold stops monitoring until release is called for the same reason. No haptic pulse is
// emitted once it returned.
func (s *Service) hold(ctx context.Context, reason string) {
	if err := s.monitor.Hold(ctx, reason); err != nil {
		s.logger.Error("failed to stop monitoring", slog.String("reason", reason), logger.Err(err))
	}
}

// release drops the hold for reason and starts monitoring if nothing else holds it.
func (s *Service) release(ctx context.Context, reason string) {
	s.logStartErr(s.monitor.Release(ctx, reason))
}

func (s *Service) logStartErr(err error) {
	switch {
	case err == nil:
	case errors.Is(err, proximity.ErrNoDestinations):
		s.logger.Debug("no destinations to monitor")
	case errors.Is(err, proximity.ErrMonitorHeld):
		s.logger.Debug("monitoring is on hold")
	default:
		s.logger.Error("failed to start monitoring", logger.Err(err))
	}
}

// logStatus writes the current monitor state to the log.
func (s *Service) logStatus(ctx context.Context) {
	status, err := s.monitor.Status(ctx)
	if err != nil {
		s.logger.Error("failed to query monitor status", logger.Err(err))
		return
	}
	attrs := []any{
		slog.Bool("monitoring", status.Monitoring), slog.Int("tracked", status.Tracked),
		slog.Bool("paused", slices.Contains(status.Holds, holdPaused)),
		slog.Bool("suspended", slices.Contains(status.Holds, holdSuspended)),
	}
	if fix := s.lastFix.Load(); fix != nil {
		attrs = append(attrs, slog.Float64("latitude", fix.Lat), slog.Float64("longitude", fix.Lon),
			slog.String("source", fix.Source), slog.Time("at", fix.At))
	}
	s.logger.Info("current monitoring status", attrs...)
}
