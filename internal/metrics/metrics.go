// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics exposes the decisions of the proximity engine as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wneessen/navinudge/internal/logger"
)

const (
	metricPrefix = "navinudge_"

	kindInvalidFix         = "invalid_fix"
	kindInvalidDestination = "invalid_destination"
	kindInaccurateFix      = "inaccurate_fix"

	shutdownTimeout = time.Second * 5
)

// Recorder implements proximity.Observer on top of its own Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	fixes       prometheus.Counter
	triggers    prometheus.Counter
	rearms      prometheus.Counter
	dataQuality *prometheus.CounterVec
	tracked     prometheus.Gauge
}

// New returns a Recorder with all metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fixes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "fixes_evaluated_total",
			Help: "Total position fixes evaluated against the destinations",
		}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "triggers_total",
			Help: "Total haptic triggers",
		}),
		rearms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "rearms_total",
			Help: "Total destinations rearmed after leaving the exit radius",
		}),
		dataQuality: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "data_quality_events_total",
			Help: "Total skipped inputs by kind",
		}, []string{"kind"}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "tracked_destinations",
			Help: "Number of destinations currently tracked",
		}),
	}
	r.registry.MustRegister(r.fixes, r.triggers, r.rearms, r.dataQuality, r.tracked)
	return r
}

// FixEvaluated counts a fix that went through the engine.
func (r *Recorder) FixEvaluated() {
	r.fixes.Inc()
}

// Triggered counts a haptic trigger.
func (r *Recorder) Triggered(string) {
	r.triggers.Inc()
}

// Rearmed counts a destination that was rearmed.
func (r *Recorder) Rearmed(string) {
	r.rearms.Inc()
}

// InvalidDestination counts a destination with an unusable coordinate.
func (r *Recorder) InvalidDestination(string) {
	r.dataQuality.WithLabelValues(kindInvalidDestination).Inc()
}

// InvalidFix counts a fix with an unusable coordinate.
func (r *Recorder) InvalidFix() {
	r.dataQuality.WithLabelValues(kindInvalidFix).Inc()
}

// InaccurateFix counts a fix dropped for its reported accuracy before reaching the engine.
func (r *Recorder) InaccurateFix() {
	r.dataQuality.WithLabelValues(kindInaccurateFix).Inc()
}

// Tracked sets the number of tracked destinations.
func (r *Recorder) Tracked(count int) {
	r.tracked.Set(float64(count))
}

// Registry returns the registry all metrics of the Recorder are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns the HTTP handler serving the metrics of the Recorder.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes the metrics on addr until ctx is canceled.
func (r *Recorder) Serve(ctx context.Context, addr string, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 5,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("serving metrics", slog.String("addr", addr))
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		return nil
	}
}
