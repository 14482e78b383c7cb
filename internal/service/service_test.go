// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"testing/synctest"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wneessen/navinudge/internal/config"
	"github.com/wneessen/navinudge/internal/destination"
	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/i18n"
	"github.com/wneessen/navinudge/internal/logger"
)

var coordHome = geobus.Coordinate{Lat: 52.520008, Lon: 13.404954}

func TestNew(t *testing.T) {
	t.Run("new service succeeds", func(t *testing.T) {
		if _, _, err := testService(t); err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
	})
	t.Run("new service without logger fails", func(t *testing.T) {
		conf, err := config.New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		loc, err := i18n.New(conf.Language())
		if err != nil {
			t.Fatalf("failed to create localizer: %s", err)
		}
		if _, err = New(conf, nil, loc); err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
	t.Run("new service without localizer fails", func(t *testing.T) {
		conf, err := config.New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if _, err = New(conf, logger.NewLogger(slog.LevelInfo, bytes.NewBuffer(nil)), nil); err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
}

func TestNewGeocoder(t *testing.T) {
	tests := []struct {
		name     string
		env      []string
		wantName string
		wantFail bool
	}{
		{"osm-nominatim", []string{"NAVINUDGE_GEOCODER_PROVIDER=nominatim"}, "osm-nominatim", false},
		{"opencage without api-key", []string{"NAVINUDGE_GEOCODER_PROVIDER=opencage"}, "", true},
		{
			"opencage with api-key",
			[]string{"NAVINUDGE_GEOCODER_PROVIDER=opencage", "NAVINUDGE_GEOCODER_APIKEY=abc"},
			"opencage", false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, envVars := range tc.env {
				key, val, found := strings.Cut(envVars, "=")
				if !found {
					t.Fatalf("invalid env var %q", envVars)
				}
				t.Setenv(key, val)
			}
			conf, err := config.New()
			if err != nil {
				t.Fatalf("failed to load config: %s", err)
			}
			coder, err := NewGeocoder(conf, logger.NewLogger(slog.LevelInfo, bytes.NewBuffer(nil)))
			if tc.wantFail {
				if err == nil {
					t.Fatal("expected geocoder selection to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to select geocoder: %s", err)
			}
			if !strings.Contains(coder.Name(), tc.wantName) {
				t.Errorf("expected geocoder name to contain %q, got %q", tc.wantName, coder.Name())
			}
		})
	}
	t.Run("unsupported provider", func(t *testing.T) {
		conf, err := config.New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		conf.GeoCoder.Provider = "invalid"
		if _, err = NewGeocoder(conf, logger.NewLogger(slog.LevelInfo, bytes.NewBuffer(nil))); err == nil {
			t.Fatal("expected geocoder selection to fail")
		}
	})
}

func TestService_selectGeobusProviders(t *testing.T) {
	t.Run("all providers enabled", func(t *testing.T) {
		serv, _, err := testService(t)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		providers, err := serv.selectGeobusProviders()
		if err != nil {
			t.Fatalf("failed to select providers: %s", err)
		}
		if len(providers) != 3 {
			t.Errorf("expected 3 providers, got %d", len(providers))
		}
	})
	t.Run("no providers enabled", func(t *testing.T) {
		serv, _, err := testService(t)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		serv.config.GeoLocation.DisableGPSD = true
		serv.config.GeoLocation.DisableGeolocationFile = true
		serv.config.GeoLocation.DisableICHNAEA = true
		if _, err = serv.selectGeobusProviders(); err == nil {
			t.Fatal("expected provider selection to fail")
		}
	})
}

func TestService_Run(t *testing.T) {
	t.Run("start the service and gracefully shut it down", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, _, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			run := runService(t, serv)
			if err = run.stop(); err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
	t.Run("starting service fails without geolocation providers", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, _, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.providers = nil
			serv.config.GeoLocation.DisableGPSD = true
			serv.config.GeoLocation.DisableGeolocationFile = true
			serv.config.GeoLocation.DisableICHNAEA = true
			err = serv.Run(t.Context())
			wantErr := "failed to create geobus orchestrator: no geolocation providers enabled"
			if err == nil || !strings.Contains(err.Error(), wantErr) {
				t.Errorf("expected error to contain %q, got %v", wantErr, err)
			}
		})
	})
	t.Run("starting service fails with a broken destination file", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, _, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			if err = os.WriteFile(serv.config.Destinations.File, []byte("{"), 0o600); err != nil {
				t.Fatalf("failed to write destination file: %s", err)
			}
			err = serv.Run(t.Context())
			if err == nil || !strings.Contains(err.Error(), "failed to load destinations") {
				t.Errorf("expected destination loading to fail, got %v", err)
			}
		})
	})
	t.Run("starting service fails with an invalid reload interval", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, _, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.config.Intervals.Reload = 0
			err = serv.Run(t.Context())
			if err == nil || !strings.Contains(err.Error(), "failed to create "+reloadJobName) {
				t.Errorf("expected job creation to fail, got %v", err)
			}
		})
	})
	t.Run("starting service fails with an unknown haptic sink", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, _, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			serv.sink = nil
			serv.config.Haptics.Sinks = []string{"vibrator"}
			err = serv.Run(t.Context())
			if err == nil || !strings.Contains(err.Error(), "failed to create haptic sinks") {
				t.Errorf("expected sink creation to fail, got %v", err)
			}
		})
	})
}

func TestService_proximity(t *testing.T) {
	t.Run("arriving at a destination triggers once", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, provider, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			addDestination(t, serv, "Home", coordHome)
			run := runService(t, serv)

			provider.report(t, northOf(coordHome, 500), 5)
			provider.report(t, northOf(coordHome, 20), 5)
			provider.report(t, coordHome, 5)
			if got := run.sink.triggers.Load(); got != 1 {
				t.Errorf("expected 1 trigger, got %d", got)
			}

			provider.report(t, northOf(coordHome, 1000), 5)
			provider.report(t, coordHome, 5)
			if got := run.sink.triggers.Load(); got != 2 {
				t.Errorf("expected 2 triggers after leaving and returning, got %d", got)
			}
			count, err := testutil.GatherAndCount(serv.metrics.Registry(), "navinudge_triggers_total")
			if err != nil || count != 1 {
				t.Errorf("expected trigger metric to be exported, got %d, %v", count, err)
			}
			if err = run.stop(); err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
	t.Run("inaccurate fixes are dropped", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, provider, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			addDestination(t, serv, "Home", coordHome)
			run := runService(t, serv)

			provider.report(t, coordHome, serv.config.Proximity.MaxFixAccuracy+1)
			if got := run.sink.triggers.Load(); got != 0 {
				t.Errorf("expected no trigger for an inaccurate fix, got %d", got)
			}
			count, err := testutil.GatherAndCount(serv.metrics.Registry(), "navinudge_data_quality_events_total")
			if err != nil || count != 1 {
				t.Errorf("expected 1 data quality series, got %d, %v", count, err)
			}
			if err = run.stop(); err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
	t.Run("disabled haptics never trigger", func(t *testing.T) {
		t.Setenv("NAVINUDGE_HAPTICS_DISABLED", "true")
		synctest.Test(t, func(t *testing.T) {
			serv, provider, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			addDestination(t, serv, "Home", coordHome)
			run := runService(t, serv)

			provider.report(t, coordHome, 5)
			if got := run.sink.triggers.Load(); got != 0 {
				t.Errorf("expected no trigger, got %d", got)
			}
			if err = run.stop(); err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
	t.Run("destinations added while running are monitored", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, provider, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			run := runService(t, serv)

			provider.report(t, northOf(coordHome, 500), 5)
			if _, err = serv.store.Add("Home", "", coordHome, -1); err != nil {
				t.Fatalf("failed to add destination: %s", err)
			}
			synctest.Wait()
			provider.report(t, coordHome, 5)
			if got := run.sink.triggers.Load(); got != 1 {
				t.Errorf("expected 1 trigger, got %d", got)
			}
			if err = run.stop(); err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
	t.Run("destinations written by other processes are reloaded", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, provider, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			run := runService(t, serv)

			addDestination(t, serv, "Home", coordHome)
			serv.reloadDestinations(t.Context())
			synctest.Wait()
			status, err := serv.monitor.Status(t.Context())
			if err != nil {
				t.Fatalf("failed to query status: %s", err)
			}
			if !status.Monitoring || status.Tracked != 1 {
				t.Errorf("expected monitoring of 1 destination, got %+v", status)
			}
			provider.report(t, coordHome, 5)
			if got := run.sink.triggers.Load(); got != 1 {
				t.Errorf("expected 1 trigger, got %d", got)
			}
			if err = run.stop(); err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
}

func TestService_sleepResume(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		serv, provider, err := testService(t)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		addDestination(t, serv, "Home", coordHome)
		run := runService(t, serv)

		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []interface{}{true}})
		provider.report(t, coordHome, 5)
		if got := run.sink.triggers.Load(); got != 0 {
			t.Errorf("expected no trigger while suspended, got %d", got)
		}

		time.Sleep(time.Minute)
		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []interface{}{"invalid"}})
		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []interface{}{false}})
		provider.report(t, northOf(coordHome, 20), 5)
		if got := run.sink.triggers.Load(); got != 1 {
			t.Errorf("expected 1 trigger after resume, got %d", got)
		}

		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []interface{}{true}})
		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []interface{}{false}})
		if !isHeld(t, serv, holdSuspended) {
			t.Error("expected a resume right after the previous one to be ignored")
		}
		time.Sleep(resumeDebounce)
		serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []interface{}{false}})
		if isHeld(t, serv, holdSuspended) {
			t.Error("expected service to resume after the debounce window")
		}
		if err = run.stop(); err != nil {
			t.Errorf("failed to run service: %s", err)
		}
	})
}

func TestService_HandleSignals(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		serv, provider, err := testService(t)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
		serv.logger = logger.NewLogger(slog.LevelInfo, buf)
		addDestination(t, serv, "Home", coordHome)
		run := runService(t, serv)

		sigChan := make(chan os.Signal, 1)
		go serv.HandleSignals(t.Context(), sigChan)

		sigChan <- syscall.SIGUSR1
		synctest.Wait()
		provider.report(t, coordHome, 5)
		if got := run.sink.triggers.Load(); got != 0 {
			t.Errorf("expected no trigger while paused, got %d", got)
		}
		if !strings.Contains(buf.String(), "haptic alerts paused") {
			t.Errorf("expected pause in log output, got %q", buf.String())
		}

		sigChan <- syscall.SIGUSR1
		synctest.Wait()
		provider.report(t, northOf(coordHome, 20), 5)
		if got := run.sink.triggers.Load(); got != 1 {
			t.Errorf("expected 1 trigger after unpausing, got %d", got)
		}

		sigChan <- syscall.SIGUSR2
		synctest.Wait()
		wantLog := `msg="current monitoring status" monitoring=true tracked=1 paused=false`
		if !strings.Contains(buf.String(), wantLog) {
			t.Errorf("expected log to contain %q, got %q", wantLog, buf.String())
		}
		if err = run.stop(); err != nil {
			t.Errorf("failed to run service: %s", err)
		}
	})
}

func TestService_HandleSignals_beforeRun(t *testing.T) {
	t.Run("pause requested before run is applied once running", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, provider, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
			serv.logger = logger.NewLogger(slog.LevelInfo, buf)
			addDestination(t, serv, "Home", coordHome)

			sigChan := make(chan os.Signal, 1)
			go serv.HandleSignals(t.Context(), sigChan)
			sigChan <- syscall.SIGUSR1
			synctest.Wait()
			sigChan <- syscall.SIGUSR2
			synctest.Wait()
			if strings.Contains(buf.String(), "current monitoring status") {
				t.Errorf("expected status to wait for the service, got %q", buf.String())
			}

			run := runService(t, serv)
			provider.report(t, coordHome, 5)
			if got := run.sink.triggers.Load(); got != 0 {
				t.Errorf("expected no trigger while paused, got %d", got)
			}
			wantLog := `paused=true suspended=false`
			if !strings.Contains(buf.String(), wantLog) {
				t.Errorf("expected log to contain %q, got %q", wantLog, buf.String())
			}

			sigChan <- syscall.SIGUSR1
			synctest.Wait()
			provider.report(t, northOf(coordHome, 20), 5)
			if got := run.sink.triggers.Load(); got != 1 {
				t.Errorf("expected 1 trigger after unpausing, got %d", got)
			}
			if err = run.stop(); err != nil {
				t.Errorf("failed to run service: %s", err)
			}
		})
	})
	t.Run("requests before run do not block shutdown of an unstarted service", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			serv, _, err := testService(t)
			if err != nil {
				t.Fatalf("failed to create service: %s", err)
			}
			ctx, cancel := context.WithCancel(t.Context())
			sigChan := make(chan os.Signal, 1)
			done := make(chan struct{})
			go func() {
				defer close(done)
				serv.HandleSignals(ctx, sigChan)
			}()
			sigChan <- syscall.SIGUSR2
			synctest.Wait()
			cancel()
			<-done
		})
	})
}

// isHeld reports whether monitoring is held for reason.
func isHeld(t *testing.T, serv *Service, reason string) bool {
	t.Helper()
	status, err := serv.monitor.Status(t.Context())
	if err != nil {
		t.Fatalf("failed to query status: %s", err)
	}
	return slices.Contains(status.Holds, reason)
}

type (
	fakeProvider struct {
		results chan geobus.Result
	}
	countingSink struct {
		triggers atomic.Int32
		prepares atomic.Int32
	}
	runningService struct {
		sink   *countingSink
		cancel context.CancelFunc
		errCh  chan error
	}
	syncBuffer struct {
		mu  sync.Mutex
		buf *bytes.Buffer
	}
)

func testService(t *testing.T) (*Service, *fakeProvider, error) {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	dir := t.TempDir()
	conf.Destinations.File = filepath.Join(dir, "destinations.json")
	conf.GeoLocation.File = filepath.Join(dir, "geolocation")

	loc, err := i18n.New(conf.Language())
	if err != nil {
		return nil, nil, err
	}
	serv, err := New(conf, logger.NewLogger(slog.LevelInfo, bytes.NewBuffer(nil)), loc)
	if err != nil {
		return nil, nil, err
	}
	provider := &fakeProvider{results: make(chan geobus.Result)}
	serv.providers = []geobus.Provider{provider}
	serv.sink = &countingSink{}
	serv.sleepMonitor = nil
	return serv, provider, nil
}

// runService starts the service and waits until the initial destinations are synced.
func runService(t *testing.T, serv *Service) *runningService {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	run := &runningService{sink: serv.sink.(*countingSink), cancel: cancel, errCh: make(chan error, 1)}
	go func() {
		run.errCh <- serv.Run(ctx)
	}()
	synctest.Wait()
	return run
}

func (r *runningService) stop() error {
	r.cancel()
	return <-r.errCh
}

// addDestination writes a destination to the file like a separate CLI invocation would.
func addDestination(t *testing.T, serv *Service, name string, coord geobus.Coordinate) {
	t.Helper()
	store := destination.NewStore(serv.config.Destinations.File, serv.logger)
	if err := store.Load(); err != nil {
		t.Fatalf("failed to load destinations: %s", err)
	}
	if _, err := store.Add(name, "", coord, -1); err != nil {
		t.Fatalf("failed to add destination: %s", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("failed to save destinations: %s", err)
	}
}

func northOf(base geobus.Coordinate, meters float64) geobus.Coordinate {
	return geobus.Coordinate{Lat: base.Lat + meters/geobus.EarthRadius*180/math.Pi, Lon: base.Lon}
}

func (p *fakeProvider) Name() string {
	return "fake"
}

func (p *fakeProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-p.results:
				r.Key = key
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// report publishes a fix and waits until it went through the service.
func (p *fakeProvider) report(t *testing.T, coord geobus.Coordinate, accuracy float64) {
	t.Helper()
	p.results <- geobus.Result{
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: accuracy,
		Source:         p.Name(),
		At:             time.Now(),
		TTL:            time.Minute,
	}
	synctest.Wait()
}

func (s *countingSink) Trigger() { s.triggers.Add(1) }
func (s *countingSink) Prepare() { s.prepares.Add(1) }

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
