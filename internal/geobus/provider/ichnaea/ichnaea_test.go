// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/http"
	"github.com/wneessen/navinudge/internal/logger"
	"github.com/wneessen/navinudge/internal/testhelper"
)

const (
	testFile = "../../../../testdata/beacondb.json"
	testLat  = 51.5
	testLon  = 7.25
	testAcc  = 35
)

func TestNewGeolocationICHNAEAProvider(t *testing.T) {
	t.Run("new ICHNAEA provider succeeds", func(t *testing.T) {
		provider, err := NewGeolocationICHNAEAProvider(http.New(logger.New(slog.LevelInfo)))
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		if provider == nil {
			t.Fatal("expected provider to be non-nil")
		}
	})
	t.Run("ICHNAEA without http client fails ", func(t *testing.T) {
		provider, err := NewGeolocationICHNAEAProvider(nil)
		if err == nil {
			t.Fatal("expected provider to fail")
		}
		if provider != nil {
			t.Fatal("expected provider to be nil")
		}
	})
}

func TestGeolocationICHNAEAProvider_Name(t *testing.T) {
	provider := testProvider(t, nil)
	if !strings.EqualFold(provider.Name(), name) {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestGeolocationICHNAEAProvider_locate(t *testing.T) {
	t.Run("locate succeeds and sends the known access points", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			var body struct {
				ConsiderIP   bool              `json:"considerIp"`
				Accesspoints []WirelessNetwork `json:"wifiAccessPoints"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode request body: %s", err)
			}
			if !body.ConsiderIP {
				t.Error("expected considerIp to be true")
			}
			if len(body.Accesspoints) != 1 || body.Accesspoints[0].MACAddress != "00:11:22:33:44:55" {
				t.Errorf("unexpected access points in request: %+v", body.Accesspoints)
			}
			if req.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON content type, got %s", req.Header.Get("Content-Type"))
			}
			return jsonFileResponse(t), nil
		}
		provider := testProvider(t, rtFn)
		provider.aps = []WirelessNetwork{{MACAddress: "00:11:22:33:44:55", SignalStrength: -60}}

		lat, lon, acc, err := provider.locate(t.Context())
		if err != nil {
			t.Fatalf("failed to locate coordinates via ICHNAEA: %s", err)
		}
		if lat != testLat {
			t.Errorf("expected latitude to be %f, got %f", testLat, lat)
		}
		if lon != testLon {
			t.Errorf("expected longitude to be %f, got %f", testLon, lon)
		}
		if acc != testAcc {
			t.Errorf("expected accuracy to be %d, got %f", testAcc, acc)
		}
	})
	t.Run("locate fails with broken JSON", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return &stdhttp.Response{
				StatusCode: 200,
				Body:       io.NopCloser(strings.NewReader("NOT_JSON")),
				Header:     make(stdhttp.Header),
			}, nil
		}
		provider := testProvider(t, rtFn)
		if _, _, _, err := provider.locate(t.Context()); err == nil {
			t.Fatal("expected locate to fail")
		}
	})
	t.Run("locate fails on API error", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return &stdhttp.Response{
				StatusCode: 404,
				Body:       io.NopCloser(strings.NewReader(`{"error":{"code":404}}`)),
				Header:     make(stdhttp.Header),
			}, nil
		}
		provider := testProvider(t, rtFn)
		_, _, _, err := provider.locate(t.Context())
		if !errors.Is(err, http.ErrUnexpectedStatus) {
			t.Errorf("expected error to be %s, got %v", http.ErrUnexpectedStatus, err)
		}
	})
}

func TestGeolocationICHNAEAProvider_LookupStream(t *testing.T) {
	t.Run("lookup stream succeeds", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := testProvider(t, func(req *stdhttp.Request) (*stdhttp.Response, error) {
				return jsonFileResponse(t), nil
			})
			provider.scanFn = nil
			provider.period = time.Millisecond * 10

			out := provider.LookupStream(ctx, "test")
			result := <-out
			cancel()
			synctest.Wait()

			if result.Key != "test" {
				t.Errorf("expected key to be %s, got %s", "test", result.Key)
			}
			if result.Lat != testLat {
				t.Errorf("expected latitude to be %f, got %f", testLat, result.Lat)
			}
			if result.Lon != testLon {
				t.Errorf("expected longitude to be %f, got %f", testLon, result.Lon)
			}
			if result.AccuracyMeters != testAcc {
				t.Errorf("expected accuracy to be %d, got %f", testAcc, result.AccuracyMeters)
			}
			if result.Source != provider.Name() {
				t.Errorf("expected source to be %s, got %s", provider.Name(), result.Source)
			}
		})
	})
	t.Run("lookup stream fails during lookup", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			runCount := 0
			provider := testProvider(t, nil)
			provider.scanFn = nil
			provider.period = time.Millisecond * 10
			provider.locateFn = func(ctx context.Context) (float64, float64, float64, error) {
				if runCount == 0 {
					runCount++
					return 0, 0, 0, errors.New("intentionally failing")
				}
				return 1.0, 2.0, 3.0, nil
			}

			out := provider.LookupStream(ctx, "test")
			var result geobus.Result
			select {
			case result = <-out:
				cancel()
			case <-ctx.Done():
				t.Fatalf("context done before result: %v", ctx.Err())
			}
			synctest.Wait()

			if result.Lat != 1.0 {
				t.Errorf("expected latitude to be %f, got %f", 1.0, result.Lat)
			}
			if result.Lon != 2.0 {
				t.Errorf("expected longitude to be %f, got %f", 2.0, result.Lon)
			}
			if result.AccuracyMeters != 3.0 {
				t.Errorf("expected accuracy to be %f, got %f", 3.0, result.AccuracyMeters)
			}
		})
	})
}

func TestGeolocationICHNAEAProvider_createResult(t *testing.T) {
	provider := testProvider(t, nil)
	result := provider.createResult("test", geobus.Coordinate{Lat: testLat, Lon: testLon, Acc: geobus.AccuracyWiFi})
	if result.Lat != testLat {
		t.Errorf("expected latitude to be %f, got %f", testLat, result.Lat)
	}
	if result.Lon != testLon {
		t.Errorf("expected longitude to be %f, got %f", testLon, result.Lon)
	}
	if result.Key != "test" {
		t.Errorf("expected key to be %s, got %s", "test", result.Key)
	}
	if result.AccuracyMeters != geobus.AccuracyWiFi {
		t.Errorf("expected accuracy to be %d, got %f", geobus.AccuracyWiFi, result.AccuracyMeters)
	}
	if result.Source != provider.Name() {
		t.Errorf("expected source to be %s, got %s", provider.Name(), result.Source)
	}
	if result.TTL != provider.ttl {
		t.Errorf("expected TTL to be %d, got %d", provider.ttl, result.TTL)
	}
}

func TestGeolocationICHNAEAProvider_monitorWifiAccessPoints(t *testing.T) {
	t.Run("scanned access points are stored", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			scans := 0
			provider := testProvider(t, nil)
			provider.scanFn = func() ([]WirelessNetwork, error) {
				scans++
				if scans == 2 {
					return nil, errors.New("intentionally failing")
				}
				return []WirelessNetwork{{MACAddress: "00:11:22:33:44:55"}}, nil
			}
			go provider.monitorWifiAccessPoints(ctx)
			synctest.Wait()

			provider.apLock.RLock()
			count := len(provider.aps)
			provider.apLock.RUnlock()
			if count != 1 {
				t.Errorf("expected 1 access point, got %d", count)
			}

			time.Sleep(wifiScanTime + time.Millisecond)
			synctest.Wait()
			provider.apLock.RLock()
			count = len(provider.aps)
			provider.apLock.RUnlock()
			if count != 1 {
				t.Errorf("expected failed scan to keep the previous list, got %d entries", count)
			}
			cancel()
			synctest.Wait()
			if scans != 2 {
				t.Errorf("expected 2 scans, got %d", scans)
			}
		})
	})
}

func testProvider(t *testing.T, rtFn func(*stdhttp.Request) (*stdhttp.Response, error)) *GeolocationICHNAEAProvider {
	t.Helper()
	client := http.New(logger.NewLogger(slog.LevelInfo, io.Discard))
	if rtFn != nil {
		client.Transport = testhelper.MockRoundTripper{Fn: rtFn}
	}
	provider, err := NewGeolocationICHNAEAProvider(client)
	if err != nil {
		t.Fatalf("failed to create ICHNAEA provider: %s", err)
	}
	return provider
}

func jsonFileResponse(t *testing.T) *stdhttp.Response {
	t.Helper()
	data, err := os.Open(testFile)
	if err != nil {
		t.Fatalf("failed to open JSON response file: %s", err)
	}
	return &stdhttp.Response{
		StatusCode: 200,
		Body:       data,
		Header:     make(stdhttp.Header),
	}
}
