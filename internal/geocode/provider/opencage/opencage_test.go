// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

import (
	"errors"
	"log/slog"
	stdhttp "net/http"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/geocode"
	"github.com/wneessen/navinudge/internal/http"
	"github.com/wneessen/navinudge/internal/logger"
	"github.com/wneessen/navinudge/internal/testhelper"
)

const (
	cityExpected = "Quartier 205, Friedrichstrasse 67, 10117 Berlin, Germany"
	cityFile     = "../../../../testdata/opencage_berlin.json"
	emptyFile    = "../../../../testdata/opencage_empty.json"
	searchFile   = "../../../../testdata/opencage_search.json"
	testAPIKey   = "test-api-key"
	testHitTTL   = 1 * time.Second
	testMissTTL  = 1 * time.Second

	villageExpected = "Marshfield"
	villageFile     = "../../../../testdata/opencage_marshfield.json"

	townExpected = "Otley"
	townFile     = "../../../../testdata/opencage_otley.json"
)

var (
	cityCoords    = geobus.Coordinate{Lat: 52.5129, Lon: 13.3910}
	villageCoords = geobus.Coordinate{Lat: 51.46292, Lon: -2.31850}
	townCoords    = geobus.Coordinate{Lat: 53.90712, Lon: -1.69404}
)

func TestNew(t *testing.T) {
	t.Run("creating a new provider succeeds", func(t *testing.T) {
		coder := testCoder(t, nil)
		if coder == nil {
			t.Fatal("expected a non-nil geocoder")
		}
	})
	t.Run("provider name is correct", func(t *testing.T) {
		coder := testCoder(t, nil)
		if coder.Name() != name {
			t.Errorf("expected provider name to be %q, got %q", name, coder.Name())
		}
	})
}

func TestOpenCage_Reverse(t *testing.T) {
	t.Run("reverse geocoding succeeds", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			query := req.URL.Query()
			if query.Get("key") != testAPIKey {
				t.Errorf("expected API key to be %q, got %q", testAPIKey, query.Get("key"))
			}
			if query.Get("q") != "52.512900,13.391000" {
				t.Errorf("unexpected query: %s", query.Get("q"))
			}
			if query.Get("no_record") != "1" {
				t.Error("expected no_record to be set")
			}
			return fileResponse(t, cityFile), nil
		}
		coder := testCoder(t, rtFn)
		addr, err := coder.Reverse(t.Context(), cityCoords)
		if err != nil {
			t.Fatal(err)
		}
		if !addr.AddressFound {
			t.Fatal("expected address to be found")
		}
		if !strings.EqualFold(addr.DisplayName, cityExpected) {
			t.Errorf("expected address to be %q, got %q", cityExpected, addr.DisplayName)
		}
		if addr.City != "Berlin" {
			t.Errorf("expected city to be %q, got %q", "Berlin", addr.City)
		}
		if addr.ShortName() != "Friedrichstrasse 67" {
			t.Errorf("expected short name to be %q, got %q", "Friedrichstrasse 67", addr.ShortName())
		}
	})
	t.Run("reverse cached geocoding succeeds", func(t *testing.T) {
		calls := 0
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			calls++
			return fileResponse(t, cityFile), nil
		}
		coder := geocode.NewCachedGeocoder(testCoder(t, rtFn), testHitTTL, testMissTTL)
		for range 2 {
			if _, err := coder.Reverse(t.Context(), cityCoords); err != nil {
				t.Fatal(err)
			}
		}
		if calls != 1 {
			t.Errorf("expected 1 API call, got %d", calls)
		}
	})
	t.Run("reverse geocoding falls back to town or village as city", func(t *testing.T) {
		tests := []struct {
			name   string
			file   string
			coords geobus.Coordinate
			want   string
		}{
			{"town", townFile, townCoords, townExpected},
			{"village", villageFile, villageCoords, villageExpected},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
					return fileResponse(t, tc.file), nil
				}
				addr, err := testCoder(t, rtFn).Reverse(t.Context(), tc.coords)
				if err != nil {
					t.Fatal(err)
				}
				if addr.City != tc.want {
					t.Errorf("expected city to be %q, got %q", tc.want, addr.City)
				}
			})
		}
	})
	t.Run("reverse geocoding without results", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return fileResponse(t, emptyFile), nil
		}
		addr, err := testCoder(t, rtFn).Reverse(t.Context(), geobus.Coordinate{Lat: 0, Lon: -30})
		if err != nil {
			t.Fatal(err)
		}
		if addr.AddressFound {
			t.Error("expected address to be not found")
		}
	})
	t.Run("reverse geocoding fails", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return nil, errors.New("intentionally failing")
		}
		if _, err := testCoder(t, rtFn).Reverse(t.Context(), cityCoords); err == nil {
			t.Fatal("expected API request to fail")
		}
	})
}

func TestOpenCage_Search(t *testing.T) {
	t.Run("search returns all places", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if req.URL.Query().Get("limit") != "2" {
				t.Errorf("expected limit to be 2, got %s", req.URL.Query().Get("limit"))
			}
			return fileResponse(t, searchFile), nil
		}
		places, err := testCoder(t, rtFn).Search(t.Context(), "Brandenburger Tor", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(places) != 2 {
			t.Fatalf("expected 2 places, got %d", len(places))
		}
		if places[0].Name != "Brandenburger Tor" {
			t.Errorf("expected name to be %q, got %q", "Brandenburger Tor", places[0].Name)
		}
		if places[1].Name != "Brandenburger Tor station" {
			t.Errorf("expected name to be %q, got %q", "Brandenburger Tor station", places[1].Name)
		}
		if places[0].Coordinate.Lat != 52.5162746 || places[0].Coordinate.Lon != 13.3777041 {
			t.Errorf("unexpected coordinate: %+v", places[0].Coordinate)
		}
	})
	t.Run("search without results", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return fileResponse(t, emptyFile), nil
		}
		_, err := testCoder(t, rtFn).Search(t.Context(), "Atlantis", 0)
		if !errors.Is(err, geocode.ErrNoResults) {
			t.Errorf("expected error to be %s, got %v", geocode.ErrNoResults, err)
		}
	})
	t.Run("search fails on unauthorized API key", func(t *testing.T) {
		rtFn := func(req *stdhttp.Request) (*stdhttp.Response, error) {
			resp := fileResponse(t, emptyFile)
			resp.StatusCode = stdhttp.StatusUnauthorized
			return resp, nil
		}
		_, err := testCoder(t, rtFn).Search(t.Context(), "Brandenburger Tor", 0)
		if !errors.Is(err, http.ErrUnexpectedStatus) {
			t.Errorf("expected error to be %s, got %v", http.ErrUnexpectedStatus, err)
		}
	})
}

func testCoder(_ *testing.T, fn func(req *stdhttp.Request) (*stdhttp.Response, error)) geocode.Geocoder {
	testHttpClient := http.New(logger.New(slog.LevelDebug))
	if fn != nil {
		testHttpClient.Transport = testhelper.MockRoundTripper{Fn: fn}
	}
	return New(testHttpClient, language.English, testAPIKey)
}

func fileResponse(t *testing.T, file string) *stdhttp.Response {
	t.Helper()
	data, err := os.Open(file)
	if err != nil {
		t.Fatalf("failed to open JSON response file: %s", err)
	}
	return &stdhttp.Response{
		StatusCode: 200,
		Body:       data,
		Header:     make(stdhttp.Header),
	}
}
