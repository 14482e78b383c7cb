// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package mapsurl builds navigation links for map applications and extracts locations from
// shared map links.
package mapsurl

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wneessen/navinudge/internal/geobus"
)

const (
	appleMapsURL  = "https://maps.apple.com/"
	googleMapsURL = "https://www.google.com/maps/dir/"

	// CurrentLocation is the placeholder map apps resolve to the position of the device.
	CurrentLocation = "Current Location"
	// DefaultName is the name of a parsed location that carries no label.
	DefaultName = "Pinned Location"
)

var (
	ErrUnsupportedURL = errors.New("unsupported maps URL")
	ErrNoLocation     = errors.New("maps URL does not contain a location")
	ErrUnknownApp     = errors.New("unknown maps app")
	ErrUnknownMode    = errors.New("unknown transport mode")
)

// TransportMode is the means of travel, using the Apple Maps dirflg values.
type TransportMode string

const (
	Driving TransportMode = "d"
	Walking TransportMode = "w"
	Transit TransportMode = "r"
	Biking  TransportMode = "b"
)

// ParseTransportMode accepts the dirflg letter or the spelled out mode.
func ParseTransportMode(val string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "d", "drive", "driving", "car":
		return Driving, nil
	case "w", "walk", "walking":
		return Walking, nil
	case "r", "transit", "public":
		return Transit, nil
	case "b", "bike", "biking", "cycling":
		return Biking, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, val)
	}
}

// GoogleMode returns the travelmode value Google Maps expects.
func (m TransportMode) GoogleMode() string {
	switch m {
	case Walking:
		return "walking"
	case Transit:
		return "transit"
	case Biking:
		return "bicycling"
	default:
		return "driving"
	}
}

// App is a map application that can open navigation links.
type App string

const (
	AppApple  App = "apple"
	AppGoogle App = "google"
)

// ParseApp returns the App for val.
func ParseApp(val string) (App, error) {
	switch App(strings.ToLower(strings.TrimSpace(val))) {
	case AppApple:
		return AppApple, nil
	case AppGoogle:
		return AppGoogle, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownApp, val)
	}
}

// Endpoint is either end of a route. It is a saved coordinate or the current location of
// the device, which may or may not be known.
type Endpoint struct {
	Coordinate geobus.Coordinate
	Current    bool
	Located    bool
}

// Here returns the current location as endpoint. A nil coord means the position is not
// known and the map app has to determine it.
func Here(coord *geobus.Coordinate) Endpoint {
	if coord == nil {
		return Endpoint{Current: true}
	}
	return Endpoint{Coordinate: *coord, Current: true, Located: true}
}

// At returns an endpoint for a saved coordinate.
func At(coord geobus.Coordinate) Endpoint {
	return Endpoint{Coordinate: coord, Located: true}
}

func (e Endpoint) String() string {
	if !e.Located {
		return CurrentLocation
	}
	return formatCoordinate(e.Coordinate)
}

// Build returns a navigation link from one endpoint to another for the given app.
func Build(app App, from, to Endpoint, mode TransportMode) (string, error) {
	if mode == "" {
		mode = Driving
	}
	switch app {
	case AppApple:
		query := url.Values{}
		query.Set("saddr", from.String())
		query.Set("daddr", to.String())
		query.Set("dirflg", string(mode))
		return appleMapsURL + "?" + query.Encode(), nil
	case AppGoogle:
		query := url.Values{}
		query.Set("api", "1")
		// Google Maps starts at the device location when no origin is given
		if from.Located {
			query.Set("origin", from.String())
		}
		if !to.Located {
			return "", fmt.Errorf("google maps needs a known destination: %w", ErrNoLocation)
		}
		query.Set("destination", to.String())
		query.Set("travelmode", mode.GoogleMode())
		return googleMapsURL + "?" + query.Encode(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownApp, app)
	}
}

// Location is a named coordinate extracted from a maps link.
type Location struct {
	Name       string
	Coordinate geobus.Coordinate
}

// Parse extracts a location from an Apple Maps link or a geo: URI.
func Parse(raw string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("failed to parse maps URL: %w", err)
	}
	switch {
	case strings.EqualFold(u.Scheme, "geo"):
		return parseGeo(u)
	case strings.Contains(strings.ToLower(u.Host), "maps.apple.com"):
		return parseAppleMaps(u)
	default:
		return Location{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, raw)
	}
}

func parseAppleMaps(u *url.URL) (Location, error) {
	query := u.Query()
	// Shared links sometimes carry their parameters in the fragment
	if len(query) == 0 && u.Fragment != "" {
		frag, err := url.ParseQuery(u.Fragment)
		if err == nil {
			query = frag
		}
	}

	name := DefaultName
	for _, key := range []string{"q", "address"} {
		if val := strings.TrimSpace(query.Get(key)); val != "" {
			name = val
			break
		}
	}
	for _, key := range []string{"ll", "daddr"} {
		coord, ok := parseLatLon(query.Get(key))
		if ok {
			return Location{Name: name, Coordinate: coord}, nil
		}
	}
	return Location{}, ErrNoLocation
}

// parseGeo handles RFC 5870 URIs like geo:52.52,13.40;u=35?q=Name
func parseGeo(u *url.URL) (Location, error) {
	path := u.Opaque
	if path == "" {
		path = strings.TrimPrefix(u.Path, "//")
	}
	path, _, _ = strings.Cut(path, ";")
	coord, ok := parseLatLon(path)
	if !ok {
		return Location{}, ErrNoLocation
	}
	name := DefaultName
	if val := strings.TrimSpace(u.Query().Get("q")); val != "" {
		name = val
	}
	return Location{Name: name, Coordinate: coord}, nil
}

func parseLatLon(val string) (geobus.Coordinate, bool) {
	val = strings.ReplaceAll(val, " ", "")
	latVal, lonVal, found := strings.Cut(val, ",")
	if !found {
		return geobus.Coordinate{}, false
	}
	// geo: URIs may carry an altitude as third value
	lonVal, _, _ = strings.Cut(lonVal, ",")
	lat, err := strconv.ParseFloat(latVal, 64)
	if err != nil {
		return geobus.Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(lonVal, 64)
	if err != nil {
		return geobus.Coordinate{}, false
	}
	coord := geobus.Coordinate{Lat: lat, Lon: lon}
	return coord, coord.Valid()
}

func formatCoordinate(c geobus.Coordinate) string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}
