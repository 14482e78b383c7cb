// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/wneessen/navinudge/internal/geobus"
)

// DefaultSearchLimit is the number of places a search returns when no limit is given.
const DefaultSearchLimit = 5

// ErrNoResults is returned by Search when the query did not match any place.
var ErrNoResults = errors.New("no places found")

// Address is the result of a reverse lookup.
type Address struct {
	AddressFound bool
	CacheHit     bool
	Latitude     float64
	Longitude    float64
	DisplayName  string
	Country      string
	State        string
	Postcode     string
	City         string
	Suburb       string
	Street       string
	HouseNumber  string
}

// Place is a single search suggestion.
type Place struct {
	Name        string
	DisplayName string
	Category    string
	Coordinate  geobus.Coordinate
}

// Geocoder resolves coordinates to addresses and free text queries to places.
type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, coords geobus.Coordinate) (Address, error)
	Search(ctx context.Context, query string, limit int) ([]Place, error)
}

// ShortName returns a short human readable label for the address, suitable as a
// destination name.
func (a Address) ShortName() string {
	switch {
	case a.Street != "" && a.HouseNumber != "":
		return a.Street + " " + a.HouseNumber
	case a.Street != "":
		return a.Street
	case a.Suburb != "":
		return a.Suburb
	case a.City != "":
		return a.City
	}
	return firstSegment(a.DisplayName)
}

// firstSegment returns the first comma separated part of a formatted address.
func firstSegment(display string) string {
	name, _, _ := strings.Cut(display, ",")
	return strings.TrimSpace(name)
}

// PlaceName returns name if set, otherwise the first segment of display.
func PlaceName(name, display string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return firstSegment(display)
}
