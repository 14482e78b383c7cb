// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package destination keeps the user's ordered list of saved destinations and persists it
// as JSON.
package destination

import (
	"errors"
	"strings"

	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/proximity"
)

const (
	// DefaultIcon is used for destinations without an explicit icon.
	DefaultIcon = "mappin"
	// minPrefixLen is the shortest id prefix accepted as a reference to a destination.
	minPrefixLen = 4
)

var (
	ErrNotFound          = errors.New("destination not found")
	ErrAmbiguous         = errors.New("destination reference is ambiguous")
	ErrInvalidCoordinate = errors.New("invalid destination coordinate")
	ErrEmptyName         = errors.New("destination name must not be empty")
)

// Destination is a saved place the user wants to be alerted about.
type Destination struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Icon      string  `json:"icon"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinate returns the position of the destination.
func (d Destination) Coordinate() geobus.Coordinate {
	return geobus.Coordinate{Lat: d.Latitude, Lon: d.Longitude}
}

func (d Destination) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyName
	}
	if !d.Coordinate().Valid() {
		return ErrInvalidCoordinate
	}
	return nil
}

// Targets converts a list of destinations into the targets tracked by the proximity engine.
func Targets(dests []Destination) []proximity.Target {
	targets := make([]proximity.Target, 0, len(dests))
	for _, dest := range dests {
		targets = append(targets, proximity.Target{ID: dest.ID, Coordinate: dest.Coordinate()})
	}
	return targets
}

// find resolves ref to an index in dests. A reference is matched against the full id, a
// case-insensitive name, and finally a unique id prefix.
func find(dests []Destination, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, ErrNotFound
	}
	for i, dest := range dests {
		if dest.ID == ref {
			return i, nil
		}
	}

	lookup := func(match func(Destination) bool) (int, error) {
		found := -1
		for i, dest := range dests {
			if !match(dest) {
				continue
			}
			if found != -1 {
				return -1, ErrAmbiguous
			}
			found = i
		}
		if found == -1 {
			return -1, ErrNotFound
		}
		return found, nil
	}

	idx, err := lookup(func(d Destination) bool { return strings.EqualFold(d.Name, ref) })
	if !errors.Is(err, ErrNotFound) || len(ref) < minPrefixLen {
		return idx, err
	}
	return lookup(func(d Destination) bool { return strings.HasPrefix(d.ID, strings.ToLower(ref)) })
}

func equal(a, b []Destination) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
