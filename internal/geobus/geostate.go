// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState tracks the last coordinate a provider emitted, so that providers only
// emit when their position actually changed.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether the position of coord differs from the last stored one. An
// empty state always counts as changed. Accuracy is not part of the comparison.
func (s *GeolocationState) HasChanged(coord Coordinate) bool {
	if !s.haveLast {
		return true
	}
	return s.last.Lat != coord.Lat || s.last.Lon != coord.Lon
}

// Update stores coord as the last known coordinate.
func (s *GeolocationState) Update(coord Coordinate) {
	s.last = coord
	s.haveLast = true
}
