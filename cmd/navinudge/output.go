// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/wneessen/navinudge/internal/destination"
	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/geocode"
	"github.com/wneessen/navinudge/internal/i18n"
)

// table writes left aligned columns. Widths are measured in terminal cells so that emoji
// icons and wide characters line up.
type table struct {
	rows [][]string
}

func (t *table) add(cols ...string) {
	t.rows = append(t.rows, cols)
}

func (t *table) write(w io.Writer) error {
	widths := make([]int, 0)
	for _, row := range t.rows {
		for i, col := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], runewidth.StringWidth(col))
		}
	}
	for _, row := range t.rows {
		cols := make([]string, len(row))
		for i, col := range row {
			if i == len(row)-1 {
				cols[i] = col
				continue
			}
			cols[i] = runewidth.FillRight(col, widths[i])
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(cols, "  "), " ")); err != nil {
			return err
		}
	}
	return nil
}

func writeDestinations(w io.Writer, format *i18n.Formatter, dests []destination.Destination, pos *geobus.Coordinate) error {
	t := &table{}
	t.add("#", "ICON", "NAME", "DISTANCE", "ID")
	for i, dest := range dests {
		distance := "-"
		if pos != nil {
			distance = format.Distance(pos.DistanceTo(dest.Coordinate()))
		}
		t.add(strconv.Itoa(i+1), dest.Icon, dest.Name, distance, shortID(dest.ID))
	}
	return t.write(w)
}

func writePlaces(w io.Writer, places []geocode.Place) error {
	t := &table{}
	t.add("#", "NAME", "CATEGORY", "POSITION")
	for i, place := range places {
		position := strconv.FormatFloat(place.Coordinate.Lat, 'f', 6, 64) + "," +
			strconv.FormatFloat(place.Coordinate.Lon, 'f', 6, 64)
		category := place.Category
		if category == "" {
			category = "-"
		}
		t.add(strconv.Itoa(i+1), geocode.PlaceName(place.Name, place.DisplayName), category, position)
	}
	return t.write(w)
}
