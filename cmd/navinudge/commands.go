// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/wneessen/navinudge/internal/destination"
	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/geocode"
	"github.com/wneessen/navinudge/internal/logger"
	"github.com/wneessen/navinudge/internal/mapsurl"
)

// hereRef is the route endpoint referring to the current location.
const hereRef = "here"

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w: %w", fs.Name(), errUsage, err)
	}
	return nil
}

// list prints all destinations with their distance to the current position.
func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	at := fs.String("at", "", "position as lat,lon to measure distances from")
	noGPS := fs.Bool("no-gps", false, "do not ask gpsd for the current position")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var pos *geobus.Coordinate
	switch {
	case *at != "":
		coord, err := parseCoordinate(*at)
		if err != nil {
			return err
		}
		pos = &coord
	case !*noGPS:
		pos = a.position(ctx)
	}

	dests := a.store.List()
	if len(dests) == 0 {
		_, err := fmt.Fprintln(a.out, "no destinations saved")
		return err
	}
	return writeDestinations(a.out, a.format, dests, pos)
}

// add saves a new destination from coordinates, a maps link or a search query.
func (a *app) add(ctx context.Context, args []string) error {
	fs := newFlagSet("add")
	name := fs.String("name", "", "name of the destination")
	icon := fs.String("icon", "", "icon of the destination")
	lat := fs.Float64("lat", math.NaN(), "latitude")
	lon := fs.Float64("lon", math.NaN(), "longitude")
	index := fs.Int("index", 0, "1-based position in the list, appended if not set")
	link := fs.String("url", "", "Apple Maps link or geo: URI")
	query := fs.String("query", "", "search text, the first result is saved")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var coord geobus.Coordinate
	label := strings.TrimSpace(*name)
	switch {
	case *link != "":
		loc, err := mapsurl.Parse(*link)
		if err != nil {
			return err
		}
		coord = loc.Coordinate
		if label == "" {
			label = loc.Name
		}
	case *query != "":
		coder, err := a.geocoderFn()
		if err != nil {
			return err
		}
		places, err := coder.Search(ctx, *query, 1)
		if err == nil && len(places) == 0 {
			err = geocode.ErrNoResults
		}
		if err != nil {
			return fmt.Errorf("failed to search %q: %w", *query, err)
		}
		coord = places[0].Coordinate
		if label == "" {
			label = geocode.PlaceName(places[0].Name, places[0].DisplayName)
		}
	case !math.IsNaN(*lat) && !math.IsNaN(*lon):
		coord = geobus.Coordinate{Lat: *lat, Lon: *lon}
		if label == "" {
			label = a.reverseName(ctx, coord)
		}
	default:
		return fmt.Errorf("add needs -lat and -lon, -url or -query: %w", errUsage)
	}

	dest, err := a.store.Add(label, *icon, coord, *index-1)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "added %s (%s)\n", dest.Name, shortID(dest.ID))
	return err
}

// reverseName looks up a name for coord. Lookup failures fall back to a generic name.
func (a *app) reverseName(ctx context.Context, coord geobus.Coordinate) string {
	if !coord.Valid() {
		return mapsurl.DefaultName
	}
	coder, err := a.geocoderFn()
	if err != nil {
		a.log.Warn("failed to create geocoder", logger.Err(err))
		return mapsurl.DefaultName
	}
	addr, err := coder.Reverse(ctx, coord)
	if err != nil {
		a.log.Warn("failed to look up destination name", logger.Err(err))
		return mapsurl.DefaultName
	}
	if name := addr.ShortName(); addr.AddressFound && name != "" {
		return name
	}
	return mapsurl.DefaultName
}

func (a *app) remove(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("remove needs at least one destination: %w", errUsage)
	}
	removed, err := a.store.Remove(args...)
	if err != nil {
		return err
	}
	for _, dest := range removed {
		if _, err = fmt.Fprintf(a.out, "removed %s (%s)\n", dest.Name, shortID(dest.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) move(_ context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("move needs a destination and a position: %w", errUsage)
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil || pos < 1 {
		return fmt.Errorf("invalid position %q: %w", args[1], errUsage)
	}
	return a.store.Move(args[0], pos-1)
}

func (a *app) edit(_ context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("edit needs a destination: %w", errUsage)
	}
	dest, err := a.store.Get(args[0])
	if err != nil {
		return err
	}

	fs := newFlagSet("edit")
	fs.StringVar(&dest.Name, "name", dest.Name, "name of the destination")
	fs.StringVar(&dest.Icon, "icon", dest.Icon, "icon of the destination")
	fs.Float64Var(&dest.Latitude, "lat", dest.Latitude, "latitude")
	fs.Float64Var(&dest.Longitude, "lon", dest.Longitude, "longitude")
	if err = parseFlags(fs, args[1:]); err != nil {
		return err
	}
	if fs.NFlag() == 0 {
		return fmt.Errorf("edit needs at least one change: %w", errUsage)
	}
	if err = a.store.Update(dest); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "updated %s (%s)\n", dest.Name, shortID(dest.ID))
	return err
}

// route prints and optionally opens a navigation link between two endpoints.
func (a *app) route(ctx context.Context, args []string) error {
	fs := newFlagSet("route")
	from := fs.String("from", hereRef, "start: here or a destination")
	to := fs.String("to", "", "target: here or a destination")
	mode := fs.String("mode", a.conf.Route.Transport, "transport mode: d, w, r or b")
	appName := fs.String("app", a.conf.Route.MapsApp, "maps app: apple or google")
	noGPS := fs.Bool("no-gps", false, "do not ask gpsd for the current position")
	open := fs.Bool("open", false, "open the link with xdg-open")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *to == "" && fs.NArg() > 0 {
		*to = fs.Arg(0)
	}
	if *to == "" {
		return fmt.Errorf("route needs a target: %w", errUsage)
	}

	transport, err := mapsurl.ParseTransportMode(*mode)
	if err != nil {
		return err
	}
	mapsApp, err := mapsurl.ParseApp(*appName)
	if err != nil {
		return err
	}

	var here *geobus.Coordinate
	if (*from == hereRef || *to == hereRef) && !*noGPS {
		here = a.position(ctx)
	}
	start, err := a.endpoint(*from, here)
	if err != nil {
		return err
	}
	target, err := a.endpoint(*to, here)
	if err != nil {
		return err
	}

	link, err := mapsurl.Build(mapsApp, start, target, transport)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintln(a.out, link); err != nil {
		return err
	}
	if *open {
		return a.openFn(link)
	}
	return nil
}

func (a *app) endpoint(ref string, here *geobus.Coordinate) (mapsurl.Endpoint, error) {
	if ref == hereRef {
		return mapsurl.Here(here), nil
	}
	dest, err := a.store.Get(ref)
	if err != nil {
		return mapsurl.Endpoint{}, err
	}
	return mapsurl.At(dest.Coordinate()), nil
}

// search prints places matching a free text query.
func (a *app) search(ctx context.Context, args []string) error {
	fs := newFlagSet("search")
	limit := fs.Int("limit", geocode.DefaultSearchLimit, "maximum number of results")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return fmt.Errorf("search needs a query: %w", errUsage)
	}

	coder, err := a.geocoderFn()
	if err != nil {
		return err
	}
	places, err := coder.Search(ctx, query, *limit)
	if errors.Is(err, geocode.ErrNoResults) {
		_, err = fmt.Fprintf(a.out, "no places found for %q\n", query)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to search %q: %w", query, err)
	}
	return writePlaces(a.out, places)
}

// where prints the current gpsd position and the nearest saved destination.
func (a *app) where(ctx context.Context, args []string) error {
	fs := newFlagSet("position")
	resolve := fs.Bool("resolve", false, "look up the address of the position")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	coord, err := a.positionFn(ctx)
	if err != nil {
		return fmt.Errorf("current position not available: %w", err)
	}
	lines := [][2]string{{"position", fmt.Sprintf("%.6f,%.6f", coord.Lat, coord.Lon)}}
	if coord.Acc > 0 {
		lines = append(lines, [2]string{"accuracy", a.format.Distance(coord.Acc)})
	}
	if *resolve {
		address := "-"
		if coder, err := a.geocoderFn(); err == nil {
			if addr, err := coder.Reverse(ctx, coord); err == nil && addr.AddressFound {
				address = addr.DisplayName
			}
		}
		lines = append(lines, [2]string{"address", address})
	}
	if dest, dist, ok := nearest(a.store.List(), coord); ok {
		lines = append(lines, [2]string{"nearest", fmt.Sprintf("%s (%s)", dest.Name, a.format.Distance(dist))})
	}

	for _, line := range lines {
		if _, err = fmt.Fprintf(a.out, "%-9s %s\n", line[0], line[1]); err != nil {
			return err
		}
	}
	return nil
}

// nearest returns the destination closest to coord. Destinations with invalid coordinates
// are skipped.
func nearest(dests []destination.Destination, coord geobus.Coordinate) (destination.Destination, float64, bool) {
	var (
		found   destination.Destination
		minDist = math.Inf(1)
	)
	for _, dest := range dests {
		if !dest.Coordinate().Valid() {
			continue
		}
		if dist := coord.DistanceTo(dest.Coordinate()); dist < minDist {
			found, minDist = dest, dist
		}
	}
	return found, minDist, !math.IsInf(minDist, 1)
}

// position asks gpsd for the current position. Errors only mean there is no position.
func (a *app) position(ctx context.Context) *geobus.Coordinate {
	coord, err := a.positionFn(ctx)
	if err != nil {
		a.log.Debug("current position not available", logger.Err(err))
		return nil
	}
	return &coord
}

func parseCoordinate(val string) (geobus.Coordinate, error) {
	latVal, lonVal, found := strings.Cut(val, ",")
	if !found {
		return geobus.Coordinate{}, fmt.Errorf("invalid position %q, expected lat,lon: %w", val, errUsage)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latVal), 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", latVal, errUsage)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonVal), 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", lonVal, errUsage)
	}
	coord := geobus.Coordinate{Lat: lat, Lon: lon}
	if !coord.Valid() {
		return geobus.Coordinate{}, fmt.Errorf("position %q out of range: %w", val, destination.ErrInvalidCoordinate)
	}
	return coord, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
