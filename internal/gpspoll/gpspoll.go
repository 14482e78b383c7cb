// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a one-shot gpsd client. It connects, waits for the first TPV
// report and disconnects again. It is used where a single current position is needed, for
// example as the start point of a route.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/wneessen/navinudge/internal/geobus"
)

const (
	fallbackAccuracy3DFix = geobus.AccuracyGPS3D
	fallbackAccuracy2DFix = geobus.AccuracyGPS2D
	fallbackAccuracyNoFix = geobus.AccuracyUnknown
	watchTimeout          = time.Second * 5
)

// ErrNoFix is returned when gpsd answered but has no usable 2D fix.
var ErrNoFix = errors.New("gpsd has no 2D fix")

// Client is a minimal GPSd client
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
}

// tpvResponse matches the subset of gpsd's TPV report we care about.
type tpvResponse struct {
	Class string  `json:"class"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Mode  int     `json:"mode"`
	Epx   float64 `json:"epx"`
	Epy   float64 `json:"epy"`
	Eph   float64 `json:"eph"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables watch mode and returns the first TPV report. The
// connection is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return zero, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Respect the context deadline if present, otherwise make sure we don't hang forever.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		return zero, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var resp tpvResponse

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		if err = json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Class != "TPV" {
			continue
		}

		return Fix{
			Lat:  resp.Lat,
			Lon:  resp.Lon,
			Alt:  resp.Alt,
			Acc:  HorizontalAccuracy(resp.Eph, resp.Epx, resp.Epy, resp.Mode),
			Mode: resp.Mode,
		}, nil
	}

	if err = scanner.Err(); err != nil {
		return zero, fmt.Errorf("gpspoll: failed to scan gpsd response: %w", err)
	}

	return zero, fmt.Errorf("gpspoll: no TPV response received from gpsd")
}

// Position polls gpsd and returns the fix as coordinate. It fails with ErrNoFix if gpsd
// does not have at least a 2D fix.
func (c *Client) Position(ctx context.Context) (geobus.Coordinate, error) {
	fix, err := c.Poll(ctx)
	if err != nil {
		return geobus.Coordinate{}, err
	}
	if !fix.Has2DFix() {
		return geobus.Coordinate{}, ErrNoFix
	}
	return fix.Coordinate(), nil
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

// Coordinate returns the position of the fix.
func (f Fix) Coordinate() geobus.Coordinate {
	return geobus.Coordinate{Lat: f.Lat, Lon: f.Lon, Acc: f.Acc}
}

// HorizontalAccuracy estimates the horizontal accuracy in meters from the gpsd error
// estimates. eph wins if present, then epx/epy, otherwise a typical value for the fix mode.
func HorizontalAccuracy(eph, epx, epy float64, mode int) float64 {
	switch {
	case eph > 0:
		return eph
	case epx > 0 && epy > 0:
		return math.Hypot(epx, epy)
	}
	switch mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
