// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Xuanwo/go-locale"
	"github.com/kkyr/fig"
	"golang.org/x/text/language"
)

const (
	configEnv = "NAVINUDGE"
	appDir    = "navinudge"

	// MaxExitMultiplier caps the hysteresis band. Anything larger would keep a fired
	// destination silent for kilometers.
	MaxExitMultiplier = 10.0
)

var (
	transportModes = []string{"d", "w", "r", "b"}
	mapsApps       = []string{"apple", "google"}
	hapticSinks    = []string{"notify", "audio", "log"}
	geocoders      = []string{"nominatim", "opencage"}
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Proximity struct {
		// Distance in meters at which the alert fires
		ThresholdMeters float64 `fig:"threshold_meters" default:"50"`
		// The alert rearms once the distance exceeds threshold * multiplier
		ExitMultiplier float64 `fig:"exit_multiplier" default:"3"`
		// Fixes with a worse horizontal accuracy (in meters) are ignored
		MaxFixAccuracy float64 `fig:"max_fix_accuracy" default:"100"`
		// Minimum distance in meters a source has to move before the geobus re-broadcasts it
		MinMovement float64 `fig:"min_movement" default:"10"`
	} `fig:"proximity"`

	Haptics struct {
		Disabled bool `fig:"disabled"`
		// Allowed values: notify, audio, log
		Sinks []string `fig:"sinks" default:"[notify,log]"`
	} `fig:"haptics"`

	Destinations struct {
		File         string        `fig:"file"`
		SaveDebounce time.Duration `fig:"save_debounce" default:"200ms"`
	} `fig:"destinations"`

	Intervals struct {
		Reload time.Duration `fig:"reload" default:"30s"`
	} `fig:"intervals"`

	Route struct {
		// Allowed values: d (drive), w (walk), r (transit), b (bike)
		Transport string `fig:"transport" default:"d"`
		// Allowed values: apple, google
		MapsApp string `fig:"maps_app" default:"apple"`
	} `fig:"route"`

	GeoLocation struct {
		File                   string `fig:"file"`
		GPSDHost               string `fig:"gpsd_host" default:"localhost"`
		GPSDPort               string `fig:"gpsd_port" default:"2947"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
	} `fig:"geolocation"`

	GeoCoder struct {
		Provider string `fig:"provider" default:"nominatim"`
		APIKey   string `fig:"apikey"`
	} `fig:"geocoder"`

	Metrics struct {
		Listen string `fig:"listen"`
	} `fig:"metrics"`
}

// NewFromFile loads the configuration from the given file in path, applies environment
// overrides and validates the result.
func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// New loads the default configuration with environment overrides applied.
func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks the configuration for invalid values and fills in computed defaults. A
// non-positive proximity threshold is rejected here so that it never reaches the engine.
func (c *Config) Validate() error {
	threshold := c.Proximity.ThresholdMeters
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		return fmt.Errorf("invalid proximity threshold: %v, must be a positive number of meters", threshold)
	}
	mult := c.Proximity.ExitMultiplier
	if math.IsNaN(mult) || mult <= 1 || mult > MaxExitMultiplier {
		return fmt.Errorf("invalid exit multiplier: %v, must be > 1 and <= %v", mult, MaxExitMultiplier)
	}
	if c.Proximity.MaxFixAccuracy <= 0 {
		return fmt.Errorf("invalid max fix accuracy: %v", c.Proximity.MaxFixAccuracy)
	}
	if c.Proximity.MinMovement < 0 {
		return fmt.Errorf("invalid min movement: %v", c.Proximity.MinMovement)
	}
	for _, sink := range c.Haptics.Sinks {
		if !oneOf(sink, hapticSinks) {
			return fmt.Errorf("invalid haptic sink: %s", sink)
		}
	}
	if c.Destinations.SaveDebounce < 0 {
		return fmt.Errorf("invalid save debounce: %s", c.Destinations.SaveDebounce)
	}
	if c.Intervals.Reload <= 0 {
		return fmt.Errorf("invalid reload interval: %s", c.Intervals.Reload)
	}
	if !oneOf(c.Route.Transport, transportModes) {
		return fmt.Errorf("invalid transport mode: %s", c.Route.Transport)
	}
	if !oneOf(c.Route.MapsApp, mapsApps) {
		return fmt.Errorf("invalid maps app: %s", c.Route.MapsApp)
	}
	if !oneOf(c.GeoCoder.Provider, geocoders) {
		return fmt.Errorf("unsupported geocoder type: %s", c.GeoCoder.Provider)
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}

	home, _ := os.UserHomeDir()
	if c.Destinations.File == "" {
		c.Destinations.File = filepath.Join(home, ".config", appDir, "destinations.json")
	}
	if c.GeoLocation.File == "" {
		c.GeoLocation.File = filepath.Join(home, ".config", appDir, "geolocation")
	}

	return nil
}

// Language returns the language tag for the configured locale. If no locale is configured
// the system locale is detected, falling back to English.
func (c *Config) Language() language.Tag {
	if c.Locale != "" {
		if tag, err := language.Parse(c.Locale); err == nil {
			return tag
		}
	}
	tag, err := locale.Detect()
	if err != nil {
		return language.English
	}
	return tag
}

func getLocale() string {
	loc := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(loc, "."); idx != -1 {
		lang := loc[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return loc
}

func oneOf(val string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(val, a) {
			return true
		}
	}
	return false
}
