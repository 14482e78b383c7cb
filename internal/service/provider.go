// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/navinudge/internal/config"
	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/navinudge/internal/geobus/provider/gpsd"
	"github.com/wneessen/navinudge/internal/geobus/provider/ichnaea"
	"github.com/wneessen/navinudge/internal/geocode"
	"github.com/wneessen/navinudge/internal/geocode/provider/opencage"
	nominatim "github.com/wneessen/navinudge/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/navinudge/internal/http"
	"github.com/wneessen/navinudge/internal/logger"
)

const (
	cacheHitTTL  = time.Hour * 24
	cacheMissTTL = time.Minute * 10
)

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	var provider []geobus.Provider

	if !s.config.GeoLocation.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(s.config.GeoLocation.File))
	}

	if !s.config.GeoLocation.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.config.GeoLocation.GPSDHost,
			s.config.GeoLocation.GPSDPort))
	}

	if !s.config.GeoLocation.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if len(provider) == 0 {
		return nil, fmt.Errorf("no geolocation providers enabled")
	}

	return provider, nil
}

// NewGeocoder returns the configured geocoder, wrapped in a cache.
func NewGeocoder(conf *config.Config, log *logger.Logger) (geocode.Geocoder, error) {
	var geocoder geocode.Geocoder
	lang := conf.Language()

	switch strings.ToLower(conf.GeoCoder.Provider) {
	case "nominatim":
		geocoder = geocode.NewCachedGeocoder(nominatim.New(http.New(log), lang), cacheHitTTL, cacheMissTTL)
	case "opencage":
		if conf.GeoCoder.APIKey == "" {
			return nil, fmt.Errorf("opencage geocoder requires an API key")
		}
		geocoder = geocode.NewCachedGeocoder(opencage.New(http.New(log), lang, conf.GeoCoder.APIKey),
			cacheHitTTL, cacheMissTTL)
	default:
		return nil, fmt.Errorf("unsupported geocoder type: %s", conf.GeoCoder.Provider)
	}

	return geocoder, nil
}
