// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/geocode"
	"github.com/wneessen/navinudge/internal/http"
)

const (
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	name        = "opencage"
)

type OpenCage struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

type Response struct {
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
}

type Result struct {
	Components  Components `json:"components"`
	DisplayName string     `json:"formatted"`
	Geometry    Geometry   `json:"geometry"`
}

type Components struct {
	Category       string `json:"_category"`
	Type           string `json:"_type"`
	NormalizedCity string `json:"_normalized_city"`
	City           string `json:"city"`
	Country        string `json:"country"`
	HouseNumber    string `json:"house_number"`
	Postcode       string `json:"postcode"`
	Road           string `json:"road"`
	State          string `json:"state"`
	Suburb         string `json:"suburb"`
	Town           string `json:"town"`
	Village        string `json:"village"`
}

type Geometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

func New(client *http.Client, lang language.Tag, apikey string) *OpenCage {
	return &OpenCage{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}
}

func (o *OpenCage) Name() string {
	return name
}

func (o *OpenCage) Reverse(ctx context.Context, coords geobus.Coordinate) (geocode.Address, error) {
	query := o.query(fmt.Sprintf("%f,%f", coords.Lat, coords.Lon))
	query.Set("limit", "1")

	response, err := o.request(ctx, query)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from OpenCage API: %w", err)
	}
	if len(response.Results) == 0 {
		return geocode.Address{Latitude: coords.Lat, Longitude: coords.Lon}, nil
	}

	result := response.Results[0]
	address := geocode.Address{
		AddressFound: true,
		Latitude:     result.Geometry.Lat,
		Longitude:    result.Geometry.Lon,
		DisplayName:  result.DisplayName,
		Country:      result.Components.Country,
		State:        result.Components.State,
		Postcode:     result.Components.Postcode,
		City:         result.Components.NormalizedCity,
		Suburb:       result.Components.Suburb,
		Street:       result.Components.Road,
		HouseNumber:  result.Components.HouseNumber,
	}
	switch {
	case address.City != "":
	case result.Components.City != "":
		address.City = result.Components.City
	case result.Components.Town != "":
		address.City = result.Components.Town
	case result.Components.Village != "":
		address.City = result.Components.Village
	}

	return address, nil
}

func (o *OpenCage) Search(ctx context.Context, search string, limit int) ([]geocode.Place, error) {
	if limit <= 0 {
		limit = geocode.DefaultSearchLimit
	}
	query := o.query(search)
	query.Set("limit", strconv.Itoa(limit))

	response, err := o.request(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search places via OpenCage API: %w", err)
	}
	if len(response.Results) == 0 {
		return nil, fmt.Errorf("%w for %q", geocode.ErrNoResults, search)
	}

	places := make([]geocode.Place, 0, len(response.Results))
	for _, result := range response.Results {
		places = append(places, geocode.Place{
			Name:        geocode.PlaceName("", result.DisplayName),
			DisplayName: result.DisplayName,
			Category:    result.Components.Category,
			Coordinate:  geobus.Coordinate{Lat: result.Geometry.Lat, Lon: result.Geometry.Lon},
		})
	}
	return places, nil
}

func (o *OpenCage) query(q string) url.Values {
	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", q)
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("language", o.lang.String())
	return query
}

func (o *OpenCage) request(ctx context.Context, query url.Values) (Response, error) {
	var response Response
	if _, err := o.http.GetWithTimeout(ctx, APIEndpoint, &response, query, nil, APITimeout); err != nil {
		return response, err
	}
	return response, nil
}
