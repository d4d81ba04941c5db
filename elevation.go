// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// elevationBatchSize is the number of coordinates Open-Meteo accepts per call
const elevationBatchSize = 100

// ElevationClient resolves terrain elevation for coordinates
type ElevationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *Logger
}

// NewElevationClient creates a new elevation client
func NewElevationClient(baseURL string, logger *Logger) *ElevationClient {
	if baseURL == "" {
		baseURL = OpenMeteoElevationURL
	}
	return &ElevationClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.WithComponent("elevation"),
	}
}

func joinCoords(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
	}
	return strings.Join(parts, ",")
}

// Lookup returns the elevation of every point, in input order, in metres
func (e *ElevationClient) Lookup(ctx context.Context, points []orb.Point) ([]float64, error) {
	out := make([]float64, 0, len(points))
	for start := 0; start < len(points); start += elevationBatchSize {
		batch := points[start:min(start+elevationBatchSize, len(points))]
		lats := make([]float64, len(batch))
		lons := make([]float64, len(batch))
		for i, p := range batch {
			lats[i], lons[i] = p.Lat(), p.Lon()
		}

		params := url.Values{}
		params.Set("latitude", joinCoords(lats))
		params.Set("longitude", joinCoords(lons))
		u := e.baseURL + "?" + params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create elevation request: %w", err)
		}
		req.Header.Set("User-Agent", GetUserAgent())

		e.logger.LogAPIRequest("GET", e.baseURL)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return nil, &APIError{Endpoint: e.baseURL, Message: "elevation request failed", Err: err}
		}

		var body OpenMeteoElevationResponse
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: e.baseURL, Message: "elevation lookup refused"}
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode elevation response: %w", err)
		}
		if len(body.Elevation) != len(batch) {
			return nil, &DataError{
				DataType: "elevation",
				Message:  fmt.Sprintf("expected %d elevations, got %d", len(batch), len(body.Elevation)),
			}
		}
		out = append(out, body.Elevation...)
	}
	return out, nil
}

// FillCityAltitudes sets AltitudeMax for cities that have coordinates but no altitude.
// Failures are logged and leave the cities unchanged.
func (e *ElevationClient) FillCityAltitudes(ctx context.Context, cities []City) int {
	var idx []int
	var points []orb.Point
	for i, c := range cities {
		if c.AltitudeMax == nil && c.Latitude != nil && c.Longitude != nil {
			idx = append(idx, i)
			points = append(points, orb.Point{*c.Longitude, *c.Latitude})
		}
	}
	if len(points) == 0 {
		return 0
	}

	elevations, err := e.Lookup(ctx, points)
	if err != nil {
		e.logger.Warn("Failed to fetch elevations, continuing without them", "cities", len(points), "error", err)
		return 0
	}

	for j, i := range idx {
		cities[i].AltitudeMax = ptr(elevations[j])
	}
	e.logger.Info("Filled missing city altitudes", "count", len(idx))
	return len(idx)
}
