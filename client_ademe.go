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
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// AdemeClient queries the DPE datasets of the ADEME data-fair API
type AdemeClient struct {
	catalog    *CatalogClient
	department string
	pageSize   int
	logger     *Logger
}

// NewAdemeClient creates a new ADEME client
func NewAdemeClient(cfg *Config, logger *Logger) *AdemeClient {
	logger = logger.WithComponent("ademe")
	return &AdemeClient{
		catalog:    NewCatalogClient(cfg.Catalog.AdemeURL, cfg.Catalog, logger),
		department: cfg.Department,
		pageSize:   cfg.Catalog.AdemePageSize,
		logger:     logger,
	}
}

// bboxParam formats a bound as lonmin,latmin,lonmax,latmax
func bboxParam(b orb.Bound) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return fmt.Sprintf("%s,%s,%s,%s", f(b.Min.Lon()), f(b.Min.Lat()), f(b.Max.Lon()), f(b.Max.Lat()))
}

// StreetsInBound returns one diagnostic address per street inside the bound
func (c *AdemeClient) StreetsInBound(ctx context.Context, bound orb.Bound) ([]StreetLocation, error) {
	params := url.Values{}
	params.Set("bbox", bboxParam(bound))
	params.Set("select", "code_insee_ban,code_postal_ban,nom_rue_ban,_geopoint")
	params.Set("collapse", "nom_rue_ban")
	params.Set("size", fmt.Sprint(c.pageSize))

	res := Get[LinesResponse[StreetLocation]](ctx, c.catalog, ademeExistingEndpoint, params)
	if !res.OK() {
		return nil, fmt.Errorf("failed to fetch streets in bound: %w", res.Err)
	}

	c.logger.LogDataCollection("ademe_streets", len(res.Value.Results))
	return res.Value.Results, nil
}

// diagnosticsQuery selects the department diagnostics modified since date
func (c *AdemeClient) diagnosticsQuery(since time.Time) url.Values {
	params := url.Values{}
	params.Set("qs", fmt.Sprintf("code_departement_ban:%s AND date_derniere_modification_dpe:[%s TO *]",
		c.department, since.Format("2006-01-02")))
	return params
}

// DiagnosticsPager returns a cursor pager over one DPE dataset endpoint
func (c *AdemeClient) DiagnosticsPager(endpoint string, since time.Time) *CursorPager[Diagnostic] {
	return NewCursorPager[Diagnostic](c.catalog, endpoint, c.diagnosticsQuery(since), c.pageSize)
}

// DiagnosticsSince fetches diagnostics of existing and new buildings modified since date
func (c *AdemeClient) DiagnosticsSince(ctx context.Context, since time.Time) (existing, recent []Diagnostic, err error) {
	c.logger.Info("Fetching diagnostics", "departement", c.department, "since", since.Format("2006-01-02"))

	existing, err = c.DiagnosticsPager(ademeExistingEndpoint, since).CollectAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch existing-building diagnostics: %w", err)
	}
	recent, err = c.DiagnosticsPager(ademeNewEndpoint, since).CollectAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch new-building diagnostics: %w", err)
	}

	c.logger.LogDataCollection("ademe_diagnostics", len(existing)+len(recent))
	return existing, recent, nil
}
