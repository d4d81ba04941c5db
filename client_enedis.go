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
	"strings"
)

// EnedisClient queries the residential consumption-by-address dataset
type EnedisClient struct {
	catalog    *CatalogClient
	department string
	pageSize   int
	chunkSize  int
	logger     *Logger
}

// NewEnedisClient creates a new Enedis client
func NewEnedisClient(cfg *Config, logger *Logger) *EnedisClient {
	logger = logger.WithComponent("enedis")
	return &EnedisClient{
		catalog:    NewCatalogClient(cfg.Catalog.EnedisURL, cfg.Catalog, logger),
		department: cfg.Department,
		pageSize:   cfg.Catalog.EnedisPageSize,
		chunkSize:  cfg.Catalog.EnedisChunkSize,
		logger:     logger,
	}
}

// communesParams sums dwellings and consumption per commune of the department
func (c *EnedisClient) communesParams() url.Values {
	params := url.Values{}
	params.Set("select", "code_commune, SUM(nombre_de_logements) as nombre_de_logements, "+
		"SUM(consommation_annuelle_totale_de_l_adresse_mwh) as conso_total_mwh, AVG(year(annee)) as annee")
	params.Set("group_by", "code_commune")
	if c.department != "" {
		params.Set("where", fmt.Sprintf("startswith(code_commune, %q)", c.department))
	}
	return params
}

// CommunesPager returns a pager over the commune aggregates
func (c *EnedisClient) CommunesPager() *OffsetPager[CommuneConsumption] {
	return NewOffsetPager[CommuneConsumption](c.catalog, enedisRecordsEndpoint, c.communesParams(), c.pageSize)
}

// Communes fetches every commune aggregate
func (c *EnedisClient) Communes(ctx context.Context) ([]CommuneConsumption, error) {
	c.logger.Info("Fetching commune consumption", "departement", c.department)

	communes, err := c.CommunesPager().CollectAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch communes: %w", err)
	}

	c.logger.LogDataCollection("enedis_communes", len(communes))
	return communes, nil
}

// streetsParams aggregates streets of every IRIS belonging to the INSEE codes
func streetsParams(inseeCodes []string) url.Values {
	clauses := make([]string, 0, len(inseeCodes))
	for _, code := range inseeCodes {
		clauses = append(clauses, fmt.Sprintf("startswith(code_iris, %q)", code))
	}

	params := url.Values{}
	params.Set("select", "code_iris, type_de_voie, libelle_de_voie, SUM(nombre_de_logements) as nombre_de_logements, "+
		"SUM(consommation_annuelle_totale_de_l_adresse_mwh) as conso_total_mwh")
	params.Set("group_by", "libelle_de_voie, type_de_voie")
	params.Set("where", strings.Join(clauses, " or "))
	return params
}

// StreetsFromINSEE fetches one chunk of street aggregates starting at offset.
// next is nil once the last chunk has been read.
func (c *EnedisClient) StreetsFromINSEE(ctx context.Context, inseeCodes []string, offset int) ([]IrisStreet, *int, error) {
	if len(inseeCodes) == 0 {
		return nil, nil, nil
	}

	params := streetsParams(inseeCodes)
	params.Set("limit", fmt.Sprint(c.chunkSize))
	params.Set("offset", fmt.Sprint(offset))

	res := Get[RecordsResponse[IrisStreet]](ctx, c.catalog, enedisRecordsEndpoint, params)
	if !res.OK() {
		return nil, nil, fmt.Errorf("failed to fetch streets: %w", res.Err)
	}

	streets := res.Value.Results
	if len(streets) < c.chunkSize {
		return streets, nil, nil
	}
	next := offset + len(streets)
	return streets, &next, nil
}
