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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ProgressFunc receives a completion percentage between 0 and 100
type ProgressFunc func(pct float64)

// Collector pulls fresh data from the remote catalogs into local storage
type Collector struct {
	enedis    *EnedisClient
	ademe     *AdemeClient
	elevation *ElevationClient
	volume    *Volume
	config    *Config
	logger    *Logger
}

// NewCollector creates a new data collector
func NewCollector(config *Config, volume *Volume, logger *Logger) *Collector {
	logger = logger.WithComponent("collector").WithDepartment(config.Department)
	c := &Collector{
		enedis: NewEnedisClient(config, logger),
		ademe:  NewAdemeClient(config, logger),
		volume: volume,
		config: config,
		logger: logger,
	}
	if config.Elevation.Enabled {
		c.elevation = NewElevationClient(config.Elevation.URL, logger)
	}
	return c
}

// RefreshCommunes downloads every commune aggregate, replaces the volume
// snapshot and stamps the update date. progress may be nil.
func (c *Collector) RefreshCommunes(ctx context.Context, progress ProgressFunc) ([]CommuneConsumption, error) {
	c.logger.Info("Starting communes refresh")

	pager := c.enedis.CommunesPager()
	var communes []CommuneConsumption
	for pager.Next(ctx) {
		communes = append(communes, pager.Page()...)
		if progress != nil {
			progress(pager.Progress())
		}
	}
	if err := pager.Err(); err != nil {
		return nil, fmt.Errorf("failed to refresh communes: %w", err)
	}
	if len(communes) == 0 {
		return nil, &DataError{DataType: "enedis_communes", Message: "catalog returned no commune"}
	}

	c.logger.LogDataCollection("enedis_communes", len(communes))

	if err := c.volume.WriteCommunes(communes); err != nil {
		return nil, err
	}
	if err := c.volume.TouchUpdateDate(time.Now()); err != nil {
		return nil, err
	}

	c.logger.Info("Communes refresh completed", "communes", len(communes), "update", c.volume.UpdateDate())
	return communes, nil
}

// RefreshDwellings merges the ADEME diagnostics modified since the given date
// into the raw dwelling CSV. Diagnostics replace rows with the same number and
// columns the pipeline does not read are kept. The file is replaced atomically.
func (c *Collector) RefreshDwellings(ctx context.Context, since time.Time) (int, error) {
	path := c.config.Paths.RawDwellings

	raw, err := c.loadRawDwellings(path)
	if err != nil {
		return 0, err
	}

	existing, recent, err := c.ademe.DiagnosticsSince(ctx, since)
	if err != nil {
		return 0, err
	}

	changed := raw.Upsert(append(existing, recent...))

	var buf bytes.Buffer
	if err := raw.Write(&buf); err != nil {
		return 0, &StorageError{Operation: "encode_dataset", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, &StorageError{Operation: "create_directory", Path: filepath.Dir(path), Err: err}
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return 0, &StorageError{Operation: "write_dataset", Path: path, Err: err}
	}

	c.logger.Info("Dwellings refresh completed", "changed", changed, "total", raw.Len())
	return changed, nil
}

func (c *Collector) loadRawDwellings(path string) (*RawDwellings, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Info("No raw dwelling file yet, starting empty", "path", path)
		return NewRawDwellings(), nil
	}
	if err != nil {
		return nil, &StorageError{Operation: "open_dataset", Path: path, Err: err}
	}
	defer file.Close()

	return ReadRawDwellings(file, path)
}

// LoadCities reads the reference table and, when enabled, fills missing
// altitudes from the elevation service.
func (c *Collector) LoadCities(ctx context.Context) ([]City, error) {
	cities, err := LoadCities(c.config.Paths.Cities)
	if err != nil {
		return nil, err
	}
	c.logger.LogDataCollection("cities", len(cities))

	if c.elevation != nil {
		c.elevation.FillCityAltitudes(ctx, cities)
	}
	return cities, nil
}
