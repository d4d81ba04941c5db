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
	"sync"
	"sync/atomic"
)

// App holds the state shared by the web handlers
type App struct {
	config    *Config
	logger    *Logger
	volume    *Volume
	storage   *Storage
	collector *Collector
	enedis    *EnedisClient
	ademe     *AdemeClient
	plotter   *Plotter
	brackets  Brackets
	cities    []City

	mu        sync.RWMutex
	communes  []MapCommune
	analysis  *AnalysisResult
	estimator *CostEstimator

	refreshing atomic.Bool
}

// NewApp loads the reference tables, the communes snapshot and the latest
// analysis, if one was saved.
func NewApp(ctx context.Context, config *Config, logger *Logger) (*App, error) {
	brackets, err := config.AltitudeBrackets()
	if err != nil {
		return nil, err
	}

	volume, err := NewVolume(config.Paths.VolumeDir, config.Paths.BundledCommunes, logger)
	if err != nil {
		return nil, err
	}
	storage, err := NewStorage(config.Paths.ProcessedDir, logger)
	if err != nil {
		return nil, err
	}

	collector := NewCollector(config, volume, logger)
	cities, err := collector.LoadCities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference cities: %w", err)
	}

	app := &App{
		config:    config,
		logger:    logger.WithComponent("app"),
		volume:    volume,
		storage:   storage,
		collector: collector,
		enedis:    NewEnedisClient(config, logger),
		ademe:     NewAdemeClient(config, logger),
		plotter:   NewPlotter(config.Charts.Theme, logger),
		brackets:  brackets,
		cities:    cities,
	}

	if err := app.ReloadCommunes(); err != nil {
		return nil, err
	}

	result, err := storage.LoadLatestAnalysis()
	if err != nil {
		app.logger.Warn("Failed to load latest analysis, cost estimates disabled", "error", err)
	} else if result == nil {
		app.logger.Warn("No analysis found, run the report command to enable statistics", "dir", config.Paths.ProcessedDir)
	} else {
		app.SetAnalysis(result)
	}

	return app, nil
}

// ReloadCommunes rebuilds the map snapshot from the volume
func (a *App) ReloadCommunes() error {
	raw, err := a.volume.ReadCommunes()
	if err != nil {
		return fmt.Errorf("failed to load communes: %w", err)
	}

	communes := JoinCommunes(raw, a.cities)
	a.mu.Lock()
	a.communes = communes
	a.mu.Unlock()

	a.logger.Info("Communes loaded", "raw", len(raw), "mapped", len(communes))
	return nil
}

// Communes returns a copy of the current map snapshot
func (a *App) Communes() []MapCommune {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return append([]MapCommune(nil), a.communes...)
}

// SetAnalysis replaces the analysis behind the statistics page and the cost API
func (a *App) SetAnalysis(result *AnalysisResult) {
	estimator := NewCostEstimator(result, a.brackets, a.config.Cost.ElectricityPrice)

	a.mu.Lock()
	a.analysis = result
	a.estimator = estimator
	a.mu.Unlock()
}

// Analysis returns the current analysis and its estimator, both nil when absent
func (a *App) Analysis() (*AnalysisResult, *CostEstimator) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.analysis, a.estimator
}

// Refresh pulls the communes from Enedis into the volume and reloads the
// snapshot. Only one refresh runs at a time.
func (a *App) Refresh(ctx context.Context, progress ProgressFunc) error {
	if !a.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer a.refreshing.Store(false)

	if _, err := a.collector.RefreshCommunes(ctx, progress); err != nil {
		return err
	}
	return a.ReloadCommunes()
}
