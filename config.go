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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Department     string `yaml:"department"`
	DepartmentName string `yaml:"department_name"`

	Altitude    AltitudeConfig    `yaml:"altitude"`
	Filters     []RangeRule       `yaml:"filters"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Cost        CostConfig        `yaml:"cost"`
	Charts      ChartsConfig      `yaml:"charts"`
	Paths       PathsConfig       `yaml:"paths"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Server      ServerConfig      `yaml:"server"`
	Elevation   ElevationConfig   `yaml:"elevation"`
	Postgres    PostgresConfig    `yaml:"postgres"`

	// Debugging
	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format"`
}

// AltitudeConfig describes the altitude brackets
type AltitudeConfig struct {
	Thresholds   []float64 `yaml:"thresholds"`
	Labels       []string  `yaml:"labels"`
	MissingLabel string    `yaml:"missing_label"`
}

type AggregationConfig struct {
	MinCellCount int `yaml:"min_cell_count"`
}

// CostConfig holds the reference values used to turn kWh/m² into euros
type CostConfig struct {
	ElectricityPrice float64 `yaml:"electricity_price"` // €/kWh
	ReferenceSurface float64 `yaml:"reference_surface"` // m²
}

type ChartsConfig struct {
	ScatterSampleSize int    `yaml:"scatter_sample_size"`
	SampleSeed        int64  `yaml:"sample_seed"`
	Theme             string `yaml:"theme"`
}

type PathsConfig struct {
	RawDwellings    string `yaml:"raw_dwellings"`
	ProcessedDir    string `yaml:"processed_dir"`
	ChartsDir       string `yaml:"charts_dir"`
	VolumeDir       string `yaml:"volume_dir"`
	BundledCommunes string `yaml:"bundled_communes"`
	Cities          string `yaml:"cities"`
}

// CatalogConfig configures the Enedis and ADEME clients
type CatalogConfig struct {
	EnedisURL       string        `yaml:"enedis_url"`
	AdemeURL        string        `yaml:"ademe_url"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	Timeout         time.Duration `yaml:"timeout"`
	EnedisPageSize  int           `yaml:"enedis_page_size"`
	EnedisChunkSize int           `yaml:"enedis_chunk_size"`
	AdemePageSize   int           `yaml:"ademe_page_size"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type ElevationConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns the Haute-Savoie configuration
func DefaultConfig() *Config {
	return &Config{
		Department:     "74",
		DepartmentName: "Haute-Savoie",
		Altitude: AltitudeConfig{
			Thresholds: []float64{600, 1200, 1800, 2500},
			Labels: []string{
				"0-600m (Vallée)",
				"600-1200m (Colline)",
				"1200-1800m (Montagne)",
				"1800-2500m (Haute montagne)",
				">2500m (Très haute montagne)",
			},
			MissingLabel: "Non renseigné",
		},
		Filters:     DefaultRangeRules(),
		Aggregation: AggregationConfig{MinCellCount: 10},
		Cost: CostConfig{
			ElectricityPrice: 0.20,
			ReferenceSurface: 70,
		},
		Charts: ChartsConfig{
			ScatterSampleSize: 10000,
			SampleSeed:        42,
			Theme:             "light",
		},
		Paths: PathsConfig{
			RawDwellings:    filepath.Join("data", "raw", "logements_74.csv"),
			ProcessedDir:    filepath.Join("data", "processed"),
			ChartsDir:       "graphiques",
			VolumeDir:       getDefaultVolumePath(),
			BundledCommunes: filepath.Join("datasets", "communes.csv"),
			Cities:          filepath.Join("datasets", "communes-france-2025.csv"),
		},
		Catalog: CatalogConfig{
			EnedisURL:       EnedisDatasetURL,
			AdemeURL:        AdemeDatasetsURL,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			Timeout:         30 * time.Second,
			EnedisPageSize:  100,
			EnedisChunkSize: 50,
			AdemePageSize:   300,
		},
		Server:    ServerConfig{Address: ":8080"},
		Elevation: ElevationConfig{URL: OpenMeteoElevationURL},
		LogFormat: "text",
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	// If no path provided, return defaults with env var overrides
	if path == "" {
		config.applyEnvironmentVariables()
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentVariables()

	return config, nil
}

// loadDotEnv populates the environment from a .env file when one exists.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &ConfigError{Field: path, Message: err.Error()}
}

// getDefaultVolumePath returns the default volume path
func getDefaultVolumePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mountainscore"
	}
	return filepath.Join(home, ".config", "mountainscore")
}

// applyEnvironmentVariables overrides config with environment variables
func (c *Config) applyEnvironmentVariables() {
	if val := os.Getenv("MOUNTAINSCORE_DEPARTMENT"); val != "" {
		c.Department = val
	}
	if val := os.Getenv("MOUNTAINSCORE_DEPARTMENT_NAME"); val != "" {
		c.DepartmentName = val
	}
	if val := os.Getenv("MOUNTAINSCORE_RAW_DWELLINGS"); val != "" {
		c.Paths.RawDwellings = val
	}
	if val := os.Getenv("MOUNTAINSCORE_PROCESSED_DIR"); val != "" {
		c.Paths.ProcessedDir = val
	}
	if val := os.Getenv("MOUNTAINSCORE_VOLUME_DIR"); val != "" {
		c.Paths.VolumeDir = val
	}
	if val := os.Getenv("MOUNTAINSCORE_CITIES"); val != "" {
		c.Paths.Cities = val
	}
	if val := os.Getenv("MOUNTAINSCORE_ENEDIS_URL"); val != "" {
		c.Catalog.EnedisURL = val
	}
	if val := os.Getenv("MOUNTAINSCORE_ADEME_URL"); val != "" {
		c.Catalog.AdemeURL = val
	}
	if val := os.Getenv("MOUNTAINSCORE_SERVER_ADDRESS"); val != "" {
		c.Server.Address = val
	}
	if val := os.Getenv("MOUNTAINSCORE_POSTGRES_DSN"); val != "" {
		c.Postgres.DSN = val
	}
	if val := os.Getenv("MOUNTAINSCORE_ELECTRICITY_PRICE"); val != "" {
		if price, err := strconv.ParseFloat(val, 64); err == nil {
			c.Cost.ElectricityPrice = price
		}
	}
	if val := os.Getenv("MOUNTAINSCORE_ELEVATION"); val == "true" || val == "1" {
		c.Elevation.Enabled = true
	}
	if val := os.Getenv("MOUNTAINSCORE_LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := os.Getenv("MOUNTAINSCORE_DEBUG"); val == "true" || val == "1" {
		c.Debug = true
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errors []string

	if n := len(c.Department); n < 2 || n > 3 {
		errors = append(errors, "department must be a 2 or 3 character code")
	}

	if _, err := c.AltitudeBrackets(); err != nil {
		errors = append(errors, err.Error())
	}

	for _, rule := range c.Filters {
		if rule.Field == "" {
			errors = append(errors, "filters: every rule needs a field")
			continue
		}
		if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
			errors = append(errors, fmt.Sprintf("filters: %s has min greater than max", rule.Field))
		}
	}

	if c.Aggregation.MinCellCount < 1 {
		errors = append(errors, "aggregation.min_cell_count must be at least 1")
	}

	if c.Cost.ElectricityPrice <= 0 {
		errors = append(errors, "cost.electricity_price must be positive")
	}
	if c.Cost.ReferenceSurface <= 0 {
		errors = append(errors, "cost.reference_surface must be positive")
	}

	if c.Charts.ScatterSampleSize < 0 {
		errors = append(errors, "charts.scatter_sample_size cannot be negative")
	}

	if c.Catalog.MaxRetries < 0 {
		errors = append(errors, "catalog.max_retries cannot be negative")
	}
	if c.Catalog.RetryDelay < 0 {
		errors = append(errors, "catalog.retry_delay cannot be negative")
	}
	if c.Catalog.EnedisPageSize < 1 || c.Catalog.EnedisChunkSize < 1 || c.Catalog.AdemePageSize < 1 {
		errors = append(errors, "catalog page sizes must be positive")
	}
	if c.Catalog.EnedisURL == "" || c.Catalog.AdemeURL == "" {
		errors = append(errors, "catalog.enedis_url and catalog.ademe_url are required")
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		errors = append(errors, "log_format must be text or json")
	}

	// Set default volume path if empty
	if c.Paths.VolumeDir == "" {
		c.Paths.VolumeDir = getDefaultVolumePath()
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// AltitudeBrackets builds the bracket definition from the altitude settings
func (c *Config) AltitudeBrackets() (Brackets, error) {
	return NewBrackets(c.Altitude.Thresholds, c.Altitude.Labels, c.Altitude.MissingLabel)
}
