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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// cli carries the state shared by every command once the root pre-run has loaded it
type cli struct {
	configPath string
	debug      bool
	jsonLogs   bool

	config *Config
	logger *Logger
}

func main() {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "mountainscore",
		Short:         "Relate dwelling energy consumption to altitude and map commune consumption",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.setup()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to configuration file (default: built-in Haute-Savoie settings)")
	rootCmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&c.jsonLogs, "json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(c.prepareCmd())
	rootCmd.AddCommand(c.reportCmd())
	rootCmd.AddCommand(c.refreshCmd())
	rootCmd.AddCommand(c.serveCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if c.logger != nil {
			c.logger.Error("Command failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// setup loads and validates the configuration, then builds the logger
func (c *cli) setup() error {
	config, err := LoadConfig(c.configPath)
	if err != nil {
		return err
	}

	if c.debug {
		config.Debug = true
	}
	if c.jsonLogs {
		config.LogFormat = "json"
	}

	if err := config.Validate(); err != nil {
		return err
	}

	var logger *Logger
	if config.LogFormat == "json" {
		logger = NewJSONLogger(config.Debug)
	} else {
		logger = NewLogger(config.Debug)
	}

	c.config = config
	c.logger = logger.WithDepartment(config.Department)
	c.logger.Debug("Configuration loaded", "config_file", c.configPath, "version", GetVersion())
	return nil
}

func (c *cli) prepareCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Clean and bucket the raw dwelling CSV",
		RunE: func(_ *cobra.Command, _ []string) error {
			if input != "" {
				c.config.Paths.RawDwellings = input
			}
			_, err := c.prepare()
			return err
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Raw dwelling CSV (overrides paths.raw_dwellings)")
	return cmd
}

// prepare reads the raw dwellings, cleans them and writes the cleaned dataset
func (c *cli) prepare() (*PreparedData, error) {
	analyzer, err := NewAnalyzer(c.config, c.logger)
	if err != nil {
		return nil, err
	}
	storage, err := NewStorage(c.config.Paths.ProcessedDir, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Loading dwellings", "path", c.config.Paths.RawDwellings)
	ds, err := LoadDataset(c.config.Paths.RawDwellings)
	if err != nil {
		return nil, err
	}

	data, err := analyzer.Prepare(ds)
	if err != nil {
		return nil, err
	}
	if err := storage.SavePrepared(data); err != nil {
		return nil, err
	}

	c.logger.Info("Dataset prepared",
		"rows", data.Metadata.NbLogementsTotal,
		"with_altitude", data.Metadata.NbLogementsAvecAltitude,
		"dir", c.config.Paths.ProcessedDir,
	)
	return data, nil
}

type reportOptions struct {
	html     bool
	output   string
	xlsx     string
	plots    string
	postgres bool
}

func (c *cli) reportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Analyse the prepared dataset and write the reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.report(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.html, "html", false, "Generate HTML report instead of Markdown")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file for report (default: stdout)")
	cmd.Flags().StringVar(&opts.xlsx, "xlsx", "", "Also export the summary tables to this XLSX workbook")
	cmd.Flags().StringVar(&opts.plots, "plots", "", "Also write the interactive charts page to this HTML file")
	cmd.Flags().BoolVar(&opts.postgres, "postgres", false, "Store dwellings and bracket statistics in Postgres (postgres.dsn)")
	return cmd
}

func (c *cli) report(ctx context.Context, opts reportOptions) error {
	go CheckForUpdates(ctx, c.logger)

	storage, err := NewStorage(c.config.Paths.ProcessedDir, c.logger)
	if err != nil {
		return err
	}

	data, err := storage.LoadPrepared(c.config.Department)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		c.logger.Info("No prepared dataset found, preparing from raw data")
		if data, err = c.prepare(); err != nil {
			return err
		}
	}

	analyzer, err := NewAnalyzer(c.config, c.logger)
	if err != nil {
		return err
	}
	result, err := analyzer.Analyze(data)
	if err != nil {
		return err
	}

	if err := storage.SaveStats(result); err != nil {
		return err
	}
	if err := storage.SaveAnalysisResult(result); err != nil {
		c.logger.Warn("Failed to save analysis results", "error", err)
	}
	if files, err := storage.ListStoredFiles(); err == nil {
		c.logger.Debug("Processed directory", "dir", c.config.Paths.ProcessedDir, "files", files)
	}

	if opts.html {
		reporter := NewHTMLReporter(NewChartGenerator(c.config.Charts.Theme), c.logger)
		if err := reporter.GenerateHTMLReport(result, opts.output); err != nil {
			return err
		}
	} else {
		reporter := NewReporter(c.logger)
		if err := reporter.GenerateReport(result, opts.output); err != nil {
			return err
		}
	}

	if opts.output != "" {
		NewReporter(c.logger).PrintSummary(os.Stdout, result)
	}

	if opts.xlsx != "" {
		if err := NewWorkbookExporter(c.logger).Export(result, opts.xlsx); err != nil {
			return err
		}
	}

	if opts.plots != "" {
		if err := NewPlotter(c.config.Charts.Theme, c.logger).SavePage(opts.plots, result); err != nil {
			return err
		}
	}

	if opts.postgres {
		if err := c.storePostgres(ctx, data, result); err != nil {
			return err
		}
	}

	c.logger.Info("Analysis completed successfully")
	return nil
}

func (c *cli) storePostgres(ctx context.Context, data *PreparedData, result *AnalysisResult) error {
	if c.config.Postgres.DSN == "" {
		return &ConfigError{Field: "postgres.dsn", Message: "required with --postgres"}
	}

	sink, err := NewPostgresSink(ctx, c.config.Postgres.DSN, c.logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	if _, err := sink.SaveDwellings(ctx, result.Metadata.RunID, data.Dataset.Rows); err != nil {
		return err
	}
	return sink.SaveBracketStats(ctx, result)
}

func (c *cli) refreshCmd() *cobra.Command {
	var dwellings bool
	var since string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Pull the Enedis commune consumption into the volume",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.refresh(cmd.Context(), dwellings, since)
		},
	}

	cmd.Flags().BoolVar(&dwellings, "dwellings", false, "Also merge recent ADEME diagnostics into the raw dwelling CSV")
	cmd.Flags().StringVar(&since, "since", "", "Diagnostics date lower bound, DD-MM-YYYY (default: last update)")
	return cmd
}

func (c *cli) refresh(ctx context.Context, dwellings bool, since string) error {
	volume, err := NewVolume(c.config.Paths.VolumeDir, c.config.Paths.BundledCommunes, c.logger)
	if err != nil {
		return err
	}
	collector := NewCollector(c.config, volume, c.logger)

	// read before RefreshCommunes moves the update date forward
	if since == "" {
		since = volume.UpdateDate()
	}

	progress := func(pct float64) {
		c.logger.Info("Refreshing communes", "progress", fmt.Sprintf("%.0f%%", pct))
	}
	communes, err := collector.RefreshCommunes(ctx, progress)
	if err != nil {
		return err
	}
	c.logger.LogDataCollection("communes", len(communes))

	if !dwellings {
		return nil
	}

	var from time.Time
	if since != "" {
		if from, err = time.Parse(UpdateDateFormat, since); err != nil {
			return &ValidationError{Field: "since", Value: since, Message: "expected DD-MM-YYYY"}
		}
	}
	changed, err := collector.RefreshDwellings(ctx, from)
	if err != nil {
		return err
	}
	c.logger.LogDataCollection("diagnostics", changed)
	return nil
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consumption map web service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.config.Server.Address = addr
			}

			app, err := NewApp(cmd.Context(), c.config, c.logger)
			if err != nil {
				return err
			}
			return NewServer(app, c.logger).ListenAndServe(cmd.Context(), c.config.Server.Address)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.address)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mountainscore %s\n", GetVersion())
		},
	}
}
