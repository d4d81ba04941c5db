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
	"encoding/base64"
	"fmt"

	charts "github.com/vicanso/go-charts/v2"
)

// ChartGenerator renders the static PNG charts embedded in the HTML report
type ChartGenerator struct {
	theme string
}

// NewChartGenerator creates a new chart generator
func NewChartGenerator(theme string) *ChartGenerator {
	if theme == "" {
		theme = "light"
	}
	return &ChartGenerator{
		theme: theme,
	}
}

// ReportCharts holds the base64 PNG of every report chart. Charts that could
// not be rendered are left empty.
type ReportCharts struct {
	MedianByBracket string
	ExtraCost       string
	PassoireShare   string
	MeanByBracket   string
}

// GenerateAll renders every report chart, logging failures
func (cg *ChartGenerator) GenerateAll(result *AnalysisResult, logger *Logger) ReportCharts {
	var out ReportCharts
	render := func(name string, target *string, fn func(*AnalysisResult) (string, error)) {
		png, err := fn(result)
		if err != nil {
			logger.Warn("Failed to render chart", "chart", name, "error", err)
			return
		}
		*target = png
	}
	render("median_by_bracket", &out.MedianByBracket, cg.GenerateMedianChart)
	render("extra_cost", &out.ExtraCost, cg.GenerateExtraCostChart)
	render("passoire_share", &out.PassoireShare, cg.GeneratePassoireChart)
	render("mean_by_bracket", &out.MeanByBracket, cg.GenerateMeanChart)
	return out
}

// GenerateMedianChart creates a bar chart of the median consumption per bracket
func (cg *ChartGenerator) GenerateMedianChart(result *AnalysisResult) (string, error) {
	if len(result.BracketStats) == 0 {
		return "", fmt.Errorf("no bracket statistics available")
	}

	labels := make([]string, len(result.BracketStats))
	values := make([]float64, len(result.BracketStats))
	for i, s := range result.BracketStats {
		labels[i] = s.Key
		values[i] = s.Median
	}

	return cg.bar("Consommation médiane par tranche (kWh/m²/an)", labels, values, "Médiane")
}

// GenerateExtraCostChart creates a bar chart of the extra yearly heating cost
func (cg *ChartGenerator) GenerateExtraCostChart(result *AnalysisResult) (string, error) {
	if len(result.ExtraCosts) == 0 {
		return "", fmt.Errorf("no extra cost available")
	}

	labels := make([]string, len(result.ExtraCosts))
	values := make([]float64, len(result.ExtraCosts))
	for i, c := range result.ExtraCosts {
		labels[i] = c.Bracket
		values[i] = c.ExtraAnnual
	}

	title := fmt.Sprintf("Surcoût annuel pour %.0f m² (€)", result.SurfaceRef)
	return cg.bar(title, labels, values, "Surcoût")
}

// GeneratePassoireChart creates a bar chart of the F-G share per bracket
func (cg *ChartGenerator) GeneratePassoireChart(result *AnalysisResult) (string, error) {
	if len(result.DPEShares) == 0 {
		return "", fmt.Errorf("no DPE distribution available")
	}

	labels := make([]string, len(result.DPEShares))
	values := make([]float64, len(result.DPEShares))
	for i, s := range result.DPEShares {
		labels[i] = s.Bracket
		values[i] = s.Percent[CategoryPassoire]
	}

	return cg.bar("Part de passoires thermiques (%)", labels, values, CategoryPassoire)
}

// GenerateMeanChart creates a line chart of the mean consumption per bracket
// against the department average.
func (cg *ChartGenerator) GenerateMeanChart(result *AnalysisResult) (string, error) {
	if len(result.BracketStats) == 0 {
		return "", fmt.Errorf("no bracket statistics available")
	}

	labels := make([]string, len(result.BracketStats))
	means := make([]float64, len(result.BracketStats))
	overall := make([]float64, len(result.BracketStats))
	for i, s := range result.BracketStats {
		labels[i] = s.Key
		means[i] = s.Mean
		overall[i] = result.OverallMean
	}

	p, err := charts.LineRender(
		[][]float64{means, overall},
		charts.TitleTextOptionFunc("Consommation moyenne par tranche (kWh/m²/an)"),
		charts.XAxisDataOptionFunc(labels),
		charts.LegendLabelsOptionFunc([]string{"Moyenne", "Moyenne départementale"}, charts.PositionRight),
		charts.ThemeOptionFunc(cg.getTheme()),
		charts.WidthOptionFunc(1200),
		charts.HeightOptionFunc(400),
		charts.PaddingOptionFunc(charts.Box{
			Top:    20,
			Right:  20,
			Bottom: 20,
			Left:   20,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render mean chart: %w", err)
	}

	return encodePNG(p)
}

// bar renders a single-series bar chart
func (cg *ChartGenerator) bar(title string, labels []string, values []float64, legend string) (string, error) {
	p, err := charts.BarRender(
		[][]float64{values},
		charts.TitleTextOptionFunc(title),
		charts.XAxisDataOptionFunc(labels),
		charts.LegendLabelsOptionFunc([]string{legend}, charts.PositionRight),
		charts.ThemeOptionFunc(cg.getTheme()),
		charts.WidthOptionFunc(1200),
		charts.HeightOptionFunc(400),
		charts.PaddingOptionFunc(charts.Box{
			Top:    20,
			Right:  20,
			Bottom: 20,
			Left:   20,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render %q: %w", title, err)
	}

	return encodePNG(p)
}

// encodePNG converts a rendered chart to base64 for embedding in HTML
func encodePNG(p *charts.Painter) (string, error) {
	buf, err := p.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to generate chart bytes: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf), nil
}

// getTheme returns the chart theme name
func (cg *ChartGenerator) getTheme() string {
	return cg.theme
}
