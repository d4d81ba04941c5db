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
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Analyzer cleans dwelling data and computes the altitude statistics
type Analyzer struct {
	config   *Config
	logger   *Logger
	brackets Brackets
	filter   *AnomalyFilter
}

// NewAnalyzer creates a new analyzer
func NewAnalyzer(config *Config, logger *Logger) (*Analyzer, error) {
	brackets, err := config.AltitudeBrackets()
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		config:   config,
		logger:   logger.WithComponent("analyzer"),
		brackets: brackets,
		filter:   NewAnomalyFilter(config.Filters, logger),
	}, nil
}

// Brackets returns the altitude bracket definition in use
func (a *Analyzer) Brackets() Brackets {
	return a.brackets
}

// Prepare validates, de-duplicates, filters and buckets a raw dataset.
// The input dataset is not modified.
func (a *Analyzer) Prepare(ds *Dataset) (*PreparedData, error) {
	a.logger.Info("Preparing dataset", "source", ds.Source, "rows", len(ds.Rows))

	var missing []string
	for _, col := range RequiredDwellingColumns {
		if !ds.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Source: ds.Source, Missing: missing}
	}

	// De-duplicate on the diagnostic number, first occurrence wins
	seen := make(map[string]struct{}, len(ds.Rows))
	unique := make([]Dwelling, 0, len(ds.Rows))
	for _, d := range ds.Rows {
		if d.NumeroDPE != "" {
			if _, dup := seen[d.NumeroDPE]; dup {
				continue
			}
			seen[d.NumeroDPE] = struct{}{}
		}
		unique = append(unique, d)
	}
	duplicates := len(ds.Rows) - len(unique)
	a.logger.LogAnalysisStage("deduplication")

	valid := make([]Dwelling, 0, len(unique))
	for _, d := range unique {
		if d.CodeINSEE == "" || d.EtiquetteDPE == "" || d.Consumption == nil {
			continue
		}
		valid = append(valid, d)
	}
	invalid := len(unique) - len(valid)
	if invalid > 0 {
		a.logger.Warn("Dropped incomplete dwellings", "count", invalid)
	}

	withAltitude := 0
	for _, d := range valid {
		if d.Altitude != nil {
			withAltitude++
		}
	}

	filtered, anomalies, err := a.filter.Apply(&Dataset{Source: ds.Source, Columns: ds.Columns, Rows: valid})
	if err != nil {
		return nil, err
	}
	a.logger.LogAnalysisStage("anomaly_filter")

	rows := make([]Dwelling, len(filtered.Rows))
	for i, d := range filtered.Rows {
		d.AltitudeBracket = a.brackets.Label(d.Altitude)
		d.PeriodCategory = CategorizePeriod(d.Periode, a.brackets.Missing())
		d.DPECategory = CategorizeDPE(d.EtiquetteDPE, a.brackets.Missing())
		rows[i] = d
	}
	a.logger.LogAnalysisStage("bucketing")

	columns := append([]string(nil), ds.Columns...)
	for _, col := range derivedDwellingColumns {
		if !ds.HasColumn(col) {
			columns = append(columns, col)
		}
	}
	prepared := &Dataset{Source: ds.Source, Columns: columns, Rows: rows}

	meta := a.buildMetadata(prepared, withAltitude)
	meta.DoublonsSupprimes = duplicates
	meta.LignesInvalides = invalid
	meta.AnomaliesSupprimees = anomalies

	a.logger.Info("Dataset prepared",
		"rows", meta.NbLogementsTotal,
		"with_altitude", meta.NbLogementsAvecAltitude,
		"duplicates", duplicates,
		"invalid", invalid,
		"anomalies", anomalies,
	)

	return &PreparedData{Dataset: prepared, Metadata: meta}, nil
}

func (a *Analyzer) buildMetadata(ds *Dataset, withAltitude int) Metadata {
	meta := Metadata{
		RunID:                   uuid.NewString(),
		GeneratedAt:             time.Now(),
		Departement:             a.config.Department,
		NomDepartement:          a.config.DepartmentName,
		NbLogementsTotal:        len(ds.Rows),
		NbLogementsAvecAltitude: withAltitude,
	}

	var altitudes, consos []float64
	for _, d := range ds.Rows {
		if d.Altitude != nil {
			altitudes = append(altitudes, *d.Altitude)
		}
		if d.Consumption != nil {
			consos = append(consos, *d.Consumption)
		}
	}
	if len(ds.Rows) > 0 {
		meta.TauxAltitudePct = float64(len(altitudes)) / float64(len(ds.Rows)) * 100
	}
	if len(altitudes) > 0 {
		meta.AltitudeMin = floats.Min(altitudes)
		meta.AltitudeMax = floats.Max(altitudes)
		meta.AltitudeMoyenne = stat.Mean(altitudes, nil)
	}
	if len(consos) > 0 {
		meta.ConsoMoyenne = stat.Mean(consos, nil)
		meta.ConsoMediane = Median(consos)
	}
	return meta
}

// Analyze computes every summary table from prepared data.
// Only dwellings with a known altitude bracket are used.
func (a *Analyzer) Analyze(data *PreparedData) (*AnalysisResult, error) {
	a.logger.Info("Starting analysis")

	if data == nil || data.Dataset == nil {
		return nil, &DataError{DataType: "dwellings", Message: "prepared data is required for analysis"}
	}

	var rows []Dwelling
	for _, d := range data.Dataset.Rows {
		if d.Altitude != nil && a.brackets.Index(d.AltitudeBracket) >= 0 {
			rows = append(rows, d)
		}
	}
	if len(rows) == 0 {
		return nil, &DataError{DataType: "dwellings", Message: "no dwelling with a known altitude"}
	}

	order := a.brackets.Order()
	result := &AnalysisResult{
		GeneratedAt:    time.Now(),
		Metadata:       data.Metadata,
		BracketOrder:   order,
		ElectricityEUR: a.config.Cost.ElectricityPrice,
		SurfaceRef:     a.config.Cost.ReferenceSurface,
	}

	conso := MeasureField[Dwelling](ColConsumption)
	bracketOf := func(d Dwelling) string { return d.AltitudeBracket }

	a.logger.LogAnalysisStage("bracket_statistics")
	result.BracketStats = NewAggregator(conso, 1).ByKey(rows, bracketOf, order)

	var all []float64
	for _, d := range rows {
		all = append(all, *d.Consumption)
	}
	result.OverallMean = stat.Mean(all, nil)

	a.logger.LogAnalysisStage("extra_costs")
	result.ExtraCosts = ExtraCosts(result.BracketStats, a.config.Cost.ReferenceSurface, a.config.Cost.ElectricityPrice)

	a.logger.LogAnalysisStage("dpe_distribution")
	result.DPEShares = a.dpeShares(rows, order)

	a.logger.LogAnalysisStage("period_heatmap")
	result.Heatmap = a.heatmap(rows, order)

	a.logger.LogAnalysisStage("regression")
	result.Regression = regress(rows)

	a.logger.LogAnalysisStage("scatter_sample")
	result.Scatter = sampleScatter(rows, a.config.Charts.ScatterSampleSize, a.config.Charts.SampleSeed)

	result.Headline = headline(result)

	a.logger.LogAnalysisStage("insights_generation")
	result.Insights = a.generateInsights(result)

	a.logger.Info("Analysis completed",
		"brackets", len(result.BracketStats),
		"heatmap_cells", len(result.Heatmap.Cells),
		"insights", len(result.Insights),
	)

	return result, nil
}

// dpeShares computes, per bracket, the share of each DPE category and the A-G counts
func (a *Analyzer) dpeShares(rows []Dwelling, order []string) []DPEShare {
	byBracket := make(map[string]*DPEShare)
	for _, d := range rows {
		s, ok := byBracket[d.AltitudeBracket]
		if !ok {
			s = &DPEShare{
				Bracket:     d.AltitudeBracket,
				Percent:     make(map[string]float64),
				LabelCounts: make(map[string]int),
			}
			byBracket[d.AltitudeBracket] = s
		}
		s.Total++
		s.LabelCounts[d.EtiquetteDPE]++
		if d.DPECategory != a.brackets.Missing() {
			s.Percent[d.DPECategory]++
		}
		if IsPassoire(d.EtiquetteDPE) {
			s.Passoires++
		}
	}

	var shares []DPEShare
	for _, b := range order {
		s, ok := byBracket[b]
		if !ok {
			continue
		}
		for _, cat := range DPECategories {
			s.Percent[cat] = s.Percent[cat] / float64(s.Total) * 100
		}
		shares = append(shares, *s)
	}
	return shares
}

// heatmap computes the mean consumption per period and bracket
func (a *Analyzer) heatmap(rows []Dwelling, order []string) Heatmap {
	agg := NewAggregator(MeasureField[Dwelling](ColConsumption), a.config.Aggregation.MinCellCount)
	stats := agg.ByKeys(rows,
		func(d Dwelling) string {
			if d.PeriodCategory == a.brackets.Missing() {
				return ""
			}
			return d.PeriodCategory
		},
		func(d Dwelling) string { return d.AltitudeBracket },
		PeriodCategories, order,
	)

	hm := Heatmap{}
	periods := make(map[string]bool)
	brackets := make(map[string]bool)
	for _, s := range stats {
		cell := HeatCell{Period: s.Key, Bracket: s.Key2, Mean: s.Mean, Count: s.Count}
		hm.Cells = append(hm.Cells, cell)
		periods[s.Key] = true
		brackets[s.Key2] = true
	}
	for _, p := range PeriodCategories {
		if periods[p] {
			hm.Periods = append(hm.Periods, p)
		}
	}
	for _, b := range order {
		if brackets[b] {
			hm.Brackets = append(hm.Brackets, b)
		}
	}
	for i := range hm.Cells {
		c := hm.Cells[i]
		if hm.Highest == nil || c.Mean > hm.Highest.Mean {
			hm.Highest = &c
		}
		if hm.Lowest == nil || c.Mean < hm.Lowest.Mean {
			hm.Lowest = &c
		}
	}
	return hm
}

// regress fits consumption against altitude. It needs two distinct altitudes.
func regress(rows []Dwelling) *Regression {
	xs := make([]float64, 0, len(rows))
	ys := make([]float64, 0, len(rows))
	for _, d := range rows {
		xs = append(xs, *d.Altitude)
		ys = append(ys, *d.Consumption)
	}
	if len(xs) < 2 || floats.Min(xs) == floats.Max(xs) {
		return nil
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) {
		r2 = 0
	}
	return &Regression{
		Slope:       beta,
		Intercept:   alpha,
		RSquared:    r2,
		Per100m:     beta * 100,
		SampleCount: len(xs),
		AltitudeMin: floats.Min(xs),
		AltitudeMax: floats.Max(xs),
	}
}

// sampleScatter draws at most n dwellings with a fixed seed, keeping input order
func sampleScatter(rows []Dwelling, n int, seed int64) []ScatterPoint {
	if n <= 0 {
		return nil
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	if len(rows) > n {
		rng := rand.New(rand.NewSource(seed))
		idx = rng.Perm(len(rows))[:n]
		sort.Ints(idx)
	}

	points := make([]ScatterPoint, 0, len(idx))
	for _, i := range idx {
		d := rows[i]
		points = append(points, ScatterPoint{
			Altitude:    *d.Altitude,
			Consumption: *d.Consumption,
			Label:       d.EtiquetteDPE,
			Commune:     d.NomCommune,
		})
	}
	return points
}

func headline(result *AnalysisResult) *Headline {
	if len(result.BracketStats) < 2 {
		return nil
	}
	first := result.BracketStats[0]
	last := result.BracketStats[len(result.BracketStats)-1]
	h := &Headline{
		FirstBracket: first.Key,
		LastBracket:  last.Key,
		FirstMedian:  first.Median,
		LastMedian:   last.Median,
		MedianGap:    last.Median - first.Median,
	}
	if first.Median != 0 {
		h.MedianGapPct = h.MedianGap / first.Median * 100
	}
	for _, c := range result.ExtraCosts {
		if c.ExtraAnnual > h.MaxExtraCost {
			h.MaxExtraCost = c.ExtraAnnual
			h.MaxExtraLabel = c.Bracket
		}
	}
	return h
}

// generateInsights turns the summary tables into short findings
func (a *Analyzer) generateInsights(result *AnalysisResult) []Insight {
	var insights []Insight

	if h := result.Headline; h != nil {
		priority := "medium"
		if h.MedianGapPct >= 20 {
			priority = "high"
		}
		insights = append(insights, Insight{
			Category: "altitude",
			Priority: priority,
			Title:    "Écart de consommation vallée / montagne",
			Description: fmt.Sprintf("La consommation médiane passe de %.0f kWh/m²/an (%s) à %.0f kWh/m²/an (%s), soit %+.1f%%.",
				h.FirstMedian, h.FirstBracket, h.LastMedian, h.LastBracket, h.MedianGapPct),
		})
		if h.MaxExtraCost > 0 {
			insights = append(insights, Insight{
				Category: "cost",
				Priority: "high",
				Title:    "Surcoût énergétique en altitude",
				Description: fmt.Sprintf("Vivre en %s coûte %s de plus par an qu'en vallée pour un logement de %.0f m².",
					h.MaxExtraLabel, FormatCurrency(h.MaxExtraCost), result.SurfaceRef),
				Action: fmt.Sprintf("Soit environ %s par mois de facture supplémentaire", FormatCurrency(h.MaxExtraCost/12)),
			})
		}
	}

	if n := len(result.DPEShares); n >= 2 {
		first, last := result.DPEShares[0], result.DPEShares[n-1]
		firstPct := first.Percent[CategoryPassoire]
		lastPct := last.Percent[CategoryPassoire]
		if lastPct > firstPct {
			insights = append(insights, Insight{
				Category: "dpe",
				Priority: "medium",
				Title:    "Concentration des passoires thermiques",
				Description: fmt.Sprintf("%s de passoires (F-G) en %s contre %s en %s.",
					FormatPercentage(lastPct), last.Bracket, FormatPercentage(firstPct), first.Bracket),
				Action: "Cibler la rénovation énergétique sur les logements d'altitude",
			})
		}
	}

	if hot := result.Heatmap.Highest; hot != nil {
		insights = append(insights, Insight{
			Category: "period",
			Priority: "medium",
			Title:    "Combinaison la plus énergivore",
			Description: fmt.Sprintf("Les logements construits %s en %s consomment en moyenne %.0f kWh/m²/an (n = %d).",
				periodPhrase(hot.Period), hot.Bracket, hot.Mean, hot.Count),
		})
	}

	if r := result.Regression; r != nil {
		priority := "low"
		if r.RSquared >= 0.1 {
			priority = "medium"
		}
		insights = append(insights, Insight{
			Category: "altitude",
			Priority: priority,
			Title:    "Tendance linéaire",
			Description: fmt.Sprintf("Chaque tranche de 100 m d'altitude ajoute %+.1f kWh/m²/an (R² = %.3f).",
				r.Per100m, r.RSquared),
		})
	}

	return insights
}

func periodPhrase(period string) string {
	switch period {
	case PeriodBefore1975:
		return "avant 1975"
	case PeriodAfter2012:
		return "après 2012"
	}
	return "entre " + period
}

// FormatCurrency formats a value as euros
func FormatCurrency(value float64) string {
	return fmt.Sprintf("%.0f €", value)
}

// FormatPercentage formats a value as a percentage
func FormatPercentage(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}
