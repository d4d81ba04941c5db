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
	"io"

	"github.com/xuri/excelize/v2"
)

// Workbook sheet names
const (
	SheetSummary  = "Synthese"
	SheetBrackets = "Tranches"
	SheetCosts    = "Surcout"
	SheetDPE      = "DPE"
	SheetHeatmap  = "Heatmap"
)

// WorkbookExporter writes the analysis tables to an XLSX workbook, one sheet per table
type WorkbookExporter struct {
	logger *Logger
}

func NewWorkbookExporter(logger *Logger) *WorkbookExporter {
	return &WorkbookExporter{logger: logger}
}

// Export saves the workbook to path
func (e *WorkbookExporter) Export(result *AnalysisResult, path string) error {
	f, err := e.build(result)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return &StorageError{Operation: "write workbook", Path: path, Err: err}
	}
	e.logger.Info("Workbook saved", "path", path)
	return nil
}

// Write streams the workbook to w
func (e *WorkbookExporter) Write(w io.Writer, result *AnalysisResult) error {
	f, err := e.build(result)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func (e *WorkbookExporter) build(result *AnalysisResult) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	meta := result.Metadata
	summary := [][]interface{}{
		{"Indicateur", "Valeur"},
		{"Département", fmt.Sprintf("%s (%s)", meta.NomDepartement, meta.Departement)},
		{"Exécution", meta.RunID},
		{"Généré le", result.GeneratedAt.Format("02/01/2006 15:04")},
		{"Logements analysés", meta.NbLogementsTotal},
		{"Logements avec altitude", meta.NbLogementsAvecAltitude},
		{"Taux altitude (%)", meta.TauxAltitudePct},
		{"Conso moyenne (kWh/m²/an)", meta.ConsoMoyenne},
		{"Conso médiane (kWh/m²/an)", meta.ConsoMediane},
	}
	if reg := result.Regression; reg != nil {
		summary = append(summary,
			[]interface{}{"kWh/m²/an par 100 m", reg.Per100m},
			[]interface{}{"R²", reg.RSquared},
		)
	}
	if err := writeSheet(f, SheetSummary, summary, header); err != nil {
		return nil, err
	}

	brackets := [][]interface{}{{"Tranche", "Effectif", "Min", "Q1", "Médiane", "Moyenne", "Q3", "Max"}}
	for _, s := range result.BracketStats {
		brackets = append(brackets, []interface{}{s.Key, s.Count, s.Min, s.Q1, s.Median, s.Mean, s.Q3, s.Max})
	}
	if err := writeSheet(f, SheetBrackets, brackets, header); err != nil {
		return nil, err
	}

	costs := [][]interface{}{{"Tranche", "Effectif", "Conso moyenne", "Écart", "Surcoût annuel (€)"}}
	for _, c := range result.ExtraCosts {
		costs = append(costs, []interface{}{c.Bracket, c.Count, c.MeanConso, c.DeltaConso, c.ExtraAnnual})
	}
	if err := writeSheet(f, SheetCosts, costs, header); err != nil {
		return nil, err
	}

	dpeHeader := []interface{}{"Tranche", "Total"}
	for _, c := range DPECategories {
		dpeHeader = append(dpeHeader, c+" (%)")
	}
	dpe := [][]interface{}{dpeHeader}
	for _, s := range result.DPEShares {
		row := []interface{}{s.Bracket, s.Total}
		for _, c := range DPECategories {
			row = append(row, s.Percent[c])
		}
		dpe = append(dpe, row)
	}
	if err := writeSheet(f, SheetDPE, dpe, header); err != nil {
		return nil, err
	}

	heat := [][]interface{}{{"Période", "Tranche", "Conso moyenne", "Effectif"}}
	for _, c := range result.Heatmap.Cells {
		heat = append(heat, []interface{}{c.Period, c.Bracket, c.Mean, c.Count})
	}
	if err := writeSheet(f, SheetHeatmap, heat, header); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	return f, nil
}

// writeSheet creates the sheet when needed and writes rows from A1, bolding the first one
func writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}

	width := 0
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
		width = max(width, len(row))
	}
	if width == 0 {
		return nil
	}

	last, err := excelize.ColumnNumberToName(width)
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", last, 20); err != nil {
		return err
	}
	lastHeader, _ := excelize.CoordinatesToCellName(width, 1)
	return f.SetCellStyle(sheet, "A1", lastHeader, headerStyle)
}
