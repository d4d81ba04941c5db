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
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// City reference table columns
const (
	colCityCode      = "code_insee"
	colCityName      = "nom_standard"
	colCityLatitude  = "latitude_centre"
	colCityLongitude = "longitude_centre"
	colCityAltitude  = "altitude_maximale"
	colCityDensity   = "densite"
	colCityArea      = "superficie_km2"
	colCityPop       = "population"
)

var requiredCityColumns = []string{colCityCode, colCityName, colCityLatitude, colCityLongitude}

// Communes snapshot columns, as written by the refresh
var communeColumns = []string{"code_commune", "nombre_de_logements", "conso_total_mwh", "annee"}

// derivedDwellingColumns are appended to the cleaned dataset
var derivedDwellingColumns = []string{ColTrancheAltitude, ColPeriodeCategorie, ColCategorieDPE}

// normalizeHeader turns "Conso 5 usages/m² é.p." style headers into snake case
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(unidecode.Unidecode(strings.TrimSpace(h)))
	return strings.Join(strings.Fields(h), "_")
}

// parseNumber accepts decimal commas. Empty and NA values are nil.
func parseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none":
		return nil
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// csvTable is a header-indexed CSV
type csvTable struct {
	header  []string // as read
	comma   rune
	columns []string // normalized
	index   map[string]int
	rows    [][]string
}

func (t *csvTable) get(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *csvTable) missing(required []string) []string {
	var missing []string
	for _, c := range required {
		if _, ok := t.index[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// readTable reads a whole CSV, sniffing ';' or ',' from the header line
func readTable(r io.Reader) (*csvTable, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	if nl := bytes.IndexByte(first, '\n'); nl >= 0 {
		first = first[:nl]
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if bytes.Count(first, []byte{';'}) > bytes.Count(first, []byte{','}) {
		reader.Comma = ';'
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV")
		}
		return nil, err
	}

	t := &csvTable{
		header: append([]string(nil), header...),
		comma:  reader.Comma,
		index:  make(map[string]int, len(header)),
	}
	for i, h := range header {
		name := normalizeHeader(h)
		t.columns = append(t.columns, name)
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// LoadDataset reads a raw dwelling CSV
func LoadDataset(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Operation: "open_dataset", Path: path, Err: err}
	}
	defer file.Close()

	return ReadDataset(file, path)
}

// ReadDataset parses dwellings from r. Every required column must be present.
func ReadDataset(r io.Reader, source string) (*Dataset, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, &DataError{DataType: source, Message: err.Error()}
	}
	if missing := t.missing(RequiredDwellingColumns); len(missing) > 0 {
		return nil, &MissingColumnsError{Source: source, Missing: missing}
	}

	ds := &Dataset{
		Source:  source,
		Columns: t.columns,
		Rows:    make([]Dwelling, 0, len(t.rows)),
	}
	for _, row := range t.rows {
		ds.Rows = append(ds.Rows, Dwelling{
			NumeroDPE:        t.get(row, ColNumeroDPE),
			CodeINSEE:        t.get(row, ColCodeINSEE),
			NomCommune:       t.get(row, ColNomCommune),
			EtiquetteDPE:     strings.ToUpper(t.get(row, ColEtiquetteDPE)),
			Consumption:      parseNumber(t.get(row, ColConsumption)),
			Surface:          parseNumber(t.get(row, ColSurface)),
			TypeBatiment:     t.get(row, ColTypeBatiment),
			Periode:          t.get(row, ColPeriode),
			EnergieChauffage: t.get(row, ColEnergieChauffage),
			Altitude:         parseNumber(t.get(row, ColAltitude)),
			AltitudeBracket:  t.get(row, ColTrancheAltitude),
			PeriodCategory:   t.get(row, ColPeriodeCategorie),
			DPECategory:      t.get(row, ColCategorieDPE),
		})
	}
	return ds, nil
}

// WriteDataset writes dwellings with the derived columns appended
func WriteDataset(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), RequiredDwellingColumns...), derivedDwellingColumns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, d := range ds.Rows {
		record := []string{
			d.NumeroDPE,
			d.CodeINSEE,
			d.NomCommune,
			d.EtiquetteDPE,
			formatNumber(d.Consumption),
			formatNumber(d.Surface),
			d.TypeBatiment,
			d.Periode,
			d.EnergieChauffage,
			formatNumber(d.Altitude),
			d.AltitudeBracket,
			d.PeriodCategory,
			d.DPECategory,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RawDwellings is a dwelling CSV kept as text, so a rewrite preserves the
// columns, header spelling and delimiter of the source
type RawDwellings struct {
	table *csvTable
}

// NewRawDwellings returns an empty table with the required columns
func NewRawDwellings() *RawDwellings {
	t := &csvTable{
		header: append([]string(nil), RequiredDwellingColumns...),
		comma:  ',',
		index:  make(map[string]int, len(RequiredDwellingColumns)),
	}
	for i, c := range RequiredDwellingColumns {
		t.columns = append(t.columns, c)
		t.index[c] = i
	}
	return &RawDwellings{table: t}
}

// ReadRawDwellings reads a raw dwelling CSV. Every required column must be present.
func ReadRawDwellings(r io.Reader, source string) (*RawDwellings, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, &DataError{DataType: source, Message: err.Error()}
	}
	if missing := t.missing(RequiredDwellingColumns); len(missing) > 0 {
		return nil, &MissingColumnsError{Source: source, Missing: missing}
	}
	return &RawDwellings{table: t}, nil
}

// Len returns the number of rows
func (rd *RawDwellings) Len() int {
	return len(rd.table.rows)
}

// Upsert replaces or appends rows by DPE number. Only the required columns of
// an existing row are overwritten. Diagnostics without a number are skipped.
func (rd *RawDwellings) Upsert(diagnostics []Diagnostic) int {
	t := rd.table
	key := t.index[ColNumeroDPE]
	index := make(map[string]int, len(t.rows))
	for i, row := range t.rows {
		if key < len(row) {
			index[strings.TrimSpace(row[key])] = i
		}
	}

	changed := 0
	for _, d := range diagnostics {
		if d.NumeroDPE == "" {
			continue
		}
		i, ok := index[d.NumeroDPE]
		if !ok {
			i = len(t.rows)
			index[d.NumeroDPE] = i
			t.rows = append(t.rows, make([]string, len(t.header)))
		}
		row := t.rows[i]
		if len(row) < len(t.header) {
			row = append(row, make([]string, len(t.header)-len(row))...)
		}
		for col, v := range diagnosticValues(d) {
			row[t.index[col]] = v
		}
		t.rows[i] = row
		changed++
	}
	return changed
}

func diagnosticValues(d Diagnostic) map[string]string {
	return map[string]string{
		ColNumeroDPE:        d.NumeroDPE,
		ColCodeINSEE:        d.CodeINSEE,
		ColNomCommune:       d.NomCommune,
		ColEtiquetteDPE:     d.EtiquetteDPE,
		ColConsumption:      formatNumber(d.Consumption),
		ColSurface:          formatNumber(d.Surface),
		ColTypeBatiment:     d.TypeBatiment,
		ColPeriode:          d.Periode,
		ColEnergieChauffage: d.EnergieChauffage,
		ColAltitude:         formatNumber(d.Altitude),
	}
}

// Write writes the table back with its original header and delimiter
func (rd *RawDwellings) Write(w io.Writer) error {
	t := rd.table
	cw := csv.NewWriter(w)
	cw.Comma = t.comma
	if err := cw.Write(t.header); err != nil {
		return err
	}
	for _, row := range t.rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadCities reads the communes reference table
func LoadCities(path string) ([]City, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Operation: "open_cities", Path: path, Err: err}
	}
	defer file.Close()

	return ReadCities(file, path)
}

// ReadCities parses reference cities. Coordinates may be empty.
func ReadCities(r io.Reader, source string) ([]City, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, &DataError{DataType: source, Message: err.Error()}
	}
	if missing := t.missing(requiredCityColumns); len(missing) > 0 {
		return nil, &MissingColumnsError{Source: source, Missing: missing}
	}

	cities := make([]City, 0, len(t.rows))
	for _, row := range t.rows {
		code := t.get(row, colCityCode)
		if code == "" {
			continue
		}
		cities = append(cities, City{
			CodeINSEE:   code,
			Name:        t.get(row, colCityName),
			Latitude:    parseNumber(t.get(row, colCityLatitude)),
			Longitude:   parseNumber(t.get(row, colCityLongitude)),
			AltitudeMax: parseNumber(t.get(row, colCityAltitude)),
			Density:     parseNumber(t.get(row, colCityDensity)),
			AreaKm2:     parseNumber(t.get(row, colCityArea)),
			Population:  parseNumber(t.get(row, colCityPop)),
		})
	}
	return cities, nil
}

// ReadCommunes parses a communes consumption snapshot
func ReadCommunes(r io.Reader, source string) ([]CommuneConsumption, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, &DataError{DataType: source, Message: err.Error()}
	}
	if missing := t.missing(communeColumns[:3]); len(missing) > 0 {
		return nil, &MissingColumnsError{Source: source, Missing: missing}
	}

	communes := make([]CommuneConsumption, 0, len(t.rows))
	for _, row := range t.rows {
		communes = append(communes, CommuneConsumption{
			CodeCommune:   t.get(row, "code_commune"),
			NbLogements:   parseNumber(t.get(row, "nombre_de_logements")),
			ConsoTotalMWh: parseNumber(t.get(row, "conso_total_mwh")),
			Annee:         parseNumber(t.get(row, "annee")),
		})
	}
	return communes, nil
}

// WriteCommunes writes a communes consumption snapshot
func WriteCommunes(w io.Writer, communes []CommuneConsumption) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(communeColumns); err != nil {
		return err
	}
	for _, c := range communes {
		if err := cw.Write([]string{
			c.CodeCommune,
			formatNumber(c.NbLogements),
			formatNumber(c.ConsoTotalMWh),
			formatNumber(c.Annee),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
