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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// RangeRule keeps records whose field lies within [Min, Max].
// A nil bound leaves that side open.
type RangeRule struct {
	Field        string   `yaml:"field"`
	Min          *float64 `yaml:"min"`
	Max          *float64 `yaml:"max"`
	ExclusiveMax bool     `yaml:"exclusive_max"`
	AllowMissing bool     `yaml:"allow_missing"`
}

// DefaultRangeRules returns the anomaly thresholds used for DPE data
func DefaultRangeRules() []RangeRule {
	return []RangeRule{
		{Field: ColConsumption, Min: ptr(10), Max: ptr(1000)},
		{Field: ColSurface, Min: ptr(5), Max: ptr(500), AllowMissing: true},
		{Field: ColAltitude, Max: ptr(3000), AllowMissing: true},
	}
}

// Contains reports whether v satisfies the rule bounds
func (r RangeRule) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil {
		if r.ExclusiveMax && v >= *r.Max {
			return false
		}
		if v > *r.Max {
			return false
		}
	}
	return true
}

// Keep reports whether the record passes this rule
func (r RangeRule) Keep(rec Record) bool {
	v, ok := rec.Number(r.Field)
	if !ok {
		return r.AllowMissing
	}
	return r.Contains(v)
}

func (r RangeRule) String() string {
	lower, upper := "-inf", "+inf"
	if r.Min != nil {
		lower = strconv.FormatFloat(*r.Min, 'g', -1, 64)
	}
	if r.Max != nil {
		upper = strconv.FormatFloat(*r.Max, 'g', -1, 64)
	}
	closing := "]"
	if r.ExclusiveMax || r.Max == nil {
		closing = ")"
	}
	return fmt.Sprintf("%s in [%s, %s%s", r.Field, lower, upper, closing)
}

// FilterRange returns the rows satisfying every rule, in input order
func FilterRange[T Record](rows []T, rules ...RangeRule) []T {
	kept := make([]T, 0, len(rows))
rows:
	for _, row := range rows {
		for _, rule := range rules {
			if !rule.Keep(row) {
				continue rows
			}
		}
		kept = append(kept, row)
	}
	return kept
}

// AnomalyFilter removes dwellings with implausible measures
type AnomalyFilter struct {
	rules  []RangeRule
	logger *Logger
}

// NewAnomalyFilter creates a filter applying rules in order
func NewAnomalyFilter(rules []RangeRule, logger *Logger) *AnomalyFilter {
	return &AnomalyFilter{
		rules:  rules,
		logger: logger.WithComponent("filter"),
	}
}

// Apply returns a new dataset holding the dwellings that pass every rule,
// and the number of dwellings removed. A rule on a column the dataset
// does not carry is fatal.
func (f *AnomalyFilter) Apply(ds *Dataset) (*Dataset, int, error) {
	var missing []string
	for _, rule := range f.rules {
		if !ds.HasColumn(rule.Field) {
			missing = append(missing, rule.Field)
		}
	}
	if len(missing) > 0 {
		return nil, 0, &MissingColumnsError{Source: ds.Source, Missing: missing}
	}

	rows := ds.Rows
	for _, rule := range f.rules {
		before := len(rows)
		rows = FilterRange(rows, rule)
		f.logger.LogFilterApplied(rule.String(), before-len(rows), len(rows))
	}

	out := &Dataset{
		Source:  ds.Source,
		Columns: append([]string(nil), ds.Columns...),
		Rows:    rows,
	}
	return out, len(ds.Rows) - len(rows), nil
}

// Map filter rule types accepted by the web API
const (
	MapFilterEqual     = "equal"
	MapFilterStartWith = "startwith"
	MapFilterInRange   = "inrange"
)

// MapFilterRule is one filter sent by the map page as JSON
type MapFilterRule struct {
	Type   string          `json:"type"`
	Column string          `json:"column"`
	Value  json.RawMessage `json:"value"`
}

// empty reports whether the rule carries no usable value
func (r MapFilterRule) empty() bool {
	v := strings.TrimSpace(string(r.Value))
	switch v {
	case "", "null", `""`, "[]", "false", "0":
		return true
	}
	return false
}

// Match reports whether rec satisfies the rule
func (r MapFilterRule) Match(rec Record) (bool, error) {
	switch r.Type {
	case MapFilterEqual:
		var want any
		if err := json.Unmarshal(r.Value, &want); err != nil {
			return false, &ValidationError{Field: "filters", Value: string(r.Value), Message: "invalid value"}
		}
		switch w := want.(type) {
		case float64:
			v, ok := rec.Number(r.Column)
			return ok && v == w, nil
		case string:
			v, ok := rec.Text(r.Column)
			return ok && v == w, nil
		}
		return false, &ValidationError{Field: "filters", Value: string(r.Value), Message: "equal expects a string or a number"}
	case MapFilterStartWith:
		var prefix string
		if err := json.Unmarshal(r.Value, &prefix); err != nil {
			return false, &ValidationError{Field: "filters", Value: string(r.Value), Message: "startwith expects a string"}
		}
		if v, ok := rec.Text(r.Column); ok {
			return strings.HasPrefix(v, prefix), nil
		}
		if v, ok := rec.Number(r.Column); ok {
			return strings.HasPrefix(strconv.FormatFloat(v, 'f', -1, 64), prefix), nil
		}
		return false, nil
	case MapFilterInRange:
		bounds, err := parseRange(r.Value)
		if err != nil {
			return false, err
		}
		v, ok := rec.Number(r.Column)
		return ok && v >= bounds[0] && v <= bounds[1], nil
	}
	return false, &ValidationError{Field: "filters", Value: r.Type, Message: "unknown filter type"}
}

// parseRange accepts [low, high] with numbers or numeric strings
func parseRange(raw json.RawMessage) ([2]float64, error) {
	var bounds [2]float64
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil || len(values) != 2 {
		return bounds, &ValidationError{Field: "filters", Value: string(raw), Message: "inrange expects [low, high]"}
	}
	for i, v := range values {
		switch n := v.(type) {
		case float64:
			bounds[i] = n
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return bounds, &ValidationError{Field: "filters", Value: n, Message: "inrange bound is not a number"}
			}
			bounds[i] = f
		default:
			return bounds, &ValidationError{Field: "filters", Value: string(raw), Message: "inrange bound is not a number"}
		}
	}
	return bounds, nil
}

// ApplyMapFilters keeps rows matching every rule. Rules without a value are skipped.
func ApplyMapFilters[T Record](rows []T, rules []MapFilterRule) ([]T, error) {
	for _, rule := range rules {
		if rule.empty() {
			continue
		}
		kept := rows[:0:0]
		for _, row := range rows {
			ok, err := rule.Match(row)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	return rows, nil
}

// MapSort orders map rows by one column
type MapSort struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// Descending reports whether the sort is in decreasing order
func (s MapSort) Descending() bool {
	return strings.EqualFold(s.Order, "desc") || strings.EqualFold(s.Order, "descending")
}

// SortRecords sorts rows in place. Rows missing the column go last.
func SortRecords[T Record](rows []T, s *MapSort) {
	if s == nil || s.Column == "" {
		return
	}
	desc := s.Descending()
	sort.SliceStable(rows, func(i, j int) bool {
		if a, ok := rows[i].Number(s.Column); ok {
			b, ok := rows[j].Number(s.Column)
			if !ok {
				return true
			}
			if desc {
				return a > b
			}
			return a < b
		}
		if _, ok := rows[j].Number(s.Column); ok {
			return false
		}
		a, aok := rows[i].Text(s.Column)
		b, bok := rows[j].Text(s.Column)
		switch {
		case !aok:
			return false
		case !bok:
			return true
		case desc:
			return a > b
		default:
			return a < b
		}
	})
}
