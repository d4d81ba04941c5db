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
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregator summarises a measure over groups of records
type Aggregator[T any] struct {
	Measure  func(T) (float64, bool)
	MinCount int
}

// NewAggregator creates an aggregator over the given measure
func NewAggregator[T any](measure func(T) (float64, bool), minCount int) *Aggregator[T] {
	return &Aggregator[T]{Measure: measure, MinCount: minCount}
}

// MeasureField reads a numeric field of any Record
func MeasureField[T Record](field string) func(T) (float64, bool) {
	return func(r T) (float64, bool) {
		v, ok := r.Number(field)
		if !ok || math.IsNaN(v) {
			return 0, false
		}
		return v, true
	}
}

type groupKey struct {
	k1, k2 string
}

// ByKey groups rows by one label and returns one row per group in canonical order
func (a *Aggregator[T]) ByKey(rows []T, key func(T) string, order []string) []GroupStats {
	return a.ByKeys(rows, key, nil, order, nil)
}

// ByKeys groups rows by two labels. Output follows rowOrder then colOrder;
// keys absent from the orders are appended in lexical order.
// Rows with an empty key or no measure are skipped.
func (a *Aggregator[T]) ByKeys(rows []T, rowKey, colKey func(T) string, rowOrder, colOrder []string) []GroupStats {
	groups := make(map[groupKey][]float64)
	for _, row := range rows {
		k := groupKey{k1: rowKey(row)}
		if k.k1 == "" {
			continue
		}
		if colKey != nil {
			k.k2 = colKey(row)
			if k.k2 == "" {
				continue
			}
		}
		v, ok := a.Measure(row)
		if !ok {
			continue
		}
		groups[k] = append(groups[k], v)
	}

	var r1, r2 []string
	for k := range groups {
		r1 = append(r1, k.k1)
		r2 = append(r2, k.k2)
	}
	rowRank := rankOf(rowOrder, r1)
	colRank := rankOf(colOrder, r2)

	keys := make([]groupKey, 0, len(groups))
	for k, values := range groups {
		if len(values) < a.MinCount || len(values) == 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if ri, rj := rowRank[keys[i].k1], rowRank[keys[j].k1]; ri != rj {
			return ri < rj
		}
		return colRank[keys[i].k2] < colRank[keys[j].k2]
	})

	out := make([]GroupStats, 0, len(keys))
	for _, k := range keys {
		s := Summarize(groups[k])
		s.Key, s.Key2 = k.k1, k.k2
		out = append(out, s)
	}
	return out
}

// rankOf gives every observed key its position: canonical keys first,
// then unknown keys sorted lexically.
func rankOf(order []string, observed []string) map[string]int {
	rank := make(map[string]int, len(order))
	for i, k := range order {
		if _, ok := rank[k]; !ok {
			rank[k] = i
		}
	}
	var extra []string
	for _, k := range observed {
		if _, ok := rank[k]; !ok {
			rank[k] = -1
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for i, k := range extra {
		rank[k] = len(order) + i
	}
	return rank
}

// Summarize computes count, mean, quartiles and range of values.
// An empty input returns a zero GroupStats.
func Summarize(values []float64) GroupStats {
	if len(values) == 0 {
		return GroupStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return GroupStats{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: Quantile(sorted, 0.5),
		Q1:     Quantile(sorted, 0.25),
		Q3:     Quantile(sorted, 0.75),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
	}
}

// Quantile returns the p-quantile of sorted using linear interpolation
// between closest ranks (R type 7).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Median returns the median of unsorted values
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Quantile(sorted, 0.5)
}

// round rounds v to the given number of decimals
func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
