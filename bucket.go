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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// Brackets maps a continuous value to an ordered label.
// Interval i is [Thresholds[i-1], Thresholds[i]); the last one is unbounded.
type Brackets struct {
	thresholds []float64
	labels     []string
	missing    string
}

// NewBrackets validates and builds a bracket definition
func NewBrackets(thresholds []float64, labels []string, missing string) (Brackets, error) {
	if len(labels) != len(thresholds)+1 {
		return Brackets{}, &ValidationError{
			Field:   "altitude.labels",
			Value:   strconv.Itoa(len(labels)),
			Message: fmt.Sprintf("expected %d labels for %d thresholds", len(thresholds)+1, len(thresholds)),
		}
	}
	for i := 1; i < len(thresholds); i++ {
		if !(thresholds[i] > thresholds[i-1]) {
			return Brackets{}, &ValidationError{
				Field:   "altitude.thresholds",
				Value:   strconv.FormatFloat(thresholds[i], 'g', -1, 64),
				Message: "thresholds must be strictly increasing",
			}
		}
	}
	for _, t := range thresholds {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Brackets{}, &ValidationError{Field: "altitude.thresholds", Message: "thresholds must be finite"}
		}
	}
	if missing == "" {
		return Brackets{}, &ValidationError{Field: "altitude.missing_label", Message: "missing label cannot be empty"}
	}
	return Brackets{
		thresholds: append([]float64(nil), thresholds...),
		labels:     append([]string(nil), labels...),
		missing:    missing,
	}, nil
}

// Label returns the label of the bracket containing v, or the missing label
func (b Brackets) Label(v *float64) string {
	if v == nil {
		return b.missing
	}
	return b.LabelOf(*v)
}

// LabelOf is Label for a known value
func (b Brackets) LabelOf(v float64) string {
	if math.IsNaN(v) || len(b.labels) == 0 {
		return b.missing
	}
	i := sort.Search(len(b.thresholds), func(i int) bool { return b.thresholds[i] > v })
	return b.labels[i]
}

// Index returns the position of label in the canonical order, or -1
func (b Brackets) Index(label string) int {
	for i, l := range b.labels {
		if l == label {
			return i
		}
	}
	return -1
}

// Order returns the labels in canonical order, without the missing label
func (b Brackets) Order() []string {
	return append([]string(nil), b.labels...)
}

// Missing returns the label used for absent values
func (b Brackets) Missing() string {
	return b.missing
}

// Thresholds returns a copy of the bracket edges
func (b Brackets) Thresholds() []float64 {
	return append([]float64(nil), b.thresholds...)
}

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

// periodBrackets buckets a construction year by thermal regulation
var periodBrackets = Brackets{
	thresholds: []float64{1975, 2001, 2013},
	labels:     PeriodCategories,
	missing:    "",
}

// foldText lowercases and strips accents
func foldText(s string) string {
	return strings.ToLower(unidecode.Unidecode(strings.TrimSpace(s)))
}

// CategorizePeriod maps a free-form construction period to a period category.
// Unparseable periods map to missing.
func CategorizePeriod(period, missing string) string {
	p := foldText(period)
	if p == "" {
		return missing
	}
	if strings.Contains(p, "recent") {
		return PeriodAfter2012
	}
	if strings.Contains(p, "avant") || strings.Contains(p, "ancien") {
		return PeriodBefore1975
	}
	match := yearPattern.FindString(p)
	if match == "" {
		return missing
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return missing
	}
	return periodBrackets.LabelOf(float64(year))
}

// CategorizeDPE groups A-G labels into four categories
func CategorizeDPE(label, missing string) string {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "A", "B":
		return CategoryGood
	case "C", "D":
		return CategoryAverage
	case "E":
		return CategoryMediocre
	case "F", "G":
		return CategoryPassoire
	}
	return missing
}

// IsPassoire reports whether the DPE label is F or G
func IsPassoire(label string) bool {
	l := strings.ToUpper(strings.TrimSpace(label))
	return l == "F" || l == "G"
}
