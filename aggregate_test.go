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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bracketOf(d Dwelling) string { return d.AltitudeBracket }
func periodOf(d Dwelling) string  { return d.PeriodCategory }

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2})

	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.InDelta(t, 2.5, s.Median, 1e-9)
	assert.InDelta(t, 1.75, s.Q1, 1e-9)
	assert.InDelta(t, 3.25, s.Q3, 1e-9)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
}

func TestQuantileSingleValue(t *testing.T) {
	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.25))
	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.75))
}

func TestAggregatorCanonicalOrder(t *testing.T) {
	order := []string{"b0", "b1", "b2"}
	var rows []Dwelling
	for i := 0; i < 30; i++ {
		rows = append(rows, Dwelling{
			AltitudeBracket: order[i%3],
			Consumption:     ptr(float64(100 + i)),
		})
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

	agg := NewAggregator(MeasureField[Dwelling](ColConsumption), 1)
	stats := agg.ByKey(rows, bracketOf, order)

	require.Len(t, stats, 3)
	for i, s := range stats {
		assert.Equal(t, order[i], s.Key)
		assert.Equal(t, 10, s.Count)
	}
}

func TestAggregatorMinCountAndMissing(t *testing.T) {
	rows := []Dwelling{
		{AltitudeBracket: "b0", Consumption: ptr(100)},
		{AltitudeBracket: "b0", Consumption: ptr(200)},
		{AltitudeBracket: "b0"},
		{AltitudeBracket: "b1", Consumption: ptr(300)},
		{Consumption: ptr(400)},
	}

	agg := NewAggregator(MeasureField[Dwelling](ColConsumption), 2)
	stats := agg.ByKey(rows, bracketOf, []string{"b0", "b1"})

	require.Len(t, stats, 1)
	assert.Equal(t, "b0", stats[0].Key)
	assert.Equal(t, 2, stats[0].Count)
	assert.InDelta(t, 150, stats[0].Mean, 1e-9)
}

func TestAggregatorUnknownKeysLast(t *testing.T) {
	rows := []Dwelling{
		{AltitudeBracket: "zeta", Consumption: ptr(1)},
		{AltitudeBracket: "b1", Consumption: ptr(1)},
		{AltitudeBracket: "alpha", Consumption: ptr(1)},
		{AltitudeBracket: "b0", Consumption: ptr(1)},
	}

	agg := NewAggregator(MeasureField[Dwelling](ColConsumption), 1)
	stats := agg.ByKey(rows, bracketOf, []string{"b0", "b1"})

	var keys []string
	for _, s := range stats {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"b0", "b1", "alpha", "zeta"}, keys)
}

func TestAggregatorTwoKeys(t *testing.T) {
	var rows []Dwelling
	for _, p := range []string{PeriodAfter2012, PeriodBefore1975} {
		for _, b := range []string{"b1", "b0"} {
			for i := 0; i < 3; i++ {
				rows = append(rows, Dwelling{PeriodCategory: p, AltitudeBracket: b, Consumption: ptr(100)})
			}
		}
	}

	agg := NewAggregator(MeasureField[Dwelling](ColConsumption), 3)
	stats := agg.ByKeys(rows, periodOf, bracketOf, PeriodCategories, []string{"b0", "b1"})

	require.Len(t, stats, 4)
	assert.Equal(t, PeriodBefore1975, stats[0].Key)
	assert.Equal(t, "b0", stats[0].Key2)
	assert.Equal(t, PeriodBefore1975, stats[1].Key)
	assert.Equal(t, "b1", stats[1].Key2)
	assert.Equal(t, PeriodAfter2012, stats[2].Key)
	assert.Equal(t, "b0", stats[2].Key2)
}
