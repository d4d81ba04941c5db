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
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// NormalizeKey case-folds a join key and replaces whitespace with underscores
func NormalizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return unicode.ToLower(r)
	}, s)
}

// JoinCommunes attaches reference data to Enedis commune aggregates.
// Communes without coordinates or dwellings are dropped.
func JoinCommunes(communes []CommuneConsumption, cities []City) []MapCommune {
	byCode := make(map[string]City, len(cities))
	for _, c := range cities {
		key := NormalizeKey(c.CodeINSEE)
		if _, dup := byCode[key]; !dup {
			byCode[key] = c
		}
	}

	rows := make([]MapCommune, 0, len(communes))
	for _, c := range communes {
		city, ok := byCode[NormalizeKey(c.CodeCommune)]
		if !ok || city.Latitude == nil || city.Longitude == nil {
			continue
		}
		if c.NbLogements == nil || *c.NbLogements == 0 || c.ConsoTotalMWh == nil {
			continue
		}

		row := MapCommune{
			CodeCommune:     c.CodeCommune,
			NomCommune:      city.Name,
			NbLogements:     *c.NbLogements,
			ConsoTotalMWh:   *c.ConsoTotalMWh,
			ConsoMoyenneMWh: *c.ConsoTotalMWh / *c.NbLogements,
			Latitude:        *city.Latitude,
			Longitude:       *city.Longitude,
			Altitude:        city.AltitudeMax,
			Densite:         city.Density,
			SuperficieKm2:   city.AreaKm2,
		}
		if c.Annee != nil {
			row.Annee = ptr(math.Round(*c.Annee))
		}
		rows = append(rows, row)
	}
	return finalizeCommunes(rows)
}

// finalizeCommunes scores and rounds a copy of rows
func finalizeCommunes(rows []MapCommune) []MapCommune {
	out := RescoreCommunes(rows, ScoreLog1p)
	for i := range out {
		out[i].ConsoTotalMWh = round(out[i].ConsoTotalMWh, 3)
		out[i].ConsoMoyenneMWh = round(out[i].ConsoMoyenneMWh, 3)
	}
	return out
}

// RescoreCommunes returns a copy of rows scored against each other with mode
func RescoreCommunes(rows []MapCommune, mode ScoreMode) []MapCommune {
	out := append([]MapCommune(nil), rows...)
	means := make([]float64, len(out))
	totals := make([]float64, len(out))
	for i, r := range out {
		means[i], totals[i] = r.ConsoMoyenneMWh, r.ConsoTotalMWh
	}
	meanScores := NormalizeScores(means, mode)
	totalScores := NormalizeScores(totals, mode)
	for i := range out {
		out[i].ScoreMoyenneConso = meanScores[i]
		out[i].ScoreTotalConso = totalScores[i]
	}
	return out
}

// ComputeScales returns the altitude and density ranges of rows
func ComputeScales(rows []MapCommune) MapScales {
	var scales MapScales
	for _, r := range rows {
		extendScale(&scales.Altitude, r.Altitude)
		extendScale(&scales.Densite, r.Densite)
	}
	return scales
}

func extendScale(s *Scale, v *float64) {
	if v == nil || math.IsNaN(*v) {
		return
	}
	if s.Min == nil || *v < *s.Min {
		s.Min = ptr(*v)
	}
	if s.Max == nil || *v > *s.Max {
		s.Max = ptr(*v)
	}
}

// ParseGeoPoint parses a data-fair "_geopoint" of the form "lat,lon"
func ParseGeoPoint(s string) (orb.Point, bool) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return orb.Point{}, false
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return orb.Point{}, false
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return orb.Point{}, false
	}
	return orb.Point{lo, la}, true
}

type streetRef struct {
	point      orb.Point
	codePostal string
}

// indexStreets keys ADEME streets by normalized name, first occurrence wins.
// Streets with an unreadable position are left out.
func indexStreets(streets []StreetLocation) map[string]streetRef {
	idx := make(map[string]streetRef, len(streets))
	for _, s := range streets {
		key := NormalizeKey(s.NomRue)
		if _, dup := idx[key]; dup {
			continue
		}
		p, ok := ParseGeoPoint(s.GeoPoint)
		if !ok {
			continue
		}
		idx[key] = streetRef{point: p, codePostal: s.CodePostal}
	}
	return idx
}

// joinStreetRows joins without scoring or rounding
func joinStreetRows(idx map[string]streetRef, iris []IrisStreet) []MapStreet {
	rows := make([]MapStreet, 0, len(iris))
	for _, s := range iris {
		key := NormalizeKey(s.TypeDeVoie + " " + s.LibelleDeVoie)
		ref, ok := idx[key]
		if !ok {
			continue
		}
		if s.ConsoTotalMWh == nil || s.NbLogements == nil || *s.NbLogements == 0 {
			continue
		}
		rows = append(rows, MapStreet{
			CodeIris:        s.CodeIris,
			TypeDeVoie:      s.TypeDeVoie,
			LibelleDeVoie:   s.LibelleDeVoie,
			VoieISO:         key,
			CodePostal:      ref.codePostal,
			NbLogements:     *s.NbLogements,
			ConsoTotalMWh:   *s.ConsoTotalMWh,
			ConsoMoyenneMWh: *s.ConsoTotalMWh / *s.NbLogements,
			Latitude:        ref.point.Lat(),
			Longitude:       ref.point.Lon(),
		})
	}
	return rows
}

// finalizeStreets scores and rounds a copy of rows
func finalizeStreets(rows []MapStreet) []MapStreet {
	out := append([]MapStreet(nil), rows...)
	means := make([]float64, len(out))
	totals := make([]float64, len(out))
	for i, r := range out {
		means[i], totals[i] = r.ConsoMoyenneMWh, r.ConsoTotalMWh
	}
	meanScores := NormalizeScores(means, ScoreLog1p)
	totalScores := NormalizeScores(totals, ScoreLog1p)
	for i := range out {
		out[i].ScoreMoyenneConso = meanScores[i]
		out[i].ScoreTotalConso = totalScores[i]
		out[i].ConsoTotalMWh = round(out[i].ConsoTotalMWh, 3)
		out[i].ConsoMoyenneMWh = round(out[i].ConsoMoyenneMWh, 3)
	}
	return out
}

// JoinStreets attaches ADEME street positions to Enedis street aggregates
func JoinStreets(streets []StreetLocation, iris []IrisStreet) []MapStreet {
	return finalizeStreets(joinStreetRows(indexStreets(streets), iris))
}

// InseeCodes returns the distinct INSEE codes of streets, in first-seen order
func InseeCodes(streets []StreetLocation) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, s := range streets {
		if s.CodeINSEE == "" || seen[s.CodeINSEE] {
			continue
		}
		seen[s.CodeINSEE] = true
		codes = append(codes, s.CodeINSEE)
	}
	return codes
}

// StreetStream pulls Enedis street chunks for the communes of a set of
// ADEME streets and yields the growing joined result.
type StreetStream struct {
	enedis *EnedisClient
	index  map[string]streetRef
	codes  []string

	offset   int
	done     bool
	acc      []MapStreet
	snapshot []MapStreet
	err      error
}

// NewStreetStream creates a stream over the INSEE codes found in streets
func NewStreetStream(enedis *EnedisClient, streets []StreetLocation) *StreetStream {
	codes := InseeCodes(streets)
	return &StreetStream{
		enedis: enedis,
		index:  indexStreets(streets),
		codes:  codes,
		done:   len(codes) == 0,
	}
}

// Next fetches chunks until one joins to at least one street.
// It returns false when every chunk has been read or a request failed.
func (s *StreetStream) Next(ctx context.Context) bool {
	for !s.done && s.err == nil {
		chunk, next, err := s.enedis.StreetsFromINSEE(ctx, s.codes, s.offset)
		if err != nil {
			s.err = err
			return false
		}
		if next == nil {
			s.done = true
		} else {
			s.offset = *next
		}

		joined := joinStreetRows(s.index, chunk)
		if len(joined) == 0 {
			continue
		}
		s.acc = append(s.acc, joined...)
		s.snapshot = finalizeStreets(s.acc)
		return true
	}
	return false
}

// Snapshot returns every street joined so far, scored over the whole set.
// The returned slice is not modified by later calls to Next.
func (s *StreetStream) Snapshot() []MapStreet {
	return s.snapshot
}

// Err returns the error that stopped the stream, if any
func (s *StreetStream) Err() error {
	return s.err
}

// CommunesGeoJSON converts map communes to a FeatureCollection of points
func CommunesGeoJSON(rows []MapCommune) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range rows {
		f := geojson.NewFeature(r.Point())
		f.ID = r.CodeCommune
		f.Properties["code_commune"] = r.CodeCommune
		f.Properties["nom_commune"] = r.NomCommune
		f.Properties["nombre_de_logements"] = r.NbLogements
		f.Properties["conso_total_mwh"] = r.ConsoTotalMWh
		f.Properties["conso_moyenne_mwh"] = r.ConsoMoyenneMWh
		f.Properties["score_moyenne_conso"] = r.ScoreMoyenneConso
		f.Properties["score_total_conso"] = r.ScoreTotalConso
		f.Properties["annee"] = r.Annee
		f.Properties["altitude"] = r.Altitude
		f.Properties["densite"] = r.Densite
		f.Properties["superficie_km2"] = r.SuperficieKm2
		fc.Append(f)
	}
	return fc
}
