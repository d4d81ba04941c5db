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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCities() []City {
	return []City{
		{CodeINSEE: "74056", Name: "Chamonix-Mont-Blanc", Latitude: ptr(45.92), Longitude: ptr(6.87), AltitudeMax: ptr(4808), Density: ptr(75), AreaKm2: ptr(116.5)},
		{CodeINSEE: "74010", Name: "Annecy", Latitude: ptr(45.90), Longitude: ptr(6.12), AltitudeMax: ptr(1147), Density: ptr(1100)},
		{CodeINSEE: "74010", Name: "Annecy doublon", Latitude: ptr(0), Longitude: ptr(0)},
		{CodeINSEE: "74999", Name: "Sans position"},
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RUE ROYALE", "rue_royale"},
		{"Avenue  de\tGenève", "avenue__de_genève"},
		{"74010", "74010"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeKey(tt.in), tt.in)
	}
}

func TestJoinCommunes(t *testing.T) {
	communes := []CommuneConsumption{
		{CodeCommune: "74056", NbLogements: ptr(4), ConsoTotalMWh: ptr(30), Annee: ptr(2022.6)},
		{CodeCommune: "74010", NbLogements: ptr(2), ConsoTotalMWh: ptr(10)},
		{CodeCommune: "74999", NbLogements: ptr(5), ConsoTotalMWh: ptr(10)},
		{CodeCommune: "74123", NbLogements: ptr(5), ConsoTotalMWh: ptr(10)},
		{CodeCommune: "74056", NbLogements: ptr(0), ConsoTotalMWh: ptr(10)},
		{CodeCommune: "74010", NbLogements: nil, ConsoTotalMWh: ptr(10)},
	}

	rows := JoinCommunes(communes, testCities())
	require.Len(t, rows, 2)

	chamonix, annecy := rows[0], rows[1]
	assert.Equal(t, "Chamonix-Mont-Blanc", chamonix.NomCommune)
	assert.Equal(t, 7.5, chamonix.ConsoMoyenneMWh)
	assert.Equal(t, 4808.0, *chamonix.Altitude)
	assert.Equal(t, 2023.0, *chamonix.Annee)
	assert.Equal(t, 116.5, *chamonix.SuperficieKm2)

	// first city row wins on duplicate codes
	assert.Equal(t, "Annecy", annecy.NomCommune)
	assert.Equal(t, 45.90, annecy.Latitude)
	assert.Nil(t, annecy.Annee)
	assert.Nil(t, annecy.SuperficieKm2)

	assert.Equal(t, 100.0, chamonix.ScoreMoyenneConso)
	assert.Equal(t, 0.0, annecy.ScoreMoyenneConso)
	assert.Equal(t, 100.0, chamonix.ScoreTotalConso)
	assert.Equal(t, 0.0, annecy.ScoreTotalConso)
}

func TestJoinCommunesDropsUnknownCodes(t *testing.T) {
	communes := []CommuneConsumption{
		{CodeCommune: "74010", NbLogements: ptr(2), ConsoTotalMWh: ptr(10)},
		{CodeCommune: "74056", NbLogements: ptr(4), ConsoTotalMWh: ptr(30)},
	}
	cities := []City{
		{CodeINSEE: "74056", Name: "Chamonix-Mont-Blanc", Latitude: ptr(45.92), Longitude: ptr(6.87)},
	}

	rows := JoinCommunes(communes, cities)
	require.Len(t, rows, 1)
	assert.Equal(t, "74056", rows[0].CodeCommune)
	// a single commune keeps its raw value as score
	assert.Equal(t, 7.5, rows[0].ScoreMoyenneConso)
}

func TestJoinCommunesRounds(t *testing.T) {
	communes := []CommuneConsumption{
		{CodeCommune: "74056", NbLogements: ptr(3), ConsoTotalMWh: ptr(10)},
	}
	rows := JoinCommunes(communes, testCities())
	require.Len(t, rows, 1)
	assert.Equal(t, 3.333, rows[0].ConsoMoyenneMWh)
}

func TestComputeScales(t *testing.T) {
	rows := []MapCommune{
		{Altitude: ptr(1200), Densite: ptr(40)},
		{Altitude: ptr(450)},
		{Altitude: ptr(4808), Densite: ptr(900)},
	}
	scales := ComputeScales(rows)
	assert.Equal(t, 450.0, *scales.Altitude.Min)
	assert.Equal(t, 4808.0, *scales.Altitude.Max)
	assert.Equal(t, 40.0, *scales.Densite.Min)
	assert.Equal(t, 900.0, *scales.Densite.Max)

	empty := ComputeScales(nil)
	assert.Nil(t, empty.Altitude.Min)
	assert.Nil(t, empty.Densite.Max)
}

func TestParseGeoPoint(t *testing.T) {
	p, ok := ParseGeoPoint("45.8992, 6.1294")
	require.True(t, ok)
	assert.Equal(t, 45.8992, p.Lat())
	assert.Equal(t, 6.1294, p.Lon())

	for _, bad := range []string{"", "45.8", "a,b", "45.8,"} {
		_, ok := ParseGeoPoint(bad)
		assert.False(t, ok, bad)
	}
}

func testStreetLocations() []StreetLocation {
	return []StreetLocation{
		{CodeINSEE: "74010", CodePostal: "74000", NomRue: "Rue Royale", GeoPoint: "45.8992,6.1294"},
		{CodeINSEE: "74010", CodePostal: "74000", NomRue: "rue royale", GeoPoint: "1,1"},
		{CodeINSEE: "74010", CodePostal: "74000", NomRue: "Avenue de Genève", GeoPoint: "45.9050,6.1230"},
		{CodeINSEE: "74056", CodePostal: "74400", NomRue: "Place Balmat", GeoPoint: "bad"},
	}
}

func TestJoinStreets(t *testing.T) {
	iris := []IrisStreet{
		{CodeIris: "740100101", TypeDeVoie: "RUE", LibelleDeVoie: "ROYALE", NbLogements: ptr(10), ConsoTotalMWh: ptr(50)},
		{CodeIris: "740100102", TypeDeVoie: "AVENUE", LibelleDeVoie: "DE GENÈVE", NbLogements: ptr(4), ConsoTotalMWh: ptr(40)},
		{CodeIris: "740560101", TypeDeVoie: "PLACE", LibelleDeVoie: "BALMAT", NbLogements: ptr(4), ConsoTotalMWh: ptr(40)},
		{CodeIris: "740100103", TypeDeVoie: "RUE", LibelleDeVoie: "INCONNUE", NbLogements: ptr(4), ConsoTotalMWh: ptr(40)},
		{CodeIris: "740100101", TypeDeVoie: "RUE", LibelleDeVoie: "ROYALE", NbLogements: ptr(3), ConsoTotalMWh: nil},
	}

	rows := JoinStreets(testStreetLocations(), iris)
	require.Len(t, rows, 2)

	royale := rows[0]
	assert.Equal(t, "rue_royale", royale.VoieISO)
	assert.Equal(t, "74000", royale.CodePostal)
	assert.Equal(t, 45.8992, royale.Latitude)
	assert.Equal(t, 6.1294, royale.Longitude)
	assert.Equal(t, 5.0, royale.ConsoMoyenneMWh)
	assert.Equal(t, 0.0, royale.ScoreMoyenneConso)
	assert.Equal(t, 100.0, rows[1].ScoreMoyenneConso)
}

func TestInseeCodes(t *testing.T) {
	assert.Equal(t, []string{"74010", "74056"}, InseeCodes(testStreetLocations()))
	assert.Empty(t, InseeCodes(nil))
}

func TestStreetStream(t *testing.T) {
	all := []IrisStreet{
		{CodeIris: "740100101", TypeDeVoie: "RUE", LibelleDeVoie: "ROYALE", NbLogements: ptr(10), ConsoTotalMWh: ptr(50)},
		{CodeIris: "740100109", TypeDeVoie: "RUE", LibelleDeVoie: "NULLE PART", NbLogements: ptr(1), ConsoTotalMWh: ptr(1)},
		{CodeIris: "740100110", TypeDeVoie: "IMPASSE", LibelleDeVoie: "PERDUE", NbLogements: ptr(1), ConsoTotalMWh: ptr(1)},
		{CodeIris: "740100102", TypeDeVoie: "AVENUE", LibelleDeVoie: "DE GENÈVE", NbLogements: ptr(4), ConsoTotalMWh: ptr(40)},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := min(offset+1, len(all))
		page := []IrisStreet{}
		if offset < len(all) {
			page = all[offset:end]
		}
		_ = json.NewEncoder(w).Encode(RecordsResponse[IrisStreet]{TotalCount: len(all), Results: page})
	}))
	defer srv.Close()

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	cfg.Catalog.EnedisChunkSize = 1
	stream := NewStreetStream(NewEnedisClient(cfg, NewDiscardLogger()), testStreetLocations())

	ctx := context.Background()
	require.True(t, stream.Next(ctx))
	first := stream.Snapshot()
	require.Len(t, first, 1)
	assert.Equal(t, 5.0, first[0].ScoreMoyenneConso)

	// two chunks without any match are skipped in a single call
	require.True(t, stream.Next(ctx))
	second := stream.Snapshot()
	require.Len(t, second, 2)
	assert.Equal(t, 0.0, second[0].ScoreMoyenneConso)
	assert.Equal(t, 100.0, second[1].ScoreMoyenneConso)
	assert.Len(t, first, 1)

	assert.False(t, stream.Next(ctx))
	assert.NoError(t, stream.Err())
}

func TestStreetStreamWithoutCodes(t *testing.T) {
	stream := NewStreetStream(nil, nil)
	assert.False(t, stream.Next(context.Background()))
	assert.Empty(t, stream.Snapshot())
}

func TestCommunesGeoJSON(t *testing.T) {
	rows := []MapCommune{
		{CodeCommune: "74056", NomCommune: "Chamonix-Mont-Blanc", Latitude: 45.92, Longitude: 6.87, Altitude: ptr(4808)},
	}
	fc := CommunesGeoJSON(rows)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, orb.Point{6.87, 45.92}, f.Geometry)
	assert.Equal(t, "Chamonix-Mont-Blanc", f.Properties["nom_commune"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)
	assert.Contains(t, string(data), `"coordinates":[6.87,45.92]`)
}
