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

const (
	// EnedisDatasetURL is the residential consumption-by-address dataset
	EnedisDatasetURL = "https://data.enedis.fr/api/explore/v2.1/catalog/datasets/consommation-annuelle-residentielle-par-adresse"

	// AdemeDatasetsURL is the base of the ADEME data-fair datasets API
	AdemeDatasetsURL = "https://data.ademe.fr/data-fair/api/v1/datasets"

	// OpenMeteoElevationURL resolves coordinates to terrain elevation
	OpenMeteoElevationURL = "https://api.open-meteo.com/v1/elevation"
)

const (
	enedisRecordsEndpoint = "/records"
	ademeExistingEndpoint = "/dpe03existant/lines"
	ademeNewEndpoint      = "/dpe02neuf/lines"
)

// Dwelling CSV columns
const (
	ColNumeroDPE        = "numero_dpe"
	ColCodeINSEE        = "code_insee_ban"
	ColNomCommune       = "nom_commune_ban"
	ColEtiquetteDPE     = "etiquette_dpe"
	ColConsumption      = "conso_5_usages_par_m2_ep"
	ColSurface          = "surface_habitable_logement"
	ColTypeBatiment     = "type_batiment"
	ColPeriode          = "periode_construction"
	ColEnergieChauffage = "type_energie_principale_chauffage"
	ColAltitude         = "altitude_moyenne"

	ColTrancheAltitude  = "tranche_altitude"
	ColPeriodeCategorie = "periode_categorie"
	ColCategorieDPE     = "categorie_dpe"
)

// RequiredDwellingColumns must all be present in a raw dwelling CSV
var RequiredDwellingColumns = []string{
	ColNumeroDPE,
	ColCodeINSEE,
	ColNomCommune,
	ColEtiquetteDPE,
	ColConsumption,
	ColSurface,
	ColTypeBatiment,
	ColPeriode,
	ColEnergieChauffage,
	ColAltitude,
}

// DPE labels in canonical order
var DPELabels = []string{"A", "B", "C", "D", "E", "F", "G"}

// Simplified DPE categories
const (
	CategoryGood     = "Bons (A-B)"
	CategoryAverage  = "Moyens (C-D)"
	CategoryMediocre = "Médiocres (E)"
	CategoryPassoire = "Passoires (F-G)"
)

var DPECategories = []string{CategoryGood, CategoryAverage, CategoryMediocre, CategoryPassoire}

// Construction period categories, bounded by the French thermal regulations
const (
	PeriodBefore1975 = "Avant 1975"
	Period1975To2000 = "1975-2000"
	Period2001To2012 = "2001-2012"
	PeriodAfter2012  = "Après 2012"
)

var PeriodCategories = []string{PeriodBefore1975, Period1975To2000, Period2001To2012, PeriodAfter2012}

// DPEColors follows the official DPE colour chart
var DPEColors = map[string]string{
	"A": "#00A651",
	"B": "#50B847",
	"C": "#C8D220",
	"D": "#FDEE00",
	"E": "#FEB700",
	"F": "#F0832A",
	"G": "#ED1C24",
}

// altitudePalette colours brackets from valley to high mountain
var altitudePalette = []string{"#27ae60", "#f39c12", "#e74c3c", "#9b59b6", "#34495e"}

const fallbackColor = "#95a5a6"

// AltitudeColor returns the palette colour for the i-th altitude bracket
func AltitudeColor(i int) string {
	if i < 0 || i >= len(altitudePalette) {
		return fallbackColor
	}
	return altitudePalette[i]
}
