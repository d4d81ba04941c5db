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
	"time"

	"github.com/paulmach/orb"
)

// Record exposes named fields of a typed row to the generic pipeline stages
type Record interface {
	Number(field string) (float64, bool)
	Text(field string) (string, bool)
}

// Dwelling is one energy performance diagnostic (DPE) row
type Dwelling struct {
	NumeroDPE        string
	CodeINSEE        string
	NomCommune       string
	EtiquetteDPE     string
	Consumption      *float64 // kWh/m²/an
	Surface          *float64 // m²
	TypeBatiment     string
	Periode          string
	EnergieChauffage string
	Altitude         *float64 // m

	// Derived by the bucketizers
	AltitudeBracket string
	PeriodCategory  string
	DPECategory     string
}

// Number returns the numeric value of a dwelling column
func (d Dwelling) Number(field string) (float64, bool) {
	var v *float64
	switch field {
	case ColConsumption:
		v = d.Consumption
	case ColSurface:
		v = d.Surface
	case ColAltitude:
		v = d.Altitude
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Text returns the string value of a dwelling column
func (d Dwelling) Text(field string) (string, bool) {
	var v string
	switch field {
	case ColNumeroDPE:
		v = d.NumeroDPE
	case ColCodeINSEE:
		v = d.CodeINSEE
	case ColNomCommune:
		v = d.NomCommune
	case ColEtiquetteDPE:
		v = d.EtiquetteDPE
	case ColTypeBatiment:
		v = d.TypeBatiment
	case ColPeriode:
		v = d.Periode
	case ColEnergieChauffage:
		v = d.EnergieChauffage
	case ColTrancheAltitude:
		v = d.AltitudeBracket
	case ColPeriodeCategorie:
		v = d.PeriodCategory
	case ColCategorieDPE:
		v = d.DPECategory
	}
	return v, v != ""
}

// Dataset is a set of dwellings together with the columns its source provided
type Dataset struct {
	Source  string
	Columns []string
	Rows    []Dwelling
}

// HasColumn reports whether the source provided the named column
func (ds *Dataset) HasColumn(name string) bool {
	for _, c := range ds.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// City is one row of the communes reference table
type City struct {
	CodeINSEE   string
	Name        string
	Latitude    *float64
	Longitude   *float64
	AltitudeMax *float64
	Density     *float64
	AreaKm2     *float64
	Population  *float64
}

// CommuneConsumption is one commune aggregate returned by Enedis
type CommuneConsumption struct {
	CodeCommune   string   `json:"code_commune"`
	NbLogements   *float64 `json:"nombre_de_logements"`
	ConsoTotalMWh *float64 `json:"conso_total_mwh"`
	Annee         *float64 `json:"annee"`
}

// IrisStreet is one street aggregate returned by Enedis
type IrisStreet struct {
	CodeIris      string   `json:"code_iris"`
	TypeDeVoie    string   `json:"type_de_voie"`
	LibelleDeVoie string   `json:"libelle_de_voie"`
	NbLogements   *float64 `json:"nombre_de_logements"`
	ConsoTotalMWh *float64 `json:"conso_total_mwh"`
}

// StreetLocation is one street returned by the ADEME bounding-box query
type StreetLocation struct {
	CodeINSEE  string `json:"code_insee_ban"`
	CodePostal string `json:"code_postal_ban"`
	NomRue     string `json:"nom_rue_ban"`
	GeoPoint   string `json:"_geopoint"`
}

// Diagnostic is one ADEME DPE line, used to refresh the dwelling dataset
type Diagnostic struct {
	NumeroDPE        string   `json:"numero_dpe"`
	CodeINSEE        string   `json:"code_insee_ban"`
	NomCommune       string   `json:"nom_commune_ban"`
	EtiquetteDPE     string   `json:"etiquette_dpe"`
	Consumption      *float64 `json:"conso_5_usages_par_m2_ep"`
	Surface          *float64 `json:"surface_habitable_logement"`
	TypeBatiment     string   `json:"type_batiment"`
	Periode          string   `json:"periode_construction"`
	EnergieChauffage string   `json:"type_energie_principale_chauffage"`
	Altitude         *float64 `json:"altitude_moyenne"`
}

// Dwelling converts the diagnostic into a pipeline record
func (d Diagnostic) Dwelling() Dwelling {
	return Dwelling{
		NumeroDPE:        d.NumeroDPE,
		CodeINSEE:        d.CodeINSEE,
		NomCommune:       d.NomCommune,
		EtiquetteDPE:     d.EtiquetteDPE,
		Consumption:      d.Consumption,
		Surface:          d.Surface,
		TypeBatiment:     d.TypeBatiment,
		Periode:          d.Periode,
		EnergieChauffage: d.EnergieChauffage,
		Altitude:         d.Altitude,
	}
}

// MapCommune is a commune ready to be drawn on the map
type MapCommune struct {
	CodeCommune       string   `json:"code_commune"`
	NomCommune        string   `json:"nom_commune"`
	NbLogements       float64  `json:"nombre_de_logements"`
	ConsoTotalMWh     float64  `json:"conso_total_mwh"`
	ConsoMoyenneMWh   float64  `json:"conso_moyenne_mwh"`
	ScoreMoyenneConso float64  `json:"score_moyenne_conso"`
	ScoreTotalConso   float64  `json:"score_total_conso"`
	Annee             *float64 `json:"annee"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	Altitude          *float64 `json:"altitude"`
	Densite           *float64 `json:"densite"`
	SuperficieKm2     *float64 `json:"superficie_km2"`
}

// Point returns the commune centre
func (m MapCommune) Point() orb.Point {
	return orb.Point{m.Longitude, m.Latitude}
}

func (m MapCommune) Number(field string) (float64, bool) {
	switch field {
	case "nombre_de_logements":
		return m.NbLogements, true
	case "conso_total_mwh":
		return m.ConsoTotalMWh, true
	case "conso_moyenne_mwh":
		return m.ConsoMoyenneMWh, true
	case "score_moyenne_conso":
		return m.ScoreMoyenneConso, true
	case "score_total_conso":
		return m.ScoreTotalConso, true
	case "latitude":
		return m.Latitude, true
	case "longitude":
		return m.Longitude, true
	case "annee":
		return deref(m.Annee)
	case "altitude":
		return deref(m.Altitude)
	case "densite":
		return deref(m.Densite)
	case "superficie_km2":
		return deref(m.SuperficieKm2)
	}
	return 0, false
}

func (m MapCommune) Text(field string) (string, bool) {
	switch field {
	case "code_commune":
		return m.CodeCommune, m.CodeCommune != ""
	case "nom_commune":
		return m.NomCommune, m.NomCommune != ""
	}
	return "", false
}

// MapStreet is a street aggregate ready to be drawn on the zoomed map
type MapStreet struct {
	CodeIris          string  `json:"code_iris"`
	TypeDeVoie        string  `json:"type_de_voie"`
	LibelleDeVoie     string  `json:"libelle_de_voie"`
	VoieISO           string  `json:"voie_iso"`
	CodePostal        string  `json:"code_postal"`
	NbLogements       float64 `json:"nombre_de_logements"`
	ConsoTotalMWh     float64 `json:"conso_total_mwh"`
	ConsoMoyenneMWh   float64 `json:"conso_moyenne_mwh"`
	ScoreMoyenneConso float64 `json:"score_moyenne_conso"`
	ScoreTotalConso   float64 `json:"score_total_conso"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
}

func (m MapStreet) Number(field string) (float64, bool) {
	switch field {
	case "nombre_de_logements":
		return m.NbLogements, true
	case "conso_total_mwh":
		return m.ConsoTotalMWh, true
	case "conso_moyenne_mwh":
		return m.ConsoMoyenneMWh, true
	case "score_moyenne_conso":
		return m.ScoreMoyenneConso, true
	case "score_total_conso":
		return m.ScoreTotalConso, true
	case "latitude":
		return m.Latitude, true
	case "longitude":
		return m.Longitude, true
	}
	return 0, false
}

func (m MapStreet) Text(field string) (string, bool) {
	var v string
	switch field {
	case "code_iris":
		v = m.CodeIris
	case "type_de_voie":
		v = m.TypeDeVoie
	case "libelle_de_voie":
		v = m.LibelleDeVoie
	case "voie_iso":
		v = m.VoieISO
	case "code_postal":
		v = m.CodePostal
	default:
		return "", false
	}
	return v, v != ""
}

// Scale is the observed range of one map layer
type Scale struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// MapScales drives the colour ramps of the map legend
type MapScales struct {
	Altitude Scale `json:"altitude"`
	Densite  Scale `json:"densite"`
}

// GroupStats summarises a measure over one group of rows
type GroupStats struct {
	Key    string  `json:"tranche"`
	Key2   string  `json:"groupe,omitempty"`
	Count  int     `json:"effectif"`
	Mean   float64 `json:"moyenne"`
	Median float64 `json:"mediane"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// BracketCost is the extra yearly heating bill of a bracket against the first one
type BracketCost struct {
	Bracket     string  `json:"tranche"`
	Count       int     `json:"effectif"`
	MeanConso   float64 `json:"conso_moyenne"`
	DeltaConso  float64 `json:"ecart_conso"`
	ExtraAnnual float64 `json:"surcout_annuel"`
}

// DPEShare is the distribution of DPE categories inside one altitude bracket
type DPEShare struct {
	Bracket     string             `json:"tranche"`
	Total       int                `json:"total"`
	Percent     map[string]float64 `json:"pourcentages"`
	LabelCounts map[string]int     `json:"etiquettes"`
	Passoires   int                `json:"nb_passoires"`
}

// HeatCell is the mean consumption for one construction period and bracket
type HeatCell struct {
	Period  string  `json:"periode"`
	Bracket string  `json:"tranche"`
	Mean    float64 `json:"conso_moyenne"`
	Count   int     `json:"effectif"`
}

// Heatmap holds every populated period × bracket cell
type Heatmap struct {
	Periods  []string   `json:"periodes"`
	Brackets []string   `json:"tranches"`
	Cells    []HeatCell `json:"cellules"`
	Highest  *HeatCell  `json:"max,omitempty"`
	Lowest   *HeatCell  `json:"min,omitempty"`
}

// Regression is the least-squares fit of consumption on altitude
type Regression struct {
	Slope       float64 `json:"pente"`
	Intercept   float64 `json:"ordonnee_origine"`
	RSquared    float64 `json:"r2"`
	Per100m     float64 `json:"kwh_par_100m"`
	SampleCount int     `json:"effectif"`
	AltitudeMin float64 `json:"altitude_min"`
	AltitudeMax float64 `json:"altitude_max"`
}

// ScatterPoint is one sampled dwelling for the altitude × consumption chart
type ScatterPoint struct {
	Altitude    float64 `json:"altitude"`
	Consumption float64 `json:"conso"`
	Label       string  `json:"etiquette"`
	Commune     string  `json:"commune"`
}

// Metadata is written next to the cleaned dataset for traceability
type Metadata struct {
	RunID                   string    `json:"run_id"`
	GeneratedAt             time.Time `json:"generated_at"`
	Departement             string    `json:"departement"`
	NomDepartement          string    `json:"nom_departement"`
	NbLogementsTotal        int       `json:"nb_logements_total"`
	NbLogementsAvecAltitude int       `json:"nb_logements_avec_altitude"`
	TauxAltitudePct         float64   `json:"taux_altitude_pct"`
	AltitudeMin             float64   `json:"altitude_min"`
	AltitudeMax             float64   `json:"altitude_max"`
	AltitudeMoyenne         float64   `json:"altitude_moyenne"`
	ConsoMoyenne            float64   `json:"conso_moyenne"`
	ConsoMediane            float64   `json:"conso_mediane"`
	DoublonsSupprimes       int       `json:"doublons_supprimes"`
	LignesInvalides         int       `json:"lignes_invalides"`
	AnomaliesSupprimees     int       `json:"anomalies_supprimees"`
}

// PreparedData is the cleaned, bucketed dataset
type PreparedData struct {
	Dataset  *Dataset
	Metadata Metadata
}

// Headline is the comparison between the lowest and highest brackets
type Headline struct {
	FirstBracket  string  `json:"premiere_tranche"`
	LastBracket   string  `json:"derniere_tranche"`
	FirstMedian   float64 `json:"mediane_premiere"`
	LastMedian    float64 `json:"mediane_derniere"`
	MedianGap     float64 `json:"ecart_mediane"`
	MedianGapPct  float64 `json:"ecart_mediane_pct"`
	MaxExtraCost  float64 `json:"surcout_max"`
	MaxExtraLabel string  `json:"tranche_surcout_max"`
}

// Insight represents a finding written in plain language
type Insight struct {
	Category    string `json:"category"`
	Priority    string `json:"priority"` // high, medium, low
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action,omitempty"`
}

// AnalysisResult holds every summary table produced by the analyzer
type AnalysisResult struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	Metadata       Metadata       `json:"metadata"`
	BracketOrder   []string       `json:"ordre_tranches"`
	BracketStats   []GroupStats   `json:"stats_tranches"`
	ExtraCosts     []BracketCost  `json:"surcouts"`
	DPEShares      []DPEShare     `json:"repartition_dpe"`
	Heatmap        Heatmap        `json:"heatmap"`
	Regression     *Regression    `json:"regression,omitempty"`
	Scatter        []ScatterPoint `json:"scatter,omitempty"`
	Headline       *Headline      `json:"headline,omitempty"`
	Insights       []Insight      `json:"insights"`
	OverallMean    float64        `json:"conso_moyenne_globale"`
	ElectricityEUR float64        `json:"prix_electricite"`
	SurfaceRef     float64        `json:"surface_reference"`
}

// RecordsResponse is the Enedis explore v2.1 envelope
type RecordsResponse[T any] struct {
	TotalCount int `json:"total_count"`
	Results    []T `json:"results"`
}

// LinesResponse is the ADEME data-fair envelope
type LinesResponse[T any] struct {
	Total   int    `json:"total"`
	Next    string `json:"next"`
	Results []T    `json:"results"`
}

// OpenMeteoElevationResponse represents the Open-Meteo elevation API response
type OpenMeteoElevationResponse struct {
	Elevation []float64 `json:"elevation"`
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

func ptr(v float64) *float64 {
	return &v
}
