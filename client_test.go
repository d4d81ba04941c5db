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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalogConfig(t *testing.T, enedisURL, ademeURL string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Catalog.EnedisURL = enedisURL
	cfg.Catalog.AdemeURL = ademeURL
	cfg.Catalog.RetryDelay = 0
	cfg.Catalog.Timeout = 5 * time.Second
	return cfg
}

func fakeCommunes(n int) []CommuneConsumption {
	rows := make([]CommuneConsumption, n)
	for i := range rows {
		rows[i] = CommuneConsumption{
			CodeCommune:   fmt.Sprintf("74%03d", i+1),
			NbLogements:   ptr(float64(100 + i)),
			ConsoTotalMWh: ptr(float64(500 + i)),
		}
	}
	return rows
}

// enedisFixture serves rows with limit/offset paging and counts requests
func enedisFixture(t *testing.T, rows []CommuneConsumption, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/records", r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "mountainscore")

		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		if limit == 0 {
			limit = len(rows)
		}
		end := min(offset+limit, len(rows))
		page := []CommuneConsumption{}
		if offset < len(rows) {
			page = rows[offset:end]
		}
		_ = json.NewEncoder(w).Encode(RecordsResponse[CommuneConsumption]{TotalCount: len(rows), Results: page})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOffsetPagerPagination(t *testing.T) {
	rows := fakeCommunes(250)
	var requests atomic.Int32
	srv := enedisFixture(t, rows, &requests)

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	client := NewCatalogClient(srv.URL, cfg.Catalog, NewDiscardLogger())

	pager := NewOffsetPager[CommuneConsumption](client, "/records", nil, 100)
	var sizes []int
	var progress []float64
	var all []CommuneConsumption
	for pager.Next(context.Background()) {
		sizes = append(sizes, len(pager.Page()))
		progress = append(progress, pager.Progress())
		all = append(all, pager.Page()...)
	}
	require.NoError(t, pager.Err())

	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, []float64{40, 80, 100}, progress)
	assert.Equal(t, int32(3), requests.Load())

	single := Get[RecordsResponse[CommuneConsumption]](context.Background(), client, "/records", nil)
	require.True(t, single.OK())
	assert.Equal(t, single.Value.Results, all)
}

func TestOffsetPagerExactMultiple(t *testing.T) {
	var requests atomic.Int32
	srv := enedisFixture(t, fakeCommunes(200), &requests)
	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	client := NewCatalogClient(srv.URL, cfg.Catalog, NewDiscardLogger())

	all, err := NewOffsetPager[CommuneConsumption](client, "/records", nil, 100).CollectAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 200)
	assert.Equal(t, int32(3), requests.Load(), "a trailing empty page ends the walk")
}

func TestFetchRetriesThenFails(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	client := NewCatalogClient(srv.URL, cfg.Catalog, NewDiscardLogger())

	res := Get[RecordsResponse[CommuneConsumption]](context.Background(), client, "/records", nil)
	require.False(t, res.OK())
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, int32(4), requests.Load())

	var fetchErr *FetchError
	require.True(t, errors.As(res.Err, &fetchErr))
	assert.Equal(t, 4, fetchErr.Attempts)

	var apiErr *APIError
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestFetchRecoversAfterFailure(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"total_count":1,"results":[{"code_commune":"74010"}]}`)
	}))
	defer srv.Close()

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	client := NewCatalogClient(srv.URL, cfg.Catalog, NewDiscardLogger())

	res := Get[RecordsResponse[CommuneConsumption]](context.Background(), client, "/records", nil)
	require.True(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "74010", res.Value.Results[0].CodeCommune)
}

func TestFetchDoesNotRetryDecodeErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	client := NewCatalogClient(srv.URL, cfg.Catalog, NewDiscardLogger())

	res := Get[RecordsResponse[CommuneConsumption]](context.Background(), client, "/records", nil)
	assert.False(t, res.OK())
	assert.Equal(t, int32(1), requests.Load())
}

func TestFetchStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	cfg.Catalog.RetryDelay = time.Hour
	client := NewCatalogClient(srv.URL, cfg.Catalog, NewDiscardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := Get[RecordsResponse[CommuneConsumption]](ctx, client, "/records", nil)
	require.False(t, res.OK())
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestCursorPagerFollowsNext(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		resp := LinesResponse[Diagnostic]{Total: 5}
		switch q.Get("page") {
		case "":
			assert.Equal(t, "2", q.Get("size"))
			assert.Contains(t, q.Get("qs"), "code_departement_ban:74 AND date_derniere_modification_dpe:[2024-01-15 TO *]")
			resp.Results = []Diagnostic{{NumeroDPE: "1"}, {NumeroDPE: "2"}}
			resp.Next = srvURL + r.URL.Path + "?page=2&size=2"
		case "2":
			resp.Results = []Diagnostic{{NumeroDPE: "3"}, {NumeroDPE: "4"}}
			resp.Next = srvURL + r.URL.Path + "?page=3&size=2"
		case "3":
			resp.Results = []Diagnostic{{NumeroDPE: "5"}}
			resp.Next = srvURL + r.URL.Path + "?page=4&size=2"
		default:
			t.Errorf("unexpected page %q", q.Get("page"))
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()
	srvURL = srv.URL

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	cfg.Catalog.AdemePageSize = 2
	ademe := NewAdemeClient(cfg, NewDiscardLogger())

	pager := ademe.DiagnosticsPager(ademeExistingEndpoint, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	var ids []string
	for pager.Next(context.Background()) {
		for _, d := range pager.Page() {
			ids = append(ids, d.NumeroDPE)
		}
	}
	require.NoError(t, pager.Err())
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	assert.Equal(t, 100.0, pager.Progress())
}

func TestEnedisStreetsFromINSEE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, `startswith(code_iris, "74010") or startswith(code_iris, "74056")`, q.Get("where"))
		assert.Equal(t, "libelle_de_voie, type_de_voie", q.Get("group_by"))
		assert.Equal(t, "2", q.Get("limit"))

		offset, _ := strconv.Atoi(q.Get("offset"))
		all := []IrisStreet{
			{CodeIris: "740100101", TypeDeVoie: "RUE", LibelleDeVoie: "ROYALE"},
			{CodeIris: "740100102", TypeDeVoie: "AVENUE", LibelleDeVoie: "DE GENEVE"},
			{CodeIris: "740560101", TypeDeVoie: "PLACE", LibelleDeVoie: "BALMAT"},
		}
		end := min(offset+2, len(all))
		_ = json.NewEncoder(w).Encode(RecordsResponse[IrisStreet]{TotalCount: len(all), Results: all[offset:end]})
	}))
	defer srv.Close()

	cfg := testCatalogConfig(t, srv.URL, srv.URL)
	cfg.Catalog.EnedisChunkSize = 2
	enedis := NewEnedisClient(cfg, NewDiscardLogger())
	codes := []string{"74010", "74056"}

	first, next, err := enedis.StreetsFromINSEE(context.Background(), codes, 0)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	require.NotNil(t, next)
	assert.Equal(t, 2, *next)

	last, next, err := enedis.StreetsFromINSEE(context.Background(), codes, *next)
	require.NoError(t, err)
	assert.Len(t, last, 1)
	assert.Nil(t, next)
}

func TestEnedisCommunesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "code_commune", q.Get("group_by"))
		assert.Equal(t, `startswith(code_commune, "74")`, q.Get("where"))
		assert.Contains(t, q.Get("select"), "AVG(year(annee)) as annee")
		_ = json.NewEncoder(w).Encode(RecordsResponse[CommuneConsumption]{TotalCount: 1, Results: fakeCommunes(1)})
	}))
	defer srv.Close()

	enedis := NewEnedisClient(testCatalogConfig(t, srv.URL, srv.URL), NewDiscardLogger())
	communes, err := enedis.Communes(context.Background())
	require.NoError(t, err)
	assert.Len(t, communes, 1)
}

func TestAdemeStreetsInBound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dpe03existant/lines", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "6.1,45.8,6.2,45.95", q.Get("bbox"))
		assert.Equal(t, "nom_rue_ban", q.Get("collapse"))
		assert.Equal(t, "300", q.Get("size"))
		fmt.Fprint(w, `{"total":1,"results":[{"code_insee_ban":"74010","code_postal_ban":"74000","nom_rue_ban":"Rue Royale","_geopoint":"45.9,6.12"}]}`)
	}))
	defer srv.Close()

	ademe := NewAdemeClient(testCatalogConfig(t, srv.URL, srv.URL), NewDiscardLogger())
	bound := orb.Bound{Min: orb.Point{6.1, 45.8}, Max: orb.Point{6.2, 45.95}}

	streets, err := ademe.StreetsInBound(context.Background(), bound)
	require.NoError(t, err)
	require.Len(t, streets, 1)
	assert.Equal(t, "Rue Royale", streets[0].NomRue)
}

func TestCatalogClientTrimsBaseURL(t *testing.T) {
	c := NewCatalogClient("https://example.org/api/", CatalogConfig{}, NewDiscardLogger())
	assert.Equal(t, "https://example.org/api", c.baseURL)
}
