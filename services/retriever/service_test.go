// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	hits  []LinkResult
	err   error
	query string
	num   int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, num int) ([]LinkResult, error) {
	f.query = query
	f.num = num
	return f.hits, f.err
}

func testAllowList(t *testing.T, domains ...string) *AllowList {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	writeAllowList(t, path, domains...)
	allow, err := LoadAllowList(path)
	require.NoError(t, err)
	return allow
}

func TestService_FiltersHitsAgainstAllowList(t *testing.T) {
	search := &fakeSearcher{hits: []LinkResult{
		{Link: "https://example.com/a", Title: "A"},
		{Link: "https://sketchy.io/b", Title: "B"},
		{Link: "https://docs.example.com/c", Title: "C"},
	}}
	svc := NewService(search, testAllowList(t, "example.com"), 10)

	results, err := svc.Retrieve(context.Background(), "oauth", 0)
	require.NoError(t, err)

	require.Len(t, results, 2, "off-list hits are dropped even when the engine returns them")
	assert.Equal(t, "https://example.com/a", results[0].Link)
	assert.Equal(t, "https://docs.example.com/c", results[1].Link)
	assert.Contains(t, search.query, "site:example.com", "the query is scoped before it leaves the service")
}

func TestService_CapsResultCount(t *testing.T) {
	var hits []LinkResult
	for i := 0; i < 20; i++ {
		hits = append(hits, LinkResult{Link: "https://example.com/p"})
	}
	svc := NewService(&fakeSearcher{hits: hits}, testAllowList(t, "example.com"), 10)

	results, err := svc.Retrieve(context.Background(), "oauth", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = svc.Retrieve(context.Background(), "oauth", 500)
	require.NoError(t, err)
	assert.Len(t, results, 10, "requests above the service cap are clamped to it")
}

func TestService_RejectsBlankQuery(t *testing.T) {
	svc := NewService(&fakeSearcher{}, testAllowList(t, "example.com"), 10)
	_, err := svc.Retrieve(context.Background(), "   ", 5)
	assert.Error(t, err)
}

func TestService_PropagatesSearchFailure(t *testing.T) {
	svc := NewService(&fakeSearcher{err: errors.New("engine down")}, testAllowList(t, "example.com"), 10)
	_, err := svc.Retrieve(context.Background(), "oauth", 5)
	assert.ErrorContains(t, err, "engine down")
}

func TestEvents_RanksHitsAndExtractsDomains(t *testing.T) {
	hits := []LinkResult{
		{Link: "https://www.example.com/a", Title: "A", Snippet: "sa"},
		{Link: "https://docs.example.com/b", Title: "B", Snippet: "sb"},
	}

	events := Events("corr-1", "oauth", hits)

	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Rank)
	assert.Equal(t, 2, events[1].Rank)
	assert.Equal(t, "example.com", events[0].SourceDomain, "the www prefix is stripped")
	assert.Equal(t, "docs.example.com", events[1].SourceDomain)
	for _, ev := range events {
		assert.Equal(t, "corr-1", ev.CorrelationID)
		assert.Equal(t, "oauth", ev.Query)
		assert.Positive(t, ev.FetchedAtMs)
	}
}

func TestSerperClient_SearchDecodesOrganicHits(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"link": "https://example.com/a", "title": "A", "snippet": "sa"},
			},
			"related": []string{"noise the client must ignore"},
		})
	}))
	defer srv.Close()

	client := NewSerperClient(srv.URL, "secret", time.Second)
	hits, err := client.Search(context.Background(), "oauth site:example.com", 7)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, LinkResult{Link: "https://example.com/a", Title: "A", Snippet: "sa"}, hits[0])
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "oauth site:example.com", gotBody["q"])
	assert.Equal(t, float64(7), gotBody["num"])
}

func TestSerperClient_NonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewSerperClient(srv.URL, "secret", time.Second)
	_, err := client.Search(context.Background(), "oauth", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
