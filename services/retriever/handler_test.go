// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func postSearch(t *testing.T, svc *Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.POST("/api/retriever/search", HandleSearch(svc))

	req := httptest.NewRequest(http.MethodPost, "/api/retriever/search", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleSearch_ReturnsFilteredResults(t *testing.T) {
	search := &fakeSearcher{hits: []LinkResult{
		{Link: "https://example.com/a", Title: "A", Snippet: "sa"},
		{Link: "https://sketchy.io/b"},
	}}
	svc := NewService(search, testAllowList(t, "example.com"), 10)

	rec := postSearch(t, svc, `{"query":"oauth","maxResults":5,"correlationId":"corr-7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RetrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "corr-7", resp.CorrelationID)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://example.com/a", resp.Results[0].Link)
}

func TestHandleSearch_MintsCorrelationIDWhenAbsent(t *testing.T) {
	svc := NewService(&fakeSearcher{}, testAllowList(t, "example.com"), 10)

	rec := postSearch(t, svc, `{"query":"oauth"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RetrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestHandleSearch_MissingQueryIsBadRequest(t *testing.T) {
	svc := NewService(&fakeSearcher{}, testAllowList(t, "example.com"), 10)
	rec := postSearch(t, svc, `{"maxResults":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_SearchFailureIsBadGateway(t *testing.T) {
	svc := NewService(&fakeSearcher{err: errors.New("engine down")}, testAllowList(t, "example.com"), 10)
	rec := postSearch(t, svc, `{"query":"oauth"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
