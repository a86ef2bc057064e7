// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scraper

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher(overrides ...func(*FetcherConfig)) *Fetcher {
	cfg := FetcherConfig{PerHostInterval: time.Millisecond, Timeout: 5 * time.Second}
	for _, o := range overrides {
		o(&cfg)
	}
	return NewFetcher(cfg)
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://Example.COM/Path/":      "https://example.com/Path",
		"https://example.com":            "https://example.com/",
		"https://example.com/a?b=1":      "https://example.com/a?b=1",
		"https://example.com/a#fragment": "https://example.com/a",
		"  https://example.com/x  ":      "https://example.com/x",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("/relative/only")
	assert.Error(t, err, "a hostless URL cannot be fetched")
}

func TestFetch_ArchivesGzippedBody(t *testing.T) {
	const page = "<html><body>hello</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "seya-scraper")
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	result, err := testFetcher().Fetch(context.Background(), srv.URL+"/page/")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/page", result.NormalizedURL)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, hashHex([]byte(result.NormalizedURL)), result.URLHash)
	assert.NotEmpty(t, result.ContentHash)

	gz, err := gzip.NewReader(bytes.NewReader(result.Body))
	require.NoError(t, err)
	decompressed, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, page, string(decompressed))
	assert.Equal(t, hashHex([]byte(page)), result.ContentHash, "the hash covers the uncompressed bytes")
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load(), "permanent failures are not retried")
}

func TestFetch_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "recovered")
	}))
	defer srv.Close()

	result, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
}

func TestFetch_ExhaustedRetriesFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_OversizedBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	fetcher := testFetcher(func(cfg *FetcherConfig) { cfg.MaxBodyBytes = 1024 })
	_, err := fetcher.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.True(t, IsPermanent(err))
}

func TestFetch_BodyExactlyAtCapPasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1024))
	}))
	defer srv.Close()

	fetcher := testFetcher(func(cfg *FetcherConfig) { cfg.MaxBodyBytes = 1024 })
	_, err := fetcher.Fetch(context.Background(), srv.URL)
	assert.NoError(t, err)
}

func TestFetch_PerHostPoliteness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	fetcher := testFetcher(func(cfg *FetcherConfig) { cfg.PerHostInterval = 150 * time.Millisecond })

	start := time.Now()
	_, err := fetcher.Fetch(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	_, err = fetcher.Fetch(context.Background(), srv.URL+"/b")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"back-to-back requests to one host must be spaced out")
}
