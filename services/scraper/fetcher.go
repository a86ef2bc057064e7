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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrBodyTooLarge marks pages over the configured size cap; they are not
// retried.
var ErrBodyTooLarge = errors.New("page body exceeds the size cap")

// permanentError wraps failures that retrying cannot fix (4xx other than
// 429, over-cap bodies).
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether a fetch failure is not worth retrying.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// FetchResult is one successfully archived page body.
type FetchResult struct {
	NormalizedURL string
	URLHash       string
	Domain        string
	ContentHash   string
	HTTPStatus    int
	// Body holds the gzip-compressed page bytes, ready for the object
	// store; ContentHash covers the uncompressed bytes.
	Body []byte
}

// FetcherConfig tunes one Fetcher.
type FetcherConfig struct {
	UserAgent string
	// MaxBodyBytes caps the uncompressed body; <= 0 means 8 MiB.
	MaxBodyBytes int64
	// PerHostInterval is the politeness gap between requests to one host;
	// <= 0 means 1s.
	PerHostInterval time.Duration
	// Timeout bounds one attempt; <= 0 means 20s.
	Timeout time.Duration
	// Retries is the number of attempts for transient failures; < 1 means 2.
	Retries int
}

// Fetcher downloads pages with per-host politeness and bounded retries.
//
// # Thread Safety
//
// Safe for concurrent use; one rate limiter is kept per host so parallel
// workers never hammer a single origin.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	interval  time.Duration
	retries   int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	if cfg.PerHostInterval <= 0 {
		cfg.PerHostInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Retries < 1 {
		cfg.Retries = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "seya-scraper/1.0"
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBodyBytes,
		interval:  cfg.PerHostInterval,
		retries:   cfg.Retries,
		hosts:     make(map[string]*rate.Limiter),
	}
}

// NormalizeURL lowercases the host, defaults the scheme to https, and
// strips trailing slashes so one page hashes to one key.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse the URL: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("URL %q has no host", raw)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Path == "" {
		parsed.Path = "/"
	} else if parsed.Path != "/" {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
		if parsed.Path == "" {
			parsed.Path = "/"
		}
	}
	parsed.Fragment = ""
	return parsed.String(), nil
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// hostLimiter returns the politeness limiter for one host, creating it on
// first sight with a single-token burst.
func (f *Fetcher) hostLimiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.hosts[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.interval), 1)
		f.hosts[host] = lim
	}
	return lim
}

// Fetch downloads one page.
//
// Transient failures (connection errors, 5xx, 429) are retried with
// exponential backoff; permanent ones (other 4xx, over-cap bodies) fail
// immediately and satisfy IsPermanent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, permanentError{err}
	}
	parsed, _ := url.Parse(normalized)
	host := parsed.Hostname()

	if err := f.hostLimiter(host).Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < f.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := f.fetchOnce(ctx, normalized, host)
		if err == nil {
			return result, nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all %d fetch attempts failed: %w", f.retries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, normalized, host string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		return nil, permanentError{err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("server returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, permanentError{err}
	}

	sum := sha256.New()
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)

	// One extra byte past the cap tells an over-cap body apart from one
	// that is exactly at it.
	n, err := io.Copy(io.MultiWriter(sum, gz), io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read the body: %w", err)
	}
	if n > f.maxBytes {
		return nil, permanentError{ErrBodyTooLarge}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress the body: %w", err)
	}

	return &FetchResult{
		NormalizedURL: normalized,
		URLHash:       hashHex([]byte(normalized)),
		Domain:        host,
		ContentHash:   hex.EncodeToString(sum.Sum(nil)),
		HTTPStatus:    resp.StatusCode,
		Body:          compressed.Bytes(),
	}, nil
}

// ArchiveKey is the object store key for one page, dated so operators can
// expire old prefixes wholesale.
func ArchiveKey(urlHash string, fetchedAt time.Time) string {
	fetchedAt = fetchedAt.UTC()
	return fmt.Sprintf("raw/%04d/%02d/%02d/sha256-%s.html.gz",
		fetchedAt.Year(), fetchedAt.Month(), fetchedAt.Day(), urlHash)
}
