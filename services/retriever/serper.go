// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SerperClient calls the Serper web search API.
//
// # Description
//
// One POST to {baseURL}/search per query, authenticated with the X-API-KEY
// header. Only the organic results are decoded; everything else in the
// response body is ignored.
type SerperClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSerperClient builds a search client. timeout bounds one whole request
// including body read; values below 200ms are raised to 200ms because the
// API cannot answer faster than that anyway.
func NewSerperClient(baseURL, apiKey string, timeout time.Duration) *SerperClient {
	if timeout < 200*time.Millisecond {
		timeout = 200 * time.Millisecond
	}
	return &SerperClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Search runs one query and returns the organic hits in SERP order.
func (c *SerperClient) Search(ctx context.Context, query string, num int) ([]LinkResult, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": num})
	if err != nil {
		return nil, fmt.Errorf("failed to encode the search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build the search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var decoded serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode the search response: %w", err)
	}

	hits := make([]LinkResult, 0, len(decoded.Organic))
	for _, item := range decoded.Organic {
		hits = append(hits, LinkResult{Link: item.Link, Title: item.Title, Snippet: item.Snippet})
	}
	return hits, nil
}
