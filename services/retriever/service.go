// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Searcher abstracts the web search backend. *SerperClient satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]LinkResult, error)
}

// Service ties search, allow-listing, and result shaping together.
type Service struct {
	search     Searcher
	allow      *AllowList
	maxResults int
}

var _ Searcher = (*SerperClient)(nil)

// NewService builds the retrieval service. maxResults caps every request;
// out-of-range values are clamped to [1, 100].
func NewService(search Searcher, allow *AllowList, maxResults int) *Service {
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 100 {
		maxResults = 100
	}
	return &Service{search: search, allow: allow, maxResults: maxResults}
}

// Retrieve runs one allow-listed search.
//
// The query is scoped to the listed domains with site: operators, and the
// hits are filtered against the list again because search engines do not
// always honor the operators. max <= 0 means the service cap.
func (s *Service) Retrieve(ctx context.Context, query string, max int) ([]LinkResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if max <= 0 || max > s.maxResults {
		max = s.maxResults
	}

	hits, err := s.search.Search(ctx, s.allow.BuildQuery(query), s.maxResults)
	if err != nil {
		return nil, err
	}

	results := make([]LinkResult, 0, max)
	for _, hit := range hits {
		if !s.allow.IsAllowed(hit.Link) {
			continue
		}
		results = append(results, hit)
		if len(results) == max {
			break
		}
	}
	return results, nil
}

// Events shapes one request's hits into per-hit scraper events, ranked in
// SERP order.
func Events(correlationID, query string, hits []LinkResult) []SearchResultEvent {
	now := time.Now().UnixMilli()
	events := make([]SearchResultEvent, 0, len(hits))
	for i, hit := range hits {
		events = append(events, SearchResultEvent{
			CorrelationID: correlationID,
			Query:         query,
			SourceDomain:  extractDomain(hit.Link),
			Link:          hit.Link,
			Title:         hit.Title,
			Snippet:       hit.Snippet,
			Rank:          i + 1,
			FetchedAtMs:   now,
		})
	}
	return events
}

func extractDomain(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}
