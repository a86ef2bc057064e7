// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retriever turns user queries into allow-listed web search hits
// and publishes each hit as an event for the downstream scraper.
package retriever

// RetrieveRequest is the inbound search request, accepted over HTTP and
// over the search.requests queue alike.
type RetrieveRequest struct {
	Query         string `json:"query" binding:"required"`
	MaxResults    int    `json:"maxResults,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// RetrieveResponse is the synchronous HTTP reply.
type RetrieveResponse struct {
	CorrelationID string       `json:"correlationId"`
	Results       []LinkResult `json:"results"`
}

// LinkResult is one allow-listed search hit.
type LinkResult struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchResultEvent is the per-hit event handed to the scraper. Rank is the
// 1-based SERP position; FetchedAtMs is when the retriever saw the hit.
type SearchResultEvent struct {
	CorrelationID string `json:"correlationId"`
	Query         string `json:"query"`
	SourceDomain  string `json:"sourceDomain"`
	Link          string `json:"link"`
	Title         string `json:"title"`
	Snippet       string `json:"snippet"`
	Rank          int    `json:"rank"`
	FetchedAtMs   int64  `json:"fetchedAtMs"`
}

type serperItem struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type serperResponse struct {
	Organic []serperItem `json:"organic"`
}
