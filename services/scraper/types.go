// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scraper drains the search result queue, fetches each page
// politely, archives the body, and records metadata for the parser.
package scraper

import "time"

// SearchResultEvent mirrors the retriever's per-hit event. Unknown fields
// in the payload are ignored.
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

// PageFetchedEvent announces one archived page to downstream consumers.
type PageFetchedEvent struct {
	CorrelationID string `json:"correlationId"`
	DocumentID    string `json:"documentId"`
	URL           string `json:"url"`
	Bucket        string `json:"bucket"`
	Key           string `json:"key"`
	ContentHash   string `json:"contentHash"`
	HTTPStatus    int    `json:"httpStatus"`
	FetchedAt     string `json:"fetchedAt"`
	URLHash       string `json:"urlHash"`
	Domain        string `json:"domain"`
}

// PageRecord is the metadata row kept for each archived page.
type PageRecord struct {
	DocumentID    string    `json:"documentId"`
	CorrelationID string    `json:"correlationId"`
	URL           string    `json:"url"`
	URLHash       string    `json:"urlHash"`
	Domain        string    `json:"domain"`
	Title         string    `json:"title"`
	Bucket        string    `json:"bucket"`
	Key           string    `json:"key"`
	ContentHash   string    `json:"contentHash"`
	HTTPStatus    int       `json:"httpStatus"`
	FetchedAt     time.Time `json:"fetchedAt"`
}
