// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	// StreamSearchResults is consumed; the retriever fills it.
	StreamSearchResults = "search.results"
	// StreamPagesFetched is produced; the parser drains it.
	StreamPagesFetched = "scrape.fetched"

	maxOutStreamLen = 10000
)

// streamClient is the slice of the Redis API the consumer needs.
// *redis.Client satisfies it; tests substitute fakes.
type streamClient interface {
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Consumer drains search results and archives each linked page.
//
// # Description
//
// Each batch is processed by a bounded worker group, so several pages
// download in parallel while the per-host politeness limiter still spaces
// requests to any one origin. One page's failure never stops the queue;
// it is counted and skipped.
type Consumer struct {
	rdb     streamClient
	fetcher *Fetcher
	objects ObjectStore
	meta    *MetadataStore
	workers int

	in     string
	out    string
	lastID string
}

// NewConsumer wires the pipeline. workers < 1 means 4; empty stream names
// mean StreamSearchResults and StreamPagesFetched.
func NewConsumer(rdb streamClient, fetcher *Fetcher, objects ObjectStore, meta *MetadataStore, workers int, in, out string) *Consumer {
	if workers < 1 {
		workers = 4
	}
	if in == "" {
		in = StreamSearchResults
	}
	if out == "" {
		out = StreamPagesFetched
	}
	return &Consumer{
		rdb:     rdb,
		fetcher: fetcher,
		objects: objects,
		meta:    meta,
		workers: workers,
		in:      in,
		out:     out,
		lastID:  "$",
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("scrape consumer started", "in", c.in, "out", c.out, "workers", c.workers)
	for {
		streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.in, c.lastID},
			Count:   int64(c.workers * 4),
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Warn("failed to read the search result stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(c.workers)
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.lastID = msg.ID
				group.Go(func() error {
					c.handle(groupCtx, msg)
					return nil
				})
			}
		}
		_ = group.Wait()
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	payload, _ := msg.Values["payload"].(string)
	var event SearchResultEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil || strings.TrimSpace(event.Link) == "" {
		pagesTotal.WithLabelValues("malformed").Inc()
		slog.Warn("skipping a malformed search result", "id", msg.ID)
		return
	}

	start := time.Now()
	if err := c.Process(ctx, event); err != nil {
		outcome := "error"
		if IsPermanent(err) {
			outcome = "rejected"
		}
		pagesTotal.WithLabelValues(outcome).Inc()
		slog.Error("failed to archive a page", "correlationId", event.CorrelationID, "link", event.Link, "error", err)
		return
	}
	pagesTotal.WithLabelValues("success").Inc()
	fetchDuration.Observe(time.Since(start).Seconds())
}

// Process fetches, archives, records, and announces one page.
func (c *Consumer) Process(ctx context.Context, event SearchResultEvent) error {
	result, err := c.fetcher.Fetch(ctx, event.Link)
	if err != nil {
		return err
	}

	fetchedAt := time.Now().UTC()
	key := ArchiveKey(result.URLHash, fetchedAt)
	if err := c.objects.Put(ctx, key, result.Body); err != nil {
		return err
	}

	record := PageRecord{
		DocumentID:    uuid.New().String(),
		CorrelationID: event.CorrelationID,
		URL:           result.NormalizedURL,
		URLHash:       result.URLHash,
		Domain:        result.Domain,
		Title:         event.Title,
		Bucket:        c.objects.Bucket(),
		Key:           key,
		ContentHash:   result.ContentHash,
		HTTPStatus:    result.HTTPStatus,
		FetchedAt:     fetchedAt,
	}
	if err := c.meta.Save(record); err != nil {
		// The object is already archived; the record can be rebuilt from
		// it, so the event still goes out.
		slog.Error("failed to save the page record", "urlHash", result.URLHash, "error", err)
	}

	out := PageFetchedEvent{
		CorrelationID: event.CorrelationID,
		DocumentID:    record.DocumentID,
		URL:           result.NormalizedURL,
		Bucket:        record.Bucket,
		Key:           key,
		ContentHash:   result.ContentHash,
		HTTPStatus:    result.HTTPStatus,
		FetchedAt:     fetchedAt.Format(time.RFC3339),
		URLHash:       result.URLHash,
		Domain:        result.Domain,
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode the page fetched event: %w", err)
	}
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.out,
		MaxLen: maxOutStreamLen,
		Approx: true,
		Values: map[string]any{
			"correlationId": event.CorrelationID,
			"payload":       string(encoded),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish the page fetched event: %w", err)
	}

	slog.Info("page archived",
		"correlationId", event.CorrelationID, "url", result.NormalizedURL,
		"key", key, "status", result.HTTPStatus)
	return nil
}
