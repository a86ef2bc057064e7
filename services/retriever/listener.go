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
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamSearchRequests is the queue carrying asynchronous search requests,
// typically enqueued by the gateway on behalf of a chat session.
const StreamSearchRequests = "search.requests"

// streamReader is the slice of the Redis API the listener needs.
type streamReader interface {
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
}

// Listener drains the search request queue, retrieves, and publishes one
// event per hit.
type Listener struct {
	rdb    streamReader
	svc    *Service
	pub    *Publisher
	stream string
	lastID string
}

// NewListener consumes from the given stream; an empty name means
// StreamSearchRequests. Consumption starts at the stream tail.
func NewListener(rdb streamReader, svc *Service, pub *Publisher, stream string) *Listener {
	if stream == "" {
		stream = StreamSearchRequests
	}
	return &Listener{rdb: rdb, svc: svc, pub: pub, stream: stream, lastID: "$"}
}

// Run blocks until ctx is cancelled. A malformed entry is logged and
// skipped; a retrieval failure drops that request, nothing else.
func (l *Listener) Run(ctx context.Context) error {
	slog.Info("search request listener started", "stream", l.stream)
	for {
		streams, err := l.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{l.stream, l.lastID},
			Count:   16,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Warn("failed to read the search request stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				l.lastID = msg.ID
				l.handle(ctx, msg)
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, msg redis.XMessage) {
	payload, _ := msg.Values["payload"].(string)
	var req RetrieveRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil || strings.TrimSpace(req.Query) == "" {
		slog.Warn("skipping a malformed search request", "id", msg.ID)
		return
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		if key, _ := msg.Values["correlationId"].(string); key != "" {
			correlationID = key
		} else {
			correlationID = uuid.New().String()
		}
	}

	hits, err := l.svc.Retrieve(ctx, req.Query, req.MaxResults)
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		slog.Error("queued retrieval failed", "correlationId", correlationID, "error", err)
		return
	}
	searchesTotal.WithLabelValues("success").Inc()

	for _, event := range Events(correlationID, req.Query, hits) {
		if err := l.pub.Publish(ctx, event); err != nil {
			slog.Error("failed to publish a search result", "correlationId", correlationID, "link", event.Link, "error", err)
			continue
		}
		hitsPublishedTotal.Inc()
	}
	slog.Info("search request served", "correlationId", correlationID, "hits", len(hits))
}
