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
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamSearchResults is the queue carrying search hits to the scraper.
const StreamSearchResults = "search.results"

// maxStreamLen bounds the queue so an idle scraper cannot grow Redis
// without limit. Trimming is approximate (XADD MAXLEN ~).
const maxStreamLen = 10000

// streamAdder is the slice of the Redis API the publisher needs.
// *redis.Client satisfies it; tests substitute fakes.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends search result events to a Redis stream.
type Publisher struct {
	rdb    streamAdder
	stream string
}

// NewPublisher writes to the given stream; an empty name means
// StreamSearchResults.
func NewPublisher(rdb streamAdder, stream string) *Publisher {
	if stream == "" {
		stream = StreamSearchResults
	}
	return &Publisher{rdb: rdb, stream: stream}
}

// Publish appends one event. The correlation id rides alongside the JSON
// payload so consumers can group a request's hits without decoding.
func (p *Publisher) Publish(ctx context.Context, event SearchResultEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode the search result event: %w", err)
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"correlationId": event.CorrelationID,
			"payload":       string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish the search result event: %w", err)
	}
	return nil
}
