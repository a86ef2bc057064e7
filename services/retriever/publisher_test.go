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
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamAdder struct {
	mu    sync.Mutex
	added []*redis.XAddArgs
	err   error
}

func (f *fakeStreamAdder) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	f.added = append(f.added, a)
	f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1-1", nil)
}

type fakeStreamReader struct {
	mu      sync.Mutex
	batches [][]redis.XMessage
}

func (f *fakeStreamReader) XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult([]redis.XStream{
			{Stream: StreamSearchRequests, Messages: batch},
		}, nil)
	}
	f.mu.Unlock()

	// Queue drained; behave like a blocking read until the caller gives up.
	<-ctx.Done()
	return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
}

func TestPublisher_AppendsEventWithCorrelationKey(t *testing.T) {
	rdb := &fakeStreamAdder{}
	pub := NewPublisher(rdb, "")

	event := SearchResultEvent{
		CorrelationID: "corr-1",
		Query:         "oauth",
		SourceDomain:  "example.com",
		Link:          "https://example.com/a",
		Rank:          1,
		FetchedAtMs:   1234,
	}
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, rdb.added, 1)
	args := rdb.added[0]
	assert.Equal(t, StreamSearchResults, args.Stream)
	assert.Equal(t, "corr-1", args.Values.(map[string]any)["correlationId"])

	var decoded SearchResultEvent
	payload := args.Values.(map[string]any)["payload"].(string)
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, event, decoded)
}

func TestListener_ServesQueuedRequests(t *testing.T) {
	payload, err := json.Marshal(RetrieveRequest{Query: "oauth", MaxResults: 5})
	require.NoError(t, err)

	reader := &fakeStreamReader{batches: [][]redis.XMessage{{
		{ID: "1-1", Values: map[string]any{"correlationId": "corr-9", "payload": string(payload)}},
		{ID: "1-2", Values: map[string]any{"payload": "{not json"}},
	}}}
	adder := &fakeStreamAdder{}

	search := &fakeSearcher{hits: []LinkResult{
		{Link: "https://example.com/a", Title: "A"},
		{Link: "https://example.com/b", Title: "B"},
	}}
	svc := NewService(search, testAllowList(t, "example.com"), 10)
	listener := NewListener(reader, svc, NewPublisher(adder, ""), "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = listener.Run(ctx)
	assert.Error(t, err, "the run ends only when its context does")

	// The well-formed request yields one event per hit; the malformed one
	// is skipped without stopping the listener.
	adder.mu.Lock()
	defer adder.mu.Unlock()
	require.Len(t, adder.added, 2)
	for i, args := range adder.added {
		var ev SearchResultEvent
		require.NoError(t, json.Unmarshal([]byte(args.Values.(map[string]any)["payload"].(string)), &ev))
		assert.Equal(t, "corr-9", ev.CorrelationID, "the stream key backfills a missing correlation id")
		assert.Equal(t, i+1, ev.Rank)
	}
}
