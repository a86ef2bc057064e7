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
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStreams serves canned XRead batches and records XAdd calls.
type fakeStreams struct {
	mu      sync.Mutex
	batches [][]redis.XMessage
	added   []*redis.XAddArgs
}

func (f *fakeStreams) XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult([]redis.XStream{
			{Stream: StreamSearchResults, Messages: batch},
		}, nil)
	}
	f.mu.Unlock()
	<-ctx.Done()
	return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
}

func (f *fakeStreams) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	f.added = append(f.added, a)
	f.mu.Unlock()
	return redis.NewStringResult("1-1", nil)
}

func (f *fakeStreams) fetched(t *testing.T) []PageFetchedEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]PageFetchedEvent, 0, len(f.added))
	for _, args := range f.added {
		var ev PageFetchedEvent
		payload := args.Values.(map[string]any)["payload"].(string)
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events
}

func searchResultMessage(t *testing.T, id string, event SearchResultEvent) redis.XMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]any{
		"correlationId": event.CorrelationID,
		"payload":       string(payload),
	}}
}

func TestConsumer_ArchivesQueuedPages(t *testing.T) {
	const page = "<html><body>archive me</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	rdb := &fakeStreams{batches: [][]redis.XMessage{{
		searchResultMessage(t, "1-1", SearchResultEvent{
			CorrelationID: "corr-1", Query: "oauth", Link: srv.URL + "/a", Title: "A", Rank: 1,
		}),
		{ID: "1-2", Values: map[string]any{"payload": "{not json"}},
	}}}

	objects, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta := openTestStore(t)
	fetcher := testFetcher()

	consumer := NewConsumer(rdb, fetcher, objects, meta, 2, "", "")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = consumer.Run(ctx)
	assert.Error(t, err, "the run ends only when its context does")

	events := rdb.fetched(t)
	require.Len(t, events, 1, "the malformed entry is skipped, the good one is archived")
	ev := events[0]
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.Equal(t, srv.URL+"/a", ev.URL)
	assert.Equal(t, http.StatusOK, ev.HTTPStatus)
	assert.NotEmpty(t, ev.DocumentID)
	assert.Equal(t, objects.Bucket(), ev.Bucket)

	record, err := meta.Get(ev.URLHash)
	require.NoError(t, err)
	assert.Equal(t, ev.DocumentID, record.DocumentID)
	assert.Equal(t, ev.Key, record.Key)
	assert.Equal(t, "A", record.Title)
	assert.Equal(t, hashHex([]byte(page)), record.ContentHash)
}

func TestConsumer_FetchFailureDoesNotStopTheQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "fine")
	}))
	defer srv.Close()

	rdb := &fakeStreams{batches: [][]redis.XMessage{{
		searchResultMessage(t, "1-1", SearchResultEvent{CorrelationID: "corr-1", Link: srv.URL + "/gone"}),
		searchResultMessage(t, "1-2", SearchResultEvent{CorrelationID: "corr-1", Link: srv.URL + "/ok"}),
	}}}

	objects, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	consumer := NewConsumer(rdb, testFetcher(), objects, openTestStore(t), 1, "", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = consumer.Run(ctx)

	events := rdb.fetched(t)
	require.Len(t, events, 1)
	assert.Equal(t, srv.URL+"/ok", events[0].URL)
}
