// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit implements per-identity admission control for the gateway.
//
// # Description
//
// The gateway admits a backend call only if the requesting user has budget
// left in their token bucket. Buckets refill continuously (greedy refill):
// a bucket with capacity 10 and a 10-second window accrues one token per
// second, capped at capacity. Buckets are created lazily on first use and
// live for the life of the process.
//
// # Thread Safety
//
// The bucket table is a sync.Map keyed by user id; LoadOrStore guarantees a
// single bucket per key even when two sessions race on first use. Each bucket
// guards its balance with its own mutex, so contention is per-key, never
// global.
package ratelimit

import (
	"sync"
	"time"
)

// =============================================================================
// Limiter
// =============================================================================

// Limiter decides whether a keyed request may proceed.
//
// # Description
//
// Limiter is the admission gate consulted by the session handler before any
// backend call is started. Implementations must be safe for concurrent use
// by many sessions.
type Limiter interface {
	// TryConsume takes one token from the bucket for key, creating the
	// bucket at full capacity if the key has not been seen before.
	// Returns false, without mutating the bucket, when no whole token
	// is available.
	TryConsume(key string) bool
}

// TokenBucketLimiter implements Limiter with one token bucket per key.
//
// # Fields
//
//   - capacity: Tokens a full bucket holds. Fixed at creation.
//   - window: Time for an empty bucket to refill completely.
//   - now: Clock function, injectable for tests.
//
// # Limitations
//
//   - Buckets are never evicted. The key set grows with the number of
//     distinct users seen, which is acceptable at gateway scale.
type TokenBucketLimiter struct {
	capacity float64
	refill   float64 // tokens per second
	now      func() time.Time

	buckets sync.Map // key string -> *bucket
}

// bucket holds the real-valued balance for one admission key.
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// New creates a TokenBucketLimiter.
//
// # Inputs
//
//   - capacity: Maximum tokens per bucket. Values below 1 are clamped to 1.
//   - window: Full-refill interval. Values <= 0 default to one second.
//
// # Examples
//
//	limiter := ratelimit.New(10, 10*time.Second) // 10 requests / 10s per user
func New(capacity int, window time.Duration) *TokenBucketLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &TokenBucketLimiter{
		capacity: float64(capacity),
		refill:   float64(capacity) / window.Seconds(),
		now:      time.Now,
	}
}

// NewWithClock creates a TokenBucketLimiter with an injected clock.
// Used by tests that need deterministic refill behaviour.
func NewWithClock(capacity int, window time.Duration, clock func() time.Time) *TokenBucketLimiter {
	l := New(capacity, window)
	l.now = clock
	return l
}

// TryConsume takes one token from the bucket for key.
//
// # Description
//
// Looks up or lazily creates the bucket, credits tokens accrued since the
// last consume (capped at capacity), and decrements by one if at least one
// whole token is available. Check and decrement happen under the bucket's
// mutex, so two sessions sharing a key can never both spend the last token.
//
// # Outputs
//
//   - bool: true when the request is admitted.
func (l *TokenBucketLimiter) TryConsume(key string) bool {
	v, ok := l.buckets.Load(key)
	if !ok {
		// LoadOrStore keeps the winner when two first uses race.
		v, _ = l.buckets.LoadOrStore(key, &bucket{
			tokens: l.capacity,
			last:   l.now(),
		})
	}
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Limiter = (*TokenBucketLimiter)(nil)
