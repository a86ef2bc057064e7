// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llmstream adapts the LLM service's server-streaming RPC into a
// cancellable pull-based token sequence for the gateway.
//
// # Description
//
// One Client wraps one process-wide gRPC channel to the LLM service. The
// channel is created at startup and closed once at shutdown; individual calls
// are independent logical streams multiplexed over it. Each call is exposed
// as a *Stream: a lazy sequence of token events with a first-class Cancel
// hook wired to the underlying RPC, so releasing the call never depends on
// the consumer draining the sequence.
//
// # Thread Safety
//
// Client is safe for concurrent Open calls. A Stream has a single logical
// consumer (the owning session), but Cancel may be invoked from any
// goroutine, any number of times.
package llmstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// =============================================================================
// Constants and Errors
// =============================================================================

const (
	// methodStreamResponse is the full method name of the LLM service's
	// server-streaming endpoint.
	methodStreamResponse = "/seya.llm.v1.LLMService/StreamResponse"

	// DefaultCallTimeout bounds a single call. A stream that neither
	// completes nor fails within this guard is forcibly cancelled.
	DefaultCallTimeout = 5 * time.Minute
)

// streamResponseDesc describes the server-streaming shape of the call.
var streamResponseDesc = &grpc.StreamDesc{
	StreamName:    "StreamResponse",
	ServerStreams: true,
}

// ErrTimeout is delivered as the terminal event of a call whose timeout
// guard expired before completion, failure, or consumer cancellation.
var ErrTimeout = errors.New("timeout")

// =============================================================================
// Client
// =============================================================================

// Client owns the shared channel to the LLM service.
//
// # Fields
//
//   - conn: Process-wide gRPC client connection, created once by NewClient.
//   - timeout: Per-call guard applied to every Open.
//
// # Limitations
//
//   - Plaintext transport. TLS is a deployment concern handled in front of
//     the service.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout overrides the default per-call timeout guard.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient establishes the shared channel to the LLM service.
//
// # Description
//
// Creates the gRPC client connection and blocks until it reports Ready or
// ctx expires. A gateway that cannot reach its backend must fail to start
// rather than accept sessions it cannot serve, so callers treat an error
// here as fatal.
//
// # Inputs
//
//   - ctx: Bounds the readiness wait.
//   - target: host:port of the LLM service.
//   - opts: Optional configuration.
//
// # Outputs
//
//   - *Client: Ready for Open calls.
//   - error: Non-nil if the channel could not be established.
func NewClient(ctx context.Context, target string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time: 30 * time.Second,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm channel: %w", err)
	}

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("llm channel to %s not ready: %w", target, ctx.Err())
		}
	}

	c := &Client{conn: conn, timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close tears down the shared channel. Idempotent; called once at process
// shutdown.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Open starts one streaming call against the LLM service.
//
// # Description
//
// Sends the query and returns a Stream yielding the call's tokens in arrival
// order. The call's lifetime is bounded by three independent triggers: the
// backend finishing (completion or error event), Stream.Cancel, and the
// per-call timeout guard. ctx is the session's context; when the owning
// connection goes away the call is torn down with it.
//
// # Outputs
//
//   - *Stream: The call's token sequence. Non-restartable.
//   - error: Non-nil only if the call could not be created at all.
func (c *Client) Open(ctx context.Context, correlationID, userID, query string) (*Stream, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)

	cs, err := c.conn.NewStream(callCtx, streamResponseDesc, methodStreamResponse,
		grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open llm stream: %w", err)
	}

	s := &Stream{
		events:   make(chan Event, 16),
		canceled: make(chan struct{}),
		cancel:   cancel,
	}

	go s.produce(callCtx, cs, &QueryRequest{
		CorrelationID: correlationID,
		UserID:        userID,
		Query:         query,
	})

	return s, nil
}

// =============================================================================
// Stream
// =============================================================================

// Stream is one outstanding call's lazy token sequence.
//
// # Description
//
// The producer goroutine relays backend messages into an internal channel;
// Next pulls from it. After Cancel, Next returns false immediately and
// buffered events are discarded, never delivered, even if they were already
// in flight when Cancel ran.
type Stream struct {
	events   chan Event
	canceled chan struct{}
	cancel   context.CancelFunc

	cancelOnce sync.Once
}

// produce drives the RPC: sends the request, then relays every response
// until completion, failure, cancellation, or the timeout guard.
func (s *Stream) produce(callCtx context.Context, cs grpc.ClientStream, req *QueryRequest) {
	defer close(s.events)
	defer s.cancel()

	if err := cs.SendMsg(req); err != nil {
		s.emit(callCtx, err)
		return
	}
	if err := cs.CloseSend(); err != nil {
		s.emit(callCtx, err)
		return
	}

	for {
		var resp TokenResponse
		if err := cs.RecvMsg(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				return // clean completion: channel close is the signal
			}
			s.emit(callCtx, err)
			return
		}
		select {
		case s.events <- Event{Token: resp.Token}:
		case <-s.canceled:
			return
		}
	}
}

// emit translates a terminal RPC failure into at most one error event.
// Consumer cancellation produces no event at all; the timeout guard is
// reported as ErrTimeout rather than the raw deadline error.
func (s *Stream) emit(callCtx context.Context, err error) {
	select {
	case <-s.canceled:
		return
	default:
	}

	ev := Event{Err: fmt.Errorf("llm stream: %s", status.Convert(err).Message())}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		ev = Event{Err: ErrTimeout}
	}

	select {
	case s.events <- ev:
	case <-s.canceled:
	}
}

// Next returns the next event of the sequence.
//
// # Outputs
//
//   - Event: A token, or a terminal error.
//   - bool: false when the sequence is over — either clean completion (use
//     Canceled to tell) or cancellation. No events follow a false return.
func (s *Stream) Next() (Event, bool) {
	// A completed Cancel wins over anything still buffered.
	select {
	case <-s.canceled:
		return Event{}, false
	default:
	}

	select {
	case <-s.canceled:
		return Event{}, false
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, false
		}
		return ev, true
	}
}

// Cancel synchronously requests cancellation of the underlying call.
//
// # Description
//
// Idempotent and safe from any goroutine. The backend is notified best
// effort through gRPC context cancellation; the consumer is guaranteed to
// see no further events from Next once Cancel returns.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.canceled)
		s.cancel()
	})
}

// Canceled reports whether Cancel has been invoked. A sequence that ended
// with Next returning false completed cleanly only if Canceled is false.
func (s *Stream) Canceled() bool {
	select {
	case <-s.canceled:
		return true
	default:
		return false
	}
}
