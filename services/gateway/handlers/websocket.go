// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the gateway's client-facing session handling.
//
// # Description
//
// One websocket connection is one session. The session handler owns the
// connection end to end: it assigns a correlation id, parses inbound command
// envelopes, consults admission control, drives the streaming call adapter,
// and serializes outbound envelopes. Per-command failures are answered with
// error envelopes and leave the session open; only transport failure closes
// a session.
//
// # Session state machine
//
//	Connecting -> Open -> Idle <-> Streaming
//
// Closed is reachable from every state via transport closure. Open is
// entered exactly once, emits the connected envelope, and immediately
// becomes Idle. Streaming is entered only from Idle on an admitted start
// and always returns to Idle unless the transport closes first.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seya-ai/chat-assistant/services/gateway/llmstream"
	"github.com/seya-ai/chat-assistant/services/gateway/observability"
	"github.com/seya-ai/chat-assistant/services/gateway/ratelimit"
)

// =============================================================================
// Dependencies
// =============================================================================

// TokenStream is the consumer-facing view of one backend call.
// *llmstream.Stream satisfies it; tests substitute fakes.
type TokenStream interface {
	// Next returns the next event; false means the sequence is over.
	Next() (llmstream.Event, bool)
	// Cancel idempotently cancels the call; no events follow.
	Cancel()
	// Canceled reports whether Cancel has been invoked.
	Canceled() bool
}

// StreamOpener starts one backend call. Production wiring adapts
// llmstream.Client.Open; tests supply fakes.
type StreamOpener func(ctx context.Context, correlationID, userID, query string) (TokenStream, error)

// ErrSessionClosed is returned by writes attempted after the session closed.
var ErrSessionClosed = errors.New("session closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// =============================================================================
// Session
// =============================================================================

type sessionState int

const (
	stateConnecting sessionState = iota
	stateOpen
	stateIdle
	stateStreaming
	stateClosed
)

// session holds the mutable per-connection state. It is the only place in
// the gateway with such state; everything else is shared and immutable.
//
// # Thread Safety
//
// mu guards state and the active call; writeMu serializes every frame
// written to the websocket, which gorilla requires and which also gives the
// ordering guarantee that a call's envelopes never interleave with another
// command's replies.
type session struct {
	conn          *websocket.Conn
	id            string
	correlationID string

	mu     sync.Mutex
	state  sessionState
	active TokenStream

	writeMu sync.Mutex
	closed  bool
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:          conn,
		id:            uuid.New().String(),
		correlationID: uuid.New().String(),
		state:         stateConnecting,
	}
}

// send writes one envelope. Serialized; a no-op after close so that no
// envelope is ever attempted on a dead transport.
func (s *session) send(env ResponseEnvelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if err := s.conn.WriteJSON(env); err != nil {
		slog.Warn("websocket write failed", "sessionId", s.id, "type", env.Type, "error", err)
		return err
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordEnvelope(env.Type)
	}
	return nil
}

// sendToken forwards one token unless the stream was cancelled. The
// cancellation check happens under the write lock, on the same side of the
// cancel_ack write, so a token can never trail its call's cancellation.
func (s *session) sendToken(stream TokenStream, token string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if stream.Canceled() {
		return nil
	}
	if err := s.conn.WriteJSON(ResponseEnvelope{Type: ResponseToken, Data: token}); err != nil {
		slog.Warn("websocket write failed", "sessionId", s.id, "type", ResponseToken, "error", err)
		return err
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordEnvelope(ResponseToken)
		m.TokensRelayedTotal.Inc()
	}
	return nil
}

// open emits the connected envelope and moves the session to Idle.
func (s *session) open() error {
	s.mu.Lock()
	s.state = stateOpen
	s.mu.Unlock()

	err := s.send(ResponseEnvelope{Type: ResponseConnected, CorrelationID: s.correlationID})

	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()
	return err
}

// close cancels any in-flight call and marks the session dead. Safe to call
// more than once; triggered by transport closure from either side.
func (s *session) close() {
	s.mu.Lock()
	active := s.active
	s.active = nil
	alreadyClosed := s.state == stateClosed
	s.state = stateClosed
	s.mu.Unlock()

	if active != nil {
		active.Cancel()
	}

	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()

	if !alreadyClosed {
		slog.Info("session closed", "sessionId", s.id, "correlationId", s.correlationID)
	}
}

// =============================================================================
// Handler
// =============================================================================

// HandleChatWebSocket returns the gin handler for the chat endpoint.
//
// # Description
//
// Upgrades the request, runs the session's read loop, and tears the session
// down on disconnect. Each session costs one goroutine for reads plus one
// per active call for forwarding tokens; neither ever blocks the other
// sessions.
//
// # Inputs
//
//   - opener: Starts backend calls. Must not be nil.
//   - limiter: Admission control consulted before every call. Must not be nil.
func HandleChatWebSocket(opener StreamOpener, limiter ratelimit.Limiter) gin.HandlerFunc {
	if opener == nil {
		panic("HandleChatWebSocket: opener must not be nil")
	}
	if limiter == nil {
		panic("HandleChatWebSocket: limiter must not be nil")
	}
	tracer := otel.Tracer("seya.gateway.handlers.websocket")

	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}

		sess := newSession(ws)
		defer ws.Close()
		defer sess.close()

		slog.Info("session opened", "sessionId", sess.id, "correlationId", sess.correlationID)
		if m := observability.DefaultMetrics; m != nil {
			m.SessionOpened()
			defer m.SessionClosed()
		}

		if err := sess.open(); err != nil {
			return
		}

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				slog.Info("websocket client disconnected", "sessionId", sess.id, "error", err.Error())
				return
			}
			handleFrame(c.Request.Context(), tracer, sess, opener, limiter, raw)
		}
	}
}

// handleFrame dispatches one inbound frame. Every failure path answers with
// an error envelope and leaves the session open; nothing here terminates
// the connection or the current call except an explicit cancel.
func handleFrame(ctx context.Context, tracer trace.Tracer, sess *session,
	opener StreamOpener, limiter ratelimit.Limiter, raw []byte) {

	var cmd CommandEnvelope
	if err := json.Unmarshal(raw, &cmd); err != nil {
		_ = sess.send(ResponseEnvelope{Type: ResponseError, Error: ReasonInvalidJSON})
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordCommand(cmd.Type)
	}

	switch cmd.Type {
	case CommandStart:
		handleStart(ctx, tracer, sess, opener, limiter, cmd)
	case CommandCancel:
		handleCancel(sess)
	default:
		_ = sess.send(ResponseEnvelope{Type: ResponseError, Error: ReasonUnknownType})
	}
}

// handleStart admits, opens, and begins forwarding one backend call.
func handleStart(ctx context.Context, tracer trace.Tracer, sess *session,
	opener StreamOpener, limiter ratelimit.Limiter, cmd CommandEnvelope) {

	ctx, span := tracer.Start(ctx, "HandleStart")
	defer span.End()

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		userID = sess.id
	}
	span.SetAttributes(
		attribute.String("session.id", sess.id),
		attribute.String("session.correlation_id", sess.correlationID),
		attribute.String("user.id", userID),
	)

	if !limiter.TryConsume(userID) {
		slog.Info("start denied by rate limit", "sessionId", sess.id, "userId", userID)
		if m := observability.DefaultMetrics; m != nil {
			m.RateLimitDeniedTotal.Inc()
		}
		_ = sess.send(ResponseEnvelope{Type: ResponseError, Error: ReasonRateLimited})
		return
	}

	sess.mu.Lock()
	if sess.state != stateIdle || sess.active != nil {
		sess.mu.Unlock()
		_ = sess.send(ResponseEnvelope{Type: ResponseError, Error: ReasonBusy})
		return
	}

	stream, err := opener(ctx, sess.correlationID, userID, cmd.Query)
	if err != nil {
		sess.mu.Unlock()
		span.RecordError(err)
		slog.Error("failed to open llm stream", "sessionId", sess.id, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordUpstreamError("open")
		}
		_ = sess.send(ResponseEnvelope{Type: ResponseError, Error: err.Error()})
		return
	}
	sess.active = stream
	sess.state = stateStreaming
	sess.mu.Unlock()

	slog.Info("llm stream opened", "sessionId", sess.id, "correlationId", sess.correlationID, "userId", userID)
	go forward(sess, stream)
}

// handleCancel cancels the active call, if any, then acknowledges. A cancel
// with no call in flight is acknowledged as a no-op.
func handleCancel(sess *session) {
	sess.mu.Lock()
	active := sess.active
	sess.active = nil
	if sess.state == stateStreaming {
		sess.state = stateIdle
	}
	sess.mu.Unlock()

	if active != nil {
		active.Cancel()
		slog.Info("llm stream cancelled by client", "sessionId", sess.id)
	}
	_ = sess.send(ResponseEnvelope{Type: ResponseCancelAck})
}

// forward relays one call's token sequence to the client.
//
// Tokens go out in exactly the order received. Completion yields one
// complete envelope; failure yields one error envelope and never a
// complete. A cancelled sequence yields neither.
func forward(sess *session, stream TokenStream) {
	start := time.Now()
	outcome := "success"

	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}
		if ev.Err != nil {
			outcome = "error"
			reason := "upstream"
			if errors.Is(ev.Err, llmstream.ErrTimeout) {
				reason = "timeout"
			}
			slog.Warn("llm stream failed", "sessionId", sess.id, "reason", reason, "error", ev.Err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordUpstreamError(reason)
			}
			_ = sess.send(ResponseEnvelope{Type: ResponseError, Error: ev.Err.Error()})
			finishCall(sess, stream)
			recordStream(outcome, start)
			return
		}
		if err := sess.sendToken(stream, ev.Token); err != nil {
			// Client gone mid-stream: release the call, nothing to report.
			stream.Cancel()
			finishCall(sess, stream)
			recordStream("disconnect", start)
			return
		}
	}

	if stream.Canceled() {
		outcome = "canceled"
	} else {
		_ = sess.send(ResponseEnvelope{Type: ResponseComplete})
	}
	finishCall(sess, stream)
	recordStream(outcome, start)
}

// finishCall returns the session to Idle if this stream is still the active
// call. A cancel or close that already detached the stream wins.
func finishCall(sess *session, stream TokenStream) {
	sess.mu.Lock()
	if sess.active == stream {
		sess.active = nil
		if sess.state == stateStreaming {
			sess.state = stateIdle
		}
	}
	sess.mu.Unlock()
}

func recordStream(outcome string, start time.Time) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordStream(outcome, time.Since(start).Seconds())
	}
}
