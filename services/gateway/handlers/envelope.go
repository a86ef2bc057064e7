// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

// Inbound command types.
const (
	CommandStart  = "start"
	CommandCancel = "cancel"
)

// Outbound envelope types. The first envelope on every session is connected.
const (
	ResponseConnected = "connected"
	ResponseToken     = "token"
	ResponseComplete  = "complete"
	ResponseError     = "error"
	ResponseCancelAck = "cancel_ack"
)

// Error reasons carried by error envelopes for locally recovered failures.
// Upstream failures carry the backend's message instead.
const (
	ReasonInvalidJSON = "invalid_json"
	ReasonRateLimited = "rate_limited"
	ReasonBusy        = "busy"
	ReasonUnknownType = "unknown_type"
)

// CommandEnvelope is one inbound client frame.
//
// UserID is optional on start commands and falls back to the session id,
// so anonymous browsers are rate limited per connection.
type CommandEnvelope struct {
	Type   string `json:"type"`
	Query  string `json:"query,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// ResponseEnvelope is one outbound frame.
//
// Exactly one payload field is populated per type: CorrelationID for
// connected, Data for token, Error for error. complete and cancel_ack are
// bare.
type ResponseEnvelope struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId,omitempty"`
	Data          string `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
}
