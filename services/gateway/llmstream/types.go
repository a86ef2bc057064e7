// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmstream

// QueryRequest is the single request message of one streaming call.
type QueryRequest struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	Query         string `json:"query"`
}

// TokenResponse carries one incremental piece of generated text.
type TokenResponse struct {
	Token string `json:"token"`
}

// Event is one element of a call's token sequence.
//
// Exactly one of the fields is meaningful: a token when Err is nil, or the
// terminal failure when Err is set. Completion is signalled by the sequence
// ending without an error event.
type Event struct {
	Token string
	Err   error
}
