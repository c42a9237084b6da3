// Package command issues request/response calls to the backend through the event relay.
package command

import (
	"context"
	"encoding/json"
)

// Request is the relay envelope: the relay forwards Method+Params to URL on behalf of the token holder.
type Request struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	Params    Params `json:"params,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Token     string `json:"token"`
}

// Params are form parameters forwarded to the backend.
type Params map[string]string

// Set stores value under key, skipping empty values so optional parameters stay absent.
func (p Params) Set(key, value string) Params {
	if value != "" {
		p[key] = value
	}
	return p
}

// Sender issues one command call and returns the response payload.
type Sender interface {
	Send(ctx context.Context, req Request) (json.RawMessage, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request) (json.RawMessage, error)

// Send calls f(ctx, req).
func (f SenderFunc) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}
