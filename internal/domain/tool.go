package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolRequest is the envelope sent to the companion app for a tool call.
type ToolRequest struct {
	RequestID string          `json:"request_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResponse is the envelope the companion app sends back. Status is
// "ok" or "error". A response whose RequestID matches no pending
// invocation is discarded.
type ToolResponse struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

const (
	ToolStatusOK    = "ok"
	ToolStatusError = "error"
)

// ClientChannel is the outbound data channel to the companion app.
// Send failures are surfaced to the caller; the channel itself never
// retries.
type ClientChannel interface {
	// SendToolRequest delivers a tool request envelope to the client.
	SendToolRequest(ctx context.Context, req ToolRequest) error
	// SendEvent delivers a one-way structured event (ui_notification,
	// reminder_due, conversation mirroring). Best-effort.
	SendEvent(ctx context.Context, kind string, payload any) error
}

// ToolInvoker executes a named tool and blocks the caller until a result,
// timeout, or cancellation.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, arguments json.RawMessage) (json.RawMessage, error)
}
