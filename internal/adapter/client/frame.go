// Package client carries the data channel between the agent process and
// the companion app: a WebSocket connection over which tool requests go
// out and tool responses, user turns, and one-way events travel.
package client

import "encoding/json"

// FrameType identifies the kind of frame on the data channel.
type FrameType string

const (
	// FrameUserTurn carries a user utterance from the client.
	FrameUserTurn FrameType = "user_turn"
	// FrameToolRequest carries a tool invocation to the client.
	FrameToolRequest FrameType = "tool_request"
	// FrameToolResponse carries a tool result back from the client.
	FrameToolResponse FrameType = "tool_response"
	// FrameEvent carries a one-way structured event to the client
	// (reminder_due, ui_notification, conversation_item).
	FrameEvent FrameType = "event"
)

// Frame is the envelope exchanged over the data channel.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UserTurnPayload is the payload of a FrameUserTurn frame.
type UserTurnPayload struct {
	Text string `json:"text"`
}

// EventPayload is the payload of a FrameEvent frame.
type EventPayload struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}
