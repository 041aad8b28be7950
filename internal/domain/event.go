package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventTurnIngested      EventType = "turn.ingested"
	EventIntentClassified  EventType = "intent.classified"
	EventCapabilitiesSet   EventType = "capability.set.updated"
	EventToolRequestSent   EventType = "tool.request.sent"
	EventToolResponseRecv  EventType = "tool.response.received"
	EventToolTimeout       EventType = "tool.request.timeout"
	EventHandoffStarted    EventType = "handoff.started"
	EventHandoffReturned   EventType = "handoff.returned"
	EventHandoffRejected   EventType = "handoff.rejected"
	EventConfirmationAsked EventType = "confirmation.asked"
	EventConfirmationDone  EventType = "confirmation.resolved"
	EventReminderDue       EventType = "reminder.due"
	EventSessionCreated    EventType = "session.created"
	EventSessionClosed     EventType = "session.closed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Empty eventType subscribes to every event.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
