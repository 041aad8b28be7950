package domain

import (
	"context"
	"time"
)

// Reminder is a scheduled item the assistant announces when due.
type Reminder struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	DueAt     time.Time `json:"due_at"`
	Announced bool      `json:"announced"`
}

// ReminderStore holds reminders for due-checking. A single store may back
// several sessions; reads are always scoped to one session so a monitor
// never announces another conversation's reminders.
type ReminderStore interface {
	Add(ctx context.Context, r Reminder) error
	// Due returns the session's reminders due at or before now that have
	// not been announced yet. An empty sessionID matches every session.
	Due(ctx context.Context, sessionID string, now time.Time) ([]Reminder, error)
	// MarkAnnounced records that a reminder was delivered to the client.
	MarkAnnounced(ctx context.Context, id string) error
	// Remove deletes a reminder (completed or cancelled on the client).
	Remove(ctx context.Context, id string) error
}
