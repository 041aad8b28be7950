package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"clara-ai/internal/domain"
)

// Tracker mirrors confirmed client-side reminder mutations into the
// server-side store so the due monitor sees what the companion app
// actually created. Only tool round trips that came back with an ok
// status reach Record.
type Tracker struct {
	store  domain.ReminderStore
	logger *slog.Logger
}

// NewTracker creates a tracker over the given store.
func NewTracker(store domain.ReminderStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With("component", "reminder_tracker"),
	}
}

type reminderAddArgs struct {
	Text  string `json:"text"`
	DueAt string `json:"due_at"`
}

type reminderAddResult struct {
	ID string `json:"id"`
}

type reminderIDArgs struct {
	ID string `json:"id"`
}

// Record inspects one confirmed tool result and updates the store for
// the reminder tools. Every other tool is ignored.
func (t *Tracker) Record(ctx context.Context, sessionID, tool string, args, result json.RawMessage) {
	switch tool {
	case "reminder_add":
		t.recordAdd(ctx, sessionID, args, result)
	case "reminder_complete":
		t.recordComplete(ctx, args, result)
	}
}

func (t *Tracker) recordAdd(ctx context.Context, sessionID string, args, result json.RawMessage) {
	var a reminderAddArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Text == "" {
		t.logger.Debug("reminder_add arguments unusable", "error", err)
		return
	}
	dueAt, err := time.Parse(time.RFC3339, a.DueAt)
	if err != nil {
		t.logger.Debug("reminder_add due_at unparseable", "due_at", a.DueAt, "error", err)
		return
	}

	var res reminderAddResult
	if err := json.Unmarshal(result, &res); err != nil || res.ID == "" {
		t.logger.Debug("reminder_add result carried no id")
		return
	}

	if err := t.store.Add(ctx, domain.Reminder{
		ID:        res.ID,
		SessionID: sessionID,
		Text:      a.Text,
		DueAt:     dueAt,
	}); err != nil {
		t.logger.Warn("reminder store add failed", "id", res.ID, "error", err)
		return
	}
	t.logger.Info("reminder tracked", "id", res.ID, "due_at", a.DueAt)
}

func (t *Tracker) recordComplete(ctx context.Context, args, result json.RawMessage) {
	// The id may live in the arguments or in the client's result.
	var a reminderIDArgs
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		if err := json.Unmarshal(result, &a); err != nil || a.ID == "" {
			t.logger.Debug("reminder_complete carried no id")
			return
		}
	}
	if err := t.store.Remove(ctx, a.ID); err != nil {
		t.logger.Warn("reminder store remove failed", "id", a.ID, "error", err)
		return
	}
	t.logger.Info("reminder completed", "id", a.ID)
}
