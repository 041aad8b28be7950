// Package reminder watches the reminder store and announces items as they
// come due, pushing a reminder_due event to the connected client so the
// companion app can chime even when the conversation is idle.
package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clara-ai/internal/domain"
)

// DefaultCheckSpec is the cron expression for the due-check cadence.
const DefaultCheckSpec = "@every 30s"

// Monitor periodically scans the store for due reminders and announces
// each one at most once.
type Monitor struct {
	store     domain.ReminderStore
	channel   domain.ClientChannel
	bus       domain.EventBus
	logger    *slog.Logger
	spec      string
	sessionID string

	cron    *cron.Cron
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithCheckSpec overrides the due-check cron expression.
func WithCheckSpec(spec string) Option {
	return func(m *Monitor) {
		if spec != "" {
			m.spec = spec
		}
	}
}

// WithSession scopes the due scan to one session, so a shared store never
// leaks another conversation's reminders onto this channel.
func WithSession(sessionID string) Option {
	return func(m *Monitor) {
		m.sessionID = sessionID
	}
}

// NewMonitor creates a Monitor. The channel may be nil when no client is
// connected; due reminders are then only published on the bus.
func NewMonitor(store domain.ReminderStore, channel domain.ClientChannel, bus domain.EventBus, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		store:   store,
		channel: channel,
		bus:     bus,
		logger:  logger.With("component", "reminder_monitor"),
		spec:    DefaultCheckSpec,
		cron:    cron.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start schedules the recurring due check. Idempotent.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	if _, err := m.cron.AddFunc(m.spec, func() { m.CheckNow(m.ctx) }); err != nil {
		return domain.NewDomainError("reminder.Monitor.Start", err, m.spec)
	}
	m.cron.Start()
	m.started = true
	m.logger.Info("reminder monitor started", "spec", m.spec)
	return nil
}

// Stop halts the due check and waits for an in-flight run to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.cancel()
	<-m.cron.Stop().Done()
	m.started = false
	m.logger.Info("reminder monitor stopped")
}

// CheckNow runs one due scan immediately. Exposed so a turn handler can
// force a check after the user sets a reminder for "right now".
func (m *Monitor) CheckNow(ctx context.Context) {
	due, err := m.store.Due(ctx, m.sessionID, time.Now())
	if err != nil {
		m.logger.Warn("due check failed", "error", err)
		return
	}

	for _, r := range due {
		m.announce(ctx, r)
	}
}

func (m *Monitor) announce(ctx context.Context, r domain.Reminder) {
	if m.channel != nil {
		payload := map[string]string{
			"id":     r.ID,
			"text":   r.Text,
			"due_at": r.DueAt.Format(time.RFC3339),
		}
		if err := m.channel.SendEvent(ctx, "reminder_due", payload); err != nil {
			// Leave the reminder unannounced so the next scan retries.
			m.logger.Warn("reminder push failed", "id", r.ID, "error", err)
			return
		}
	}

	if err := m.store.MarkAnnounced(ctx, r.ID); err != nil {
		m.logger.Warn("mark announced failed", "id", r.ID, "error", err)
		return
	}
	m.logger.Info("reminder announced", "id", r.ID, "text", r.Text)

	if m.bus != nil {
		raw, err := json.Marshal(map[string]string{"id": r.ID, "text": r.Text})
		if err != nil {
			return
		}
		m.bus.Publish(ctx, domain.Event{
			Type:      domain.EventReminderDue,
			Timestamp: time.Now(),
			SessionID: r.SessionID,
			Payload:   raw,
		})
	}
}
