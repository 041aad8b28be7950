package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"clara-ai/internal/domain"
)

type captureChannel struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (c *captureChannel) SendToolRequest(context.Context, domain.ToolRequest) error { return nil }

func (c *captureChannel) SendEvent(_ context.Context, kind string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, kind)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreDueFiltering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s.Add(ctx, domain.Reminder{ID: "past", Text: "take pills", DueAt: now.Add(-time.Minute)})
	s.Add(ctx, domain.Reminder{ID: "future", Text: "call mom", DueAt: now.Add(time.Hour)})
	s.Add(ctx, domain.Reminder{ID: "done", Text: "water plants", DueAt: now.Add(-time.Hour), Announced: true})

	due, err := s.Due(ctx, "", now)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "past" {
		t.Errorf("due = %v, want only 'past'", due)
	}
}

func TestStoreDueScopedToSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s.Add(ctx, domain.Reminder{ID: "mine", SessionID: "s1", Text: "take pills", DueAt: now.Add(-time.Minute)})
	s.Add(ctx, domain.Reminder{ID: "theirs", SessionID: "s2", Text: "call mom", DueAt: now.Add(-time.Minute)})

	due, err := s.Due(ctx, "s1", now)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "mine" {
		t.Errorf("due = %v, want only 'mine'", due)
	}

	// An empty session id still sees everything.
	all, _ := s.Due(ctx, "", now)
	if len(all) != 2 {
		t.Errorf("unscoped due = %v, want both reminders", all)
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s.Add(ctx, domain.Reminder{ID: "r1", Text: "take pills", DueAt: now.Add(-time.Minute)})
	if err := s.Remove(ctx, "r1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "r1"); err != nil {
		t.Fatalf("Remove of unknown id: %v", err)
	}

	due, _ := s.Due(ctx, "", now)
	if len(due) != 0 {
		t.Errorf("due = %v after remove, want none", due)
	}
}

func TestCheckNowScopedToSession(t *testing.T) {
	s := NewMemoryStore()
	ch := &captureChannel{}
	m := NewMonitor(s, ch, nil, testLogger(), WithSession("s1"))
	ctx := context.Background()

	s.Add(ctx, domain.Reminder{ID: "mine", SessionID: "s1", Text: "take pills", DueAt: time.Now().Add(-time.Second)})
	s.Add(ctx, domain.Reminder{ID: "theirs", SessionID: "s2", Text: "call mom", DueAt: time.Now().Add(-time.Second)})

	m.CheckNow(ctx)

	if ch.count() != 1 {
		t.Errorf("announced %d reminders, want only this session's", ch.count())
	}
}

func TestStoreDueOrderedOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s.Add(ctx, domain.Reminder{ID: "b", DueAt: now.Add(-time.Minute)})
	s.Add(ctx, domain.Reminder{ID: "a", DueAt: now.Add(-time.Hour)})

	due, _ := s.Due(ctx, "", now)
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
		t.Errorf("due = %v, want [a b]", due)
	}
}

func TestCheckNowAnnouncesOnce(t *testing.T) {
	s := NewMemoryStore()
	ch := &captureChannel{}
	m := NewMonitor(s, ch, nil, testLogger())
	ctx := context.Background()

	s.Add(ctx, domain.Reminder{ID: "r1", Text: "take pills", DueAt: time.Now().Add(-time.Second)})

	m.CheckNow(ctx)
	m.CheckNow(ctx)

	if ch.count() != 1 {
		t.Errorf("reminder announced %d times, want 1", ch.count())
	}
}

func TestCheckNowRetriesOnPushFailure(t *testing.T) {
	s := NewMemoryStore()
	ch := &captureChannel{err: errors.New("channel closed")}
	m := NewMonitor(s, ch, nil, testLogger())
	ctx := context.Background()

	s.Add(ctx, domain.Reminder{ID: "r1", Text: "take pills", DueAt: time.Now().Add(-time.Second)})
	m.CheckNow(ctx)

	// Push failed: still unannounced, so the next scan picks it up.
	ch.mu.Lock()
	ch.err = nil
	ch.mu.Unlock()
	m.CheckNow(ctx)

	if ch.count() != 1 {
		t.Errorf("announced %d times after recovery, want 1", ch.count())
	}
}

func TestCheckNowPublishesEvent(t *testing.T) {
	s := NewMemoryStore()
	got := make(chan domain.Event, 1)
	bus := &stubBus{ch: got}
	m := NewMonitor(s, &captureChannel{}, bus, testLogger())
	ctx := context.Background()

	s.Add(ctx, domain.Reminder{ID: "r1", SessionID: "s1", Text: "call mom", DueAt: time.Now().Add(-time.Second)})
	m.CheckNow(ctx)

	select {
	case e := <-got:
		if e.Type != domain.EventReminderDue || e.SessionID != "s1" {
			t.Errorf("event = %+v", e)
		}
	default:
		t.Fatal("no event published")
	}
}

func TestStartStop(t *testing.T) {
	s := NewMemoryStore()
	m := NewMonitor(s, nil, nil, testLogger(), WithCheckSpec("@every 1h"))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	m.Stop()
	m.Stop()
}

func TestStartInvalidSpec(t *testing.T) {
	m := NewMonitor(NewMemoryStore(), nil, nil, testLogger(), WithCheckSpec("not a cron spec"))
	if err := m.Start(context.Background()); err == nil {
		t.Error("expected error for invalid cron spec")
	}
}

// stubBus records published events on a channel.
type stubBus struct {
	ch chan domain.Event
}

func (b *stubBus) Publish(_ context.Context, e domain.Event) {
	select {
	case b.ch <- e:
	default:
	}
}

func (b *stubBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *stubBus) Close()                                                 {}
