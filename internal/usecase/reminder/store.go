package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"clara-ai/internal/domain"
)

// MemoryStore is an in-memory domain.ReminderStore. Safe for concurrent
// use. State is process-local; a deployment with durable reminders swaps
// in a store backed by the care platform instead.
type MemoryStore struct {
	mu        sync.Mutex
	reminders map[string]domain.Reminder
}

var _ domain.ReminderStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory reminder store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reminders: make(map[string]domain.Reminder)}
}

// Add inserts or replaces a reminder by id.
func (s *MemoryStore) Add(_ context.Context, r domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.ID] = r
	return nil
}

// Due returns the session's unannounced reminders due at or before now,
// oldest first. An empty sessionID matches every session.
func (s *MemoryStore) Due(_ context.Context, sessionID string, now time.Time) ([]domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Reminder
	for _, r := range s.reminders {
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		if !r.Announced && !r.DueAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	return due, nil
}

// Remove deletes a reminder. Unknown ids are a no-op.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reminders, id)
	return nil
}

// MarkAnnounced flags a reminder as delivered. Unknown ids are a no-op.
func (s *MemoryStore) MarkAnnounced(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.reminders[id]; ok {
		r.Announced = true
		s.reminders[id] = r
	}
	return nil
}
