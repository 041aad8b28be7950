package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"clara-ai/internal/domain"
	"clara-ai/internal/usecase/capability"
	"clara-ai/internal/usecase/conversation"
	"clara-ai/internal/usecase/dispatch"
	"clara-ai/internal/usecase/handoff"
)

// Session bundles the per-conversation state: bounded history, the active
// capability set, the tool dispatcher bound to this client, and the
// handoff coordinator. Sessions share nothing mutable with each other.
type Session struct {
	ID        string
	CreatedAt time.Time

	History     *conversation.History
	Active      *capability.ActiveSet
	Dispatcher  *dispatch.Dispatcher
	Coordinator *handoff.Coordinator
	Channel     domain.ClientChannel

	// turnMu serializes turn processing: one user turn or tool response
	// is handled to completion before the next is accepted.
	turnMu sync.Mutex

	closed bool
	mu     sync.Mutex
}

func newSessionID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// SessionManager tracks live sessions by id.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	registry *handoff.Registry
	bus      domain.EventBus
	logger   *slog.Logger

	dispatchOpts []dispatch.Option
}

// NewSessionManager creates a session manager. The registry is shared by
// every session's coordinator.
func NewSessionManager(registry *handoff.Registry, bus domain.EventBus, logger *slog.Logger, dispatchOpts ...dispatch.Option) *SessionManager {
	return &SessionManager{
		sessions:     make(map[string]*Session),
		registry:     registry,
		bus:          bus,
		logger:       logger.With("component", "sessions"),
		dispatchOpts: dispatchOpts,
	}
}

// Create opens a new session bound to one client channel.
func (sm *SessionManager) Create(ctx context.Context, channel domain.ClientChannel) *Session {
	now := time.Now()
	s := &Session{
		ID:          newSessionID(now),
		CreatedAt:   now,
		History:     conversation.NewHistory(conversation.DefaultMaxTurns),
		Active:      capability.NewActiveSet(),
		Dispatcher:  dispatch.New(channel, sm.bus, sm.logger, sm.dispatchOpts...),
		Coordinator: handoff.NewCoordinator(sm.registry, sm.bus, sm.logger),
		Channel:     channel,
	}

	sm.mu.Lock()
	sm.sessions[s.ID] = s
	sm.mu.Unlock()

	sm.logger.Info("session created", "session_id", s.ID)
	sm.publish(ctx, domain.EventSessionCreated, s.ID)
	return s
}

// Get returns a live session by id.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	if !ok {
		return nil, domain.NewDomainError("usecase.SessionManager.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the ids of all live sessions.
func (sm *SessionManager) List() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down one session: every pending tool invocation is
// cancelled, the handoff state resets, and the session is forgotten.
func (sm *SessionManager) Close(ctx context.Context, id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if !ok {
		return domain.NewDomainError("usecase.SessionManager.Close", domain.ErrSessionNotFound, id)
	}
	if !s.markClosed() {
		return nil
	}

	s.Dispatcher.Close()
	s.Coordinator.Reset()
	sm.logger.Info("session closed", "session_id", id)
	sm.publish(ctx, domain.EventSessionClosed, id)
	return nil
}

// CloseAll tears down every live session.
func (sm *SessionManager) CloseAll(ctx context.Context) {
	for _, id := range sm.List() {
		if err := sm.Close(ctx, id); err != nil {
			sm.logger.Warn("session close failed", "session_id", id, "error", err)
		}
	}
}

func (sm *SessionManager) publish(ctx context.Context, eventType domain.EventType, sessionID string) {
	if sm.bus == nil {
		return
	}
	sm.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   json.RawMessage(`{}`),
	})
}
