// Package conversation holds the bounded per-session turn history used by
// the intent classifier and the confirmation gate.
package conversation

import (
	"strings"
	"sync"
	"time"

	"clara-ai/internal/domain"
)

// DefaultMaxTurns bounds the history ring buffer.
const DefaultMaxTurns = 10

// History is an ordered, bounded record of conversation turns. When the
// bound is reached the oldest turn is dropped silently.
type History struct {
	mu    sync.RWMutex
	turns []domain.Turn
	max   int
}

// NewHistory creates a history bounded at maxTurns (DefaultMaxTurns when <= 0).
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &History{max: maxTurns}
}

// Append records a turn, evicting the oldest if the buffer is full.
func (h *History) Append(role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, domain.Turn{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
	if len(h.turns) > h.max {
		h.turns = h.turns[len(h.turns)-h.max:]
	}
}

// Turns returns a copy of the current history, oldest first.
func (h *History) Turns() []domain.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make([]domain.Turn, len(h.turns))
	copy(cp, h.turns)
	return cp
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// RecentUserText joins the text of the last n user turns, oldest first.
// Used by the classifier to recover intent that the current utterance
// alone under-specifies.
func (h *History) RecentUserText(n int) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var parts []string
	for _, turn := range h.turns {
		if turn.Role == domain.RoleUser {
			parts = append(parts, turn.Text)
		}
	}
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	return strings.Join(parts, " ")
}

// LastAgentText returns the text of the most recent agent turn, or "".
func (h *History) LastAgentText() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == domain.RoleAgent {
			return h.turns[i].Text
		}
	}
	return ""
}
