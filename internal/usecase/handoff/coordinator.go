// Package handoff tracks which agent identity owns a conversation and
// mediates transfers between the orchestrator and named specialists.
//
// The coordinator is a small state machine: control starts at the
// orchestrator, moves to a specialist on an accepted handoff, and returns
// by popping the handoff stack. Actions that need the user's explicit
// go-ahead park behind a confirmation gate until the next user turn
// answers yes or no.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"clara-ai/internal/domain"
)

// PendingAction describes a proposed action awaiting an explicit user yes.
type PendingAction struct {
	// Description is what the agent asked the user to confirm.
	Description string
	// Specialist optionally names the specialist to hand control to once
	// confirmed. Empty when the action stays with the current identity.
	Specialist string
	// Execute performs the confirmed action. May be nil when the action
	// is only a handoff.
	Execute func(ctx context.Context) error
	// AskedAt is when the confirmation question was put to the user.
	AskedAt time.Time
}

// Reply classifies a user turn answering a confirmation question.
type Reply int

const (
	ReplyUnrelated Reply = iota
	ReplyAffirmative
	ReplyNegative
)

var (
	affirmativeRe = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|ok|okay|please do|go ahead|do it|correct|right|absolutely|definitely|of course)\b`)
	negativeRe    = regexp.MustCompile(`(?i)\b(no|nope|nah|not now|don'?t|never ?mind|cancel|stop|wrong|forget it)\b`)
)

// ClassifyReply maps a user turn to affirmative, negative, or unrelated.
// Negatives win over affirmatives ("no, that's not right").
func ClassifyReply(text string) Reply {
	t := strings.TrimSpace(text)
	switch {
	case negativeRe.MatchString(t):
		return ReplyNegative
	case affirmativeRe.MatchString(t):
		return ReplyAffirmative
	default:
		return ReplyUnrelated
	}
}

// Coordinator owns the agent identity for one conversation. Its methods
// are safe for concurrent use, though a session normally drives it from
// a single goroutine.
type Coordinator struct {
	registry *Registry
	bus      domain.EventBus
	logger   *slog.Logger

	mu      sync.Mutex
	current domain.Identity
	stack   []domain.Identity
	pending *PendingAction
}

// NewCoordinator creates a coordinator starting at the orchestrator.
func NewCoordinator(registry *Registry, bus domain.EventBus, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		bus:      bus,
		logger:   logger.With("component", "handoff"),
		current:  domain.Orchestrator,
	}
}

// Profile returns the registered profile for a specialist name.
func (c *Coordinator) Profile(name string) (domain.SpecialistProfile, error) {
	return c.registry.Get(name)
}

// MatchIntent finds the registered specialist, if any, whose scope the
// classified intent names directly.
func (c *Coordinator) MatchIntent(result domain.IntentResult) (domain.SpecialistProfile, bool) {
	return c.registry.Match(result)
}

// Current returns the identity that presently owns the conversation.
func (c *Coordinator) Current() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Depth reports how many identities are waiting on the handoff stack.
func (c *Coordinator) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}

// HandoffTo transfers control to a registered specialist. The previous
// identity is pushed so Return can restore it. An unregistered name is
// rejected without any state change.
func (c *Coordinator) HandoffTo(ctx context.Context, name string) (domain.SpecialistProfile, error) {
	profile, err := c.registry.Get(name)
	if err != nil {
		c.logger.Warn("handoff rejected", "specialist", name, "known", c.registry.Names())
		c.publish(ctx, domain.EventHandoffRejected, map[string]string{"specialist": name})
		return domain.SpecialistProfile{}, err
	}

	c.mu.Lock()
	from := c.current
	c.stack = append(c.stack, c.current)
	c.current = domain.Specialist(name)
	to := c.current
	c.mu.Unlock()

	c.logger.Info("handoff", "from", from.String(), "to", to.String())
	c.publish(ctx, domain.EventHandoffStarted, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
	return profile, nil
}

// Return pops the handoff stack and restores the previous identity.
// Called by a specialist once its work is done and spoken.
func (c *Coordinator) Return(ctx context.Context) (domain.Identity, error) {
	c.mu.Lock()
	if len(c.stack) == 0 {
		c.mu.Unlock()
		return c.current, domain.NewDomainError("handoff.Return", domain.ErrNoPendingHandoff, c.current.String())
	}
	from := c.current
	c.current = c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	restored := c.current
	c.mu.Unlock()

	c.logger.Info("handoff returned", "from", from.String(), "to", restored.String())
	c.publish(ctx, domain.EventHandoffReturned, map[string]string{
		"from": from.String(),
		"to":   restored.String(),
	})
	return restored, nil
}

// Reset restores the orchestrator identity and clears the stack and any
// pending confirmation. Called at session end.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.current = domain.Orchestrator
	c.stack = nil
	c.pending = nil
	c.mu.Unlock()
}

// RequestConfirmation parks an action until the user explicitly agrees.
// A newer request replaces any older one still waiting.
func (c *Coordinator) RequestConfirmation(ctx context.Context, action PendingAction) {
	if action.AskedAt.IsZero() {
		action.AskedAt = time.Now()
	}
	c.mu.Lock()
	c.pending = &action
	c.mu.Unlock()

	c.logger.Debug("confirmation requested", "action", action.Description)
	c.publish(ctx, domain.EventConfirmationAsked, map[string]string{"action": action.Description})
}

// PendingConfirmation reports whether a confirmation question is open.
func (c *Coordinator) PendingConfirmation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// ResolveConfirmation consumes the pending action against the user's
// reply. On an affirmative reply the action executes (and any attached
// handoff happens); a negative or unrelated reply clears the gate
// without acting. Returns the classified reply and, when one fired,
// the action.
func (c *Coordinator) ResolveConfirmation(ctx context.Context, userText string) (Reply, *PendingAction, error) {
	c.mu.Lock()
	action := c.pending
	if action == nil {
		c.mu.Unlock()
		return ReplyUnrelated, nil, nil
	}
	reply := ClassifyReply(userText)
	c.pending = nil
	c.mu.Unlock()

	outcome := "dismissed"
	if reply == ReplyAffirmative {
		outcome = "confirmed"
	}
	c.publish(ctx, domain.EventConfirmationDone, map[string]string{
		"action":  action.Description,
		"outcome": outcome,
	})

	if reply != ReplyAffirmative {
		c.logger.Debug("confirmation dismissed", "action", action.Description, "reply", userText)
		return reply, nil, nil
	}

	c.logger.Info("confirmation accepted", "action", action.Description)
	if action.Execute != nil {
		if err := action.Execute(ctx); err != nil {
			return reply, action, domain.WrapOp("handoff.ResolveConfirmation", err)
		}
	}
	if action.Specialist != "" {
		if _, err := c.HandoffTo(ctx, action.Specialist); err != nil {
			return reply, action, err
		}
	}
	return reply, action, nil
}

// RejectionMessage builds the user-facing reply for a refused handoff,
// listing the specialists that do exist.
func (c *Coordinator) RejectionMessage(name string) string {
	known := c.registry.Names()
	if len(known) == 0 {
		return fmt.Sprintf("I can't hand this over to %q right now. Let me keep helping you myself.", name)
	}
	return fmt.Sprintf("I can't hand this over to %q. I can bring in: %s.", name, strings.Join(known, ", "))
}

func (c *Coordinator) publish(ctx context.Context, eventType domain.EventType, payload map[string]string) {
	if c.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: domain.SessionIDFromContext(ctx),
		Payload:   raw,
	})
}
