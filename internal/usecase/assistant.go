// Package usecase drives the conversation pipeline: each user turn is
// ingested into history, classified for intent, mapped to a capability
// set, and the language model's instructions and tools are updated when
// that set actually changed. Handoffs and confirmation gates run ahead
// of classification so a parked action consumes the turn that answers it.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"clara-ai/internal/domain"
	"clara-ai/internal/infra/tracer"
	"clara-ai/internal/usecase/capability"
	"clara-ai/internal/usecase/handoff"
	"clara-ai/internal/usecase/intent"
)

// TurnResult reports what one user turn did to the conversation.
type TurnResult struct {
	Intent             domain.IntentResult
	Identity           domain.Identity
	CapabilitiesSwapped bool
	// ConfirmationConsumed is set when the turn answered a pending
	// confirmation question instead of starting new work.
	ConfirmationConsumed bool
	// Reply carries a user-facing message produced by the pipeline
	// itself (e.g. a handoff rejection). Empty when the language model
	// should answer as usual.
	Reply string
}

// Assistant wires the classifier, assembler, and updater into the
// per-turn pipeline. One Assistant serves all sessions; per-conversation
// state lives on the Session.
type Assistant struct {
	classifier *intent.Classifier
	refiner    *intent.Refiner
	assembler  *capability.Assembler
	updater    domain.InstructionUpdater
	bus        domain.EventBus
	logger     *slog.Logger
	userName   string
	mirror     bool
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithRefiner attaches an LLM-backed second pass for low-confidence
// classifications.
func WithRefiner(r *intent.Refiner) AssistantOption {
	return func(a *Assistant) { a.refiner = r }
}

// WithUserName sets the display name substituted into capability content.
func WithUserName(name string) AssistantOption {
	return func(a *Assistant) { a.userName = name }
}

// WithConversationMirroring forwards each turn to the client channel so
// the companion app can render a transcript.
func WithConversationMirroring() AssistantOption {
	return func(a *Assistant) { a.mirror = true }
}

// NewAssistant builds the turn pipeline.
func NewAssistant(classifier *intent.Classifier, assembler *capability.Assembler, updater domain.InstructionUpdater, bus domain.EventBus, logger *slog.Logger, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		classifier: classifier,
		assembler:  assembler,
		updater:    updater,
		bus:        bus,
		logger:     logger.With("component", "assistant"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleUserTurn processes one user utterance end to end. Turns within a
// session are handled strictly one at a time.
func (a *Assistant) HandleUserTurn(ctx context.Context, sess *Session, text string) (TurnResult, error) {
	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	if sess.Closed() {
		return TurnResult{}, domain.NewDomainError("usecase.HandleUserTurn", domain.ErrSessionClosed, sess.ID)
	}

	ctx = domain.ContextWithSessionID(ctx, sess.ID)
	ctx, span := tracer.StartSpan(ctx, "handle_user_turn")
	defer span.End()

	sess.History.Append(domain.RoleUser, text)
	a.publish(ctx, sess.ID, domain.EventTurnIngested, map[string]string{"role": domain.RoleUser})
	a.mirrorTurn(ctx, sess, domain.RoleUser, text)

	// A parked confirmation consumes this turn before any classification.
	if sess.Coordinator.PendingConfirmation() {
		reply, action, err := sess.Coordinator.ResolveConfirmation(ctx, text)
		if err != nil {
			tracer.RecordError(span, err)
			return TurnResult{ConfirmationConsumed: true, Identity: sess.Coordinator.Current()}, err
		}
		res := TurnResult{
			ConfirmationConsumed: true,
			Identity:             sess.Coordinator.Current(),
		}
		if reply == handoff.ReplyAffirmative && action != nil && action.Specialist != "" {
			// The confirmed handoff swaps capability scope.
			swapped, err := a.applyIdentityScope(ctx, sess)
			if err != nil {
				return res, err
			}
			res.CapabilitiesSwapped = swapped
		}
		tracer.SetOK(span)
		return res, nil
	}

	result := a.classifier.ClassifyWithHistory(text, sess.History)
	if a.refiner != nil {
		result = a.refiner.Refine(ctx, text, result)
	}
	a.publishIntent(ctx, sess.ID, result)
	span.SetAttributes(
		tracer.StringAttr("rationale", result.Rationale),
		tracer.IntAttr("capability_count", len(result.Capabilities)),
	)

	// Classification itself can name a registered specialist's scope; the
	// conversation then moves there without an explicit handoff tool call.
	if sess.Coordinator.Current().Kind != domain.KindSpecialist {
		if profile, ok := sess.Coordinator.MatchIntent(result); ok {
			if _, err := sess.Coordinator.HandoffTo(ctx, profile.Name); err == nil {
				swapped, err := a.applyIdentityScope(ctx, sess)
				if err != nil {
					tracer.RecordError(span, err)
					return TurnResult{Intent: result, Identity: sess.Coordinator.Current()}, err
				}
				tracer.SetOK(span)
				return TurnResult{
					Intent:              result,
					Identity:            sess.Coordinator.Current(),
					CapabilitiesSwapped: swapped,
				}, nil
			}
		}
	}

	names := a.scopedCapabilities(sess, result)
	swapped, err := sess.Active.Apply(ctx, a.assembler, a.updater, names, a.contextVars())
	if err != nil {
		tracer.RecordError(span, err)
		return TurnResult{Intent: result, Identity: sess.Coordinator.Current()}, err
	}
	if swapped {
		a.publish(ctx, sess.ID, domain.EventCapabilitiesSet, map[string]string{"active": sess.Active.String()})
	}

	tracer.SetOK(span)
	return TurnResult{
		Intent:              result,
		Identity:            sess.Coordinator.Current(),
		CapabilitiesSwapped: swapped,
	}, nil
}

// HandleAgentTurn records the agent's spoken reply in history and mirrors
// it to the client when enabled.
func (a *Assistant) HandleAgentTurn(ctx context.Context, sess *Session, text string) {
	sess.History.Append(domain.RoleAgent, text)
	ctx = domain.ContextWithSessionID(ctx, sess.ID)
	a.publish(ctx, sess.ID, domain.EventTurnIngested, map[string]string{"role": domain.RoleAgent})
	a.mirrorTurn(ctx, sess, domain.RoleAgent, text)
}

// RequestHandoff transfers control to a named specialist and swaps the
// active capability set to the specialist's scope. A rejected handoff
// leaves the session untouched and returns a user-facing message.
func (a *Assistant) RequestHandoff(ctx context.Context, sess *Session, name string) (TurnResult, error) {
	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	ctx = domain.ContextWithSessionID(ctx, sess.ID)
	if _, err := sess.Coordinator.HandoffTo(ctx, name); err != nil {
		return TurnResult{
			Identity: sess.Coordinator.Current(),
			Reply:    sess.Coordinator.RejectionMessage(name),
		}, err
	}
	swapped, err := a.applyIdentityScope(ctx, sess)
	if err != nil {
		return TurnResult{Identity: sess.Coordinator.Current()}, err
	}
	return TurnResult{Identity: sess.Coordinator.Current(), CapabilitiesSwapped: swapped}, nil
}

// ReturnToOrchestrator pops the handoff stack and restores the previous
// identity's capability scope.
func (a *Assistant) ReturnToOrchestrator(ctx context.Context, sess *Session) (TurnResult, error) {
	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	ctx = domain.ContextWithSessionID(ctx, sess.ID)
	if _, err := sess.Coordinator.Return(ctx); err != nil {
		return TurnResult{Identity: sess.Coordinator.Current()}, err
	}
	swapped, err := a.applyIdentityScope(ctx, sess)
	if err != nil {
		return TurnResult{Identity: sess.Coordinator.Current()}, err
	}
	return TurnResult{Identity: sess.Coordinator.Current(), CapabilitiesSwapped: swapped}, nil
}

// scopedCapabilities narrows the classified set to the owning identity.
// A specialist keeps its declared scope regardless of what the classifier
// saw; the orchestrator follows the classifier.
func (a *Assistant) scopedCapabilities(sess *Session, result domain.IntentResult) []string {
	id := sess.Coordinator.Current()
	if id.Kind != domain.KindSpecialist {
		return result.Capabilities
	}
	profile, err := sess.Coordinator.Profile(id.Name)
	if err != nil {
		return result.Capabilities
	}
	return profile.Capabilities
}

// applyIdentityScope installs the capability set belonging to the current
// identity. For the orchestrator that is whatever the next classification
// produces, so only a specialist's scope is pushed eagerly.
func (a *Assistant) applyIdentityScope(ctx context.Context, sess *Session) (bool, error) {
	id := sess.Coordinator.Current()
	if id.Kind != domain.KindSpecialist {
		return false, nil
	}
	profile, err := sess.Coordinator.Profile(id.Name)
	if err != nil {
		return false, err
	}
	swapped, err := sess.Active.Apply(ctx, a.assembler, a.updater, profile.Capabilities, a.contextVars())
	if err != nil {
		return false, err
	}
	if swapped {
		a.publish(ctx, sess.ID, domain.EventCapabilitiesSet, map[string]string{"active": sess.Active.String()})
	}
	return swapped, nil
}

func (a *Assistant) contextVars() domain.ContextVars {
	now := time.Now()
	return domain.ContextVars{
		CurrentDate: now.Format("Monday, January 2, 2006"),
		CurrentTime: now.Format("3:04 PM"),
		UserName:    a.userName,
	}
}

func (a *Assistant) mirrorTurn(ctx context.Context, sess *Session, role, text string) {
	if !a.mirror || sess.Channel == nil {
		return
	}
	payload := map[string]string{"role": role, "text": text}
	if err := sess.Channel.SendEvent(ctx, "conversation_item", payload); err != nil {
		a.logger.Debug("conversation mirror failed", "session_id", sess.ID, "error", err)
	}
}

func (a *Assistant) publishIntent(ctx context.Context, sessionID string, result domain.IntentResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if a.bus == nil {
		return
	}
	a.bus.Publish(ctx, domain.Event{
		Type:      domain.EventIntentClassified,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}

func (a *Assistant) publish(ctx context.Context, sessionID string, eventType domain.EventType, payload map[string]string) {
	if a.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	a.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}
