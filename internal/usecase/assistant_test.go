package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"clara-ai/internal/domain"
	"clara-ai/internal/usecase/capability"
	"clara-ai/internal/usecase/handoff"
	"clara-ai/internal/usecase/intent"
)

type stubCatalog struct{}

func (stubCatalog) Get(_ context.Context, name string) (domain.Capability, error) {
	content := map[string]string{
		"base":          "You are Clara, helping {user_name}.",
		"navigation":    "Guide the user around the app.",
		"reminders":     "Manage reminders.",
		"forms":         "Fill forms.",
		"memory_recall": "Recall past conversations.",
	}
	c := domain.Capability{Name: name, Content: content[name]}
	if name == "reminders" {
		c.Tools = []string{"reminder_add"}
	}
	return c, nil
}

func (stubCatalog) Names() []string {
	return []string{"base", "forms", "memory_recall", "navigation", "reminders"}
}

type recordingUpdater struct {
	mu    sync.Mutex
	calls int
	last  string
	tools []string
	err   error
}

func (u *recordingUpdater) UpdateInstructions(_ context.Context, text string, tools []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.calls++
	u.last = text
	u.tools = tools
	return nil
}

func (u *recordingUpdater) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type nullChannel struct {
	mu     sync.Mutex
	events []string
}

func (c *nullChannel) SendToolRequest(context.Context, domain.ToolRequest) error { return nil }

func (c *nullChannel) SendEvent(_ context.Context, kind string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, kind)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAssistant(t *testing.T, updater domain.InstructionUpdater, opts ...AssistantOption) (*Assistant, *SessionManager) {
	t.Helper()
	logger := testLogger()
	classifier := intent.NewClassifier(logger)
	assembler := capability.NewAssembler(stubCatalog{}, 0, logger)

	registry := handoff.NewRegistry(logger)
	registry.Register(domain.SpecialistProfile{
		Name:         "task_manager",
		Capabilities: []string{"forms"},
	})

	a := NewAssistant(classifier, assembler, updater, nil, logger, opts...)
	sm := NewSessionManager(registry, nil, logger)
	return a, sm
}

func TestUserTurnInstallsCapabilities(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u, WithUserName("Rose"))
	sess := sm.Create(context.Background(), &nullChannel{})

	res, err := a.HandleUserTurn(context.Background(), sess, "remind me to call mom at 3pm")
	if err != nil {
		t.Fatalf("HandleUserTurn: %v", err)
	}
	if !res.Intent.Has(intent.CapReminders) {
		t.Errorf("intent missing reminders: %v", res.Intent.Capabilities)
	}
	if !res.CapabilitiesSwapped {
		t.Error("first turn should install a capability set")
	}
	if u.callCount() != 1 {
		t.Errorf("updater calls = %d, want 1", u.callCount())
	}
	if res.Identity != domain.Orchestrator {
		t.Errorf("identity = %v", res.Identity)
	}
}

func TestRepeatTurnSkipsUpdate(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})
	ctx := context.Background()

	a.HandleUserTurn(ctx, sess, "remind me to water the plants")
	res, err := a.HandleUserTurn(ctx, sess, "set another reminder for tomorrow")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if res.CapabilitiesSwapped {
		t.Error("same capability set should not trigger an update")
	}
	if u.callCount() != 1 {
		t.Errorf("updater calls = %d, want 1", u.callCount())
	}
}

func TestClassifiedIntentTriggersHandoff(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})

	res, err := a.HandleUserTurn(context.Background(), sess, "help me fill out and submit the form")
	if err != nil {
		t.Fatalf("HandleUserTurn: %v", err)
	}
	if res.Identity != domain.Specialist("task_manager") {
		t.Fatalf("identity = %v, want specialist:task_manager", res.Identity)
	}
	if sess.Coordinator.Depth() != 1 {
		t.Errorf("stack depth = %d, want 1", sess.Coordinator.Depth())
	}
	if !res.CapabilitiesSwapped {
		t.Error("handoff should install the specialist's scope")
	}
	names := sess.Active.Names()
	if len(names) != 1 || names[0] != "forms" {
		t.Errorf("active set = %v, want [forms]", names)
	}
}

func TestDependencyOnlyMatchStaysWithOrchestrator(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})

	// forms rides along with reminders as a dependency; that alone must
	// not move the conversation to the forms specialist.
	res, err := a.HandleUserTurn(context.Background(), sess, "remind me to water the plants")
	if err != nil {
		t.Fatalf("HandleUserTurn: %v", err)
	}
	if !res.Intent.Has("forms") {
		t.Fatalf("expected forms as a dependency: %v", res.Intent.Capabilities)
	}
	if res.Identity != domain.Orchestrator {
		t.Errorf("identity = %v, want orchestrator", res.Identity)
	}
	if sess.Coordinator.Depth() != 0 {
		t.Errorf("stack depth = %d, want 0", sess.Coordinator.Depth())
	}
}

func TestSpecialistTurnDoesNotNestHandoff(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})
	ctx := context.Background()

	if _, err := a.RequestHandoff(ctx, sess, "task_manager"); err != nil {
		t.Fatalf("RequestHandoff: %v", err)
	}
	if _, err := a.HandleUserTurn(ctx, sess, "help me fill out and submit the form"); err != nil {
		t.Fatalf("HandleUserTurn: %v", err)
	}
	if sess.Coordinator.Depth() != 1 {
		t.Errorf("stack depth = %d, want 1 (no nested auto-handoff)", sess.Coordinator.Depth())
	}
}

func TestHandoffSwapsScope(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})
	ctx := context.Background()

	res, err := a.RequestHandoff(ctx, sess, "task_manager")
	if err != nil {
		t.Fatalf("RequestHandoff: %v", err)
	}
	if res.Identity != domain.Specialist("task_manager") {
		t.Errorf("identity = %v", res.Identity)
	}
	if !res.CapabilitiesSwapped {
		t.Error("handoff should install the specialist's scope")
	}

	names := sess.Active.Names()
	if len(names) != 1 || names[0] != "forms" {
		t.Errorf("active set = %v, want [forms]", names)
	}

	back, err := a.ReturnToOrchestrator(ctx, sess)
	if err != nil {
		t.Fatalf("ReturnToOrchestrator: %v", err)
	}
	if back.Identity != domain.Orchestrator {
		t.Errorf("identity after return = %v", back.Identity)
	}
}

func TestHandoffRejectionLeavesStateAlone(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})

	res, err := a.RequestHandoff(context.Background(), sess, "chef")
	if !errors.Is(err, domain.ErrSpecialistNotFound) {
		t.Fatalf("err = %v, want ErrSpecialistNotFound", err)
	}
	if res.Identity != domain.Orchestrator {
		t.Errorf("identity = %v, want orchestrator", res.Identity)
	}
	if res.Reply == "" {
		t.Error("rejection should carry a user-facing message")
	}
	if u.callCount() != 0 {
		t.Errorf("rejected handoff must not touch instructions, calls = %d", u.callCount())
	}
}

func TestConfirmationGateConsumesTurn(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})
	ctx := context.Background()

	executed := false
	sess.Coordinator.RequestConfirmation(ctx, handoff.PendingAction{
		Description: "mark 'call mom' as done",
		Execute: func(context.Context) error {
			executed = true
			return nil
		},
	})

	res, err := a.HandleUserTurn(ctx, sess, "yes")
	if err != nil {
		t.Fatalf("HandleUserTurn: %v", err)
	}
	if !res.ConfirmationConsumed {
		t.Error("turn should be consumed by the pending confirmation")
	}
	if !executed {
		t.Error("confirmed action did not run")
	}
	if u.callCount() != 0 {
		t.Error("confirmation turn must not reclassify capabilities")
	}
}

func TestConfirmationGateNegative(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	sess := sm.Create(context.Background(), &nullChannel{})
	ctx := context.Background()

	executed := false
	sess.Coordinator.RequestConfirmation(ctx, handoff.PendingAction{
		Description: "mark 'call mom' as done",
		Execute: func(context.Context) error {
			executed = true
			return nil
		},
	})

	res, err := a.HandleUserTurn(ctx, sess, "no, not yet")
	if err != nil {
		t.Fatalf("HandleUserTurn: %v", err)
	}
	if !res.ConfirmationConsumed {
		t.Error("negative reply still consumes the gate")
	}
	if executed {
		t.Error("dismissed action must not run")
	}
	if sess.Coordinator.PendingConfirmation() {
		t.Error("gate should be cleared")
	}
}

func TestMirroringForwardsTurns(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u, WithConversationMirroring())
	ch := &nullChannel{}
	sess := sm.Create(context.Background(), ch)
	ctx := context.Background()

	a.HandleUserTurn(ctx, sess, "hello")
	a.HandleAgentTurn(ctx, sess, "Hi Rose, how are you today?")

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.events) != 2 {
		t.Errorf("mirrored %d events, want 2", len(ch.events))
	}
}

func TestClosedSessionRejectsTurns(t *testing.T) {
	u := &recordingUpdater{}
	a, sm := newTestAssistant(t, u)
	ctx := context.Background()
	sess := sm.Create(ctx, &nullChannel{})

	if err := sm.Close(ctx, sess.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := a.HandleUserTurn(ctx, sess, "hello")
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestSessionManagerLifecycle(t *testing.T) {
	_, sm := newTestAssistant(t, &recordingUpdater{})
	ctx := context.Background()

	s1 := sm.Create(ctx, &nullChannel{})
	s2 := sm.Create(ctx, &nullChannel{})
	if s1.ID == s2.ID {
		t.Fatal("session ids must be unique")
	}
	if len(sm.List()) != 2 {
		t.Errorf("live sessions = %d, want 2", len(sm.List()))
	}

	if _, err := sm.Get(s1.ID); err != nil {
		t.Errorf("Get: %v", err)
	}
	if _, err := sm.Get("missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get missing err = %v", err)
	}

	sm.CloseAll(ctx)
	if len(sm.List()) != 0 {
		t.Errorf("sessions after CloseAll = %d", len(sm.List()))
	}
	if err := sm.Close(ctx, s1.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("double close err = %v", err)
	}
}
