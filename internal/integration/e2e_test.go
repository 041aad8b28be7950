// Package integration exercises the full conversation pipeline with real
// components end to end: classifier, assembler, dispatcher, handoff
// coordinator, and session lifecycle wired together the way cmd/agent
// does it, with only the companion app faked.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clara-ai/internal/adapter/catalog"
	"clara-ai/internal/adapter/tool"
	"clara-ai/internal/domain"
	"clara-ai/internal/usecase"
	"clara-ai/internal/usecase/capability"
	"clara-ai/internal/usecase/dispatch"
	"clara-ai/internal/usecase/eventbus"
	"clara-ai/internal/usecase/handoff"
	"clara-ai/internal/usecase/intent"
)

// fakeApp stands in for the companion app: it records outbound envelopes
// and lets tests feed responses back.
type fakeApp struct {
	mu       sync.Mutex
	requests []domain.ToolRequest
	events   []string
}

func (f *fakeApp) SendToolRequest(_ context.Context, req domain.ToolRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeApp) SendEvent(_ context.Context, kind string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeApp) lastRequest() (domain.ToolRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return domain.ToolRequest{}, false
	}
	return f.requests[len(f.requests)-1], true
}

func (f *fakeApp) waitForRequest(t *testing.T) domain.ToolRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if req, ok := f.lastRequest(); ok {
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no tool request sent")
	return domain.ToolRequest{}
}

// recordingUpdater captures every instruction update pushed to the model.
type recordingUpdater struct {
	mu      sync.Mutex
	calls   []string
	tools   [][]string
	lastSet []string
}

func (u *recordingUpdater) UpdateInstructions(_ context.Context, instructions string, toolNames []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, instructions)
	u.tools = append(u.tools, toolNames)
	return nil
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

type stack struct {
	sessions  *usecase.SessionManager
	assistant *usecase.Assistant
	updater   *recordingUpdater
	app       *fakeApp
	sess      *usecase.Session
	bus       *eventbus.Bus
}

func newStack(t *testing.T, dispatchOpts ...dispatch.Option) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)

	cat := catalog.New("", logger)
	classifier := intent.NewClassifier(logger)
	assembler := capability.NewAssembler(cat, 0, logger)

	registry := handoff.NewRegistry(logger)
	registry.Register(domain.SpecialistProfile{
		Name:         "task_manager",
		Description:  "guides the user through multi-step forms",
		Capabilities: []string{"forms"},
		Tools:        []string{"form_fill", "form_submit"},
	})

	updater := &recordingUpdater{}
	sessions := usecase.NewSessionManager(registry, bus, logger, dispatchOpts...)
	assistant := usecase.NewAssistant(classifier, assembler, updater, bus, logger,
		usecase.WithUserName("Margaret"))

	app := &fakeApp{}
	sess := sessions.Create(context.Background(), app)
	t.Cleanup(func() { sessions.CloseAll(context.Background()) })

	toolReg := tool.NewRegistry(logger)
	tool.RegisterDefaults(toolReg)
	toolReg.InstallSchemas(sess.Dispatcher)

	return &stack{sessions: sessions, assistant: assistant, updater: updater, app: app, sess: sess, bus: bus}
}

func TestReminderTurnInstallsCapabilitiesAndCallsTool(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	res, err := st.assistant.HandleUserTurn(ctx, st.sess, "remind me to take my medication at 8 tonight")
	require.NoError(t, err)
	assert.True(t, res.CapabilitiesSwapped)
	require.Equal(t, 1, st.updater.count())

	names := st.sess.Active.Names()
	assert.Contains(t, names, "reminders")
	assert.Contains(t, names, "forms") // dependency of reminders
	assert.Contains(t, st.updater.tools[0], "reminder_add")

	// The model now calls the client-side tool; answer it like the app.
	var result json.RawMessage
	done := make(chan error, 1)
	go func() {
		var invokeErr error
		result, invokeErr = st.sess.Dispatcher.Invoke(ctx, "reminder_add",
			json.RawMessage(`{"text":"take medication","due_at":"2026-08-29T20:00:00Z"}`))
		done <- invokeErr
	}()

	req := st.app.waitForRequest(t)
	assert.Equal(t, "reminder_add", req.Tool)
	require.NoError(t, st.sess.Dispatcher.HandleResponse(ctx, domain.ToolResponse{
		RequestID: req.RequestID,
		Status:    domain.ToolStatusOK,
		Result:    json.RawMessage(`{"id":"rem_1"}`),
	}))

	require.NoError(t, <-done)
	assert.JSONEq(t, `{"id":"rem_1"}`, string(result))
}

func TestRepeatedIntentSkipsRedundantUpdate(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	_, err := st.assistant.HandleUserTurn(ctx, st.sess, "remind me to water the plants")
	require.NoError(t, err)
	res, err := st.assistant.HandleUserTurn(ctx, st.sess, "set another reminder for tomorrow")
	require.NoError(t, err)

	assert.False(t, res.CapabilitiesSwapped)
	assert.Equal(t, 1, st.updater.count())
}

func TestToolTimeoutThenLateResponseDiscarded(t *testing.T) {
	st := newStack(t, dispatch.WithTimeout(30*time.Millisecond))
	ctx := context.Background()

	_, err := st.sess.Dispatcher.Invoke(ctx, "navigate_to", json.RawMessage(`{"screen":"photos"}`))
	require.ErrorIs(t, err, domain.ErrInvocationTimeout)

	req, ok := st.app.lastRequest()
	require.True(t, ok)
	err = st.sess.Dispatcher.HandleResponse(ctx, domain.ToolResponse{
		RequestID: req.RequestID,
		Status:    domain.ToolStatusOK,
		Result:    json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, domain.ErrUnknownRequestID)
}

func TestHandoffLifecycle(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	res, err := st.assistant.RequestHandoff(ctx, st.sess, "task_manager")
	require.NoError(t, err)
	assert.True(t, res.CapabilitiesSwapped)
	assert.Equal(t, domain.Specialist("task_manager"), st.sess.Coordinator.Current())
	assert.Equal(t, []string{"forms"}, st.sess.Active.Names())

	_, err = st.assistant.ReturnToOrchestrator(ctx, st.sess)
	require.NoError(t, err)
	assert.Equal(t, domain.Orchestrator, st.sess.Coordinator.Current())
}

func TestHandoffToUnknownSpecialistRejected(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	before := st.sess.Coordinator.Current()
	res, err := st.assistant.RequestHandoff(ctx, st.sess, "chef")
	require.ErrorIs(t, err, domain.ErrSpecialistNotFound)
	assert.Equal(t, before, st.sess.Coordinator.Current())
	assert.Contains(t, res.Reply, "task_manager")
}

func TestConfirmationGateConsumesTurn(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	executed := false
	st.sess.Coordinator.RequestConfirmation(ctx, handoff.PendingAction{
		Description: "submit the appointment form",
		Execute: func(context.Context) error {
			executed = true
			return nil
		},
	})

	res, err := st.assistant.HandleUserTurn(ctx, st.sess, "yes please")
	require.NoError(t, err)
	assert.True(t, res.ConfirmationConsumed)
	assert.True(t, executed)
	assert.False(t, st.sess.Coordinator.PendingConfirmation())
}

func TestSessionCloseFailsPendingInvocations(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := st.sess.Dispatcher.Invoke(ctx, "navigate_to", json.RawMessage(`{"screen":"home"}`))
		done <- err
	}()
	st.app.waitForRequest(t)

	require.NoError(t, st.sessions.Close(ctx, st.sess.ID))

	err := <-done
	require.Error(t, err)
	var de *domain.DomainError
	assert.True(t, errors.As(err, &de))
}
