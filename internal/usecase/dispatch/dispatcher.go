// Package dispatch sends tool invocations to the connected client and
// correlates the asynchronous responses back to their callers.
//
// Every invocation gets a fresh ULID request id. The caller blocks until
// the client answers with a response carrying the same id, the invocation
// times out, or the session shuts down. Responses for unknown or already
// settled ids are discarded.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"
	"github.com/oklog/ulid/v2"

	"clara-ai/internal/domain"
	"clara-ai/internal/infra/tracer"
)

// DefaultTimeout bounds how long a caller waits for the client to answer.
const DefaultTimeout = 30 * time.Second

type pendingCall struct {
	tool   string
	result chan domain.ToolResponse
	sentAt time.Time
}

// Dispatcher forwards tool requests over the client channel and resolves
// each one exactly once. Safe for concurrent use.
type Dispatcher struct {
	channel domain.ClientChannel
	bus     domain.EventBus
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCall
	schemas map[string]*jsonschema.Schema
	settled map[string]struct{}
	order   []string
	closed  bool
}

// settledCap bounds how many resolved request ids are remembered for
// duplicate detection.
const settledCap = 256

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// New builds a Dispatcher bound to one client channel.
func New(channel domain.ClientChannel, bus domain.EventBus, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channel: channel,
		bus:     bus,
		logger:  logger.With("component", "dispatcher"),
		timeout: DefaultTimeout,
		pending: make(map[string]*pendingCall),
		schemas: make(map[string]*jsonschema.Schema),
		settled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterSchema compiles a JSON Schema for a tool's arguments. Invocations
// of that tool validate their arguments before anything is sent.
func (d *Dispatcher) RegisterSchema(tool string, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(raw))
	if err != nil {
		return domain.NewDomainError("dispatch.RegisterSchema", err, tool)
	}
	d.mu.Lock()
	d.schemas[tool] = schema
	d.mu.Unlock()
	return nil
}

// Invoke sends one tool request to the client and blocks until the matching
// response arrives, the timeout fires, ctx is cancelled, or the dispatcher
// closes. On success it returns the raw result payload.
func (d *Dispatcher) Invoke(ctx context.Context, tool string, arguments json.RawMessage) (json.RawMessage, error) {
	const op = "dispatch.Invoke"

	ctx, span := tracer.StartSpan(ctx, "dispatch_tool")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("tool", tool))

	if err := d.validateArguments(tool, arguments); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	id := newRequestID()
	call := &pendingCall{
		tool: tool,
		// Buffered so a late HandleResponse never blocks on a caller
		// that already gave up.
		result: make(chan domain.ToolResponse, 1),
		sentAt: time.Now(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, domain.NewDomainError(op, domain.ErrSessionClosed, tool)
	}
	d.pending[id] = call
	d.mu.Unlock()

	req := domain.ToolRequest{RequestID: id, Tool: tool, Arguments: arguments}
	if err := d.channel.SendToolRequest(ctx, req); err != nil {
		d.remove(id)
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError(op, domain.ErrChannelUnavailable, err.Error())
	}

	d.publish(ctx, domain.EventToolRequestSent, map[string]string{"request_id": id, "tool": tool})
	d.logger.Debug("tool request sent", "request_id", id, "tool", tool)

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case resp := <-call.result:
		if resp.Status == domain.ToolStatusError {
			err := domain.NewDomainError(op, &clientToolError{tool: tool, message: resp.Error}, tool)
			tracer.RecordError(span, err)
			return nil, err
		}
		tracer.SetOK(span)
		return resp.Result, nil

	case <-timer.C:
		d.remove(id)
		d.publish(ctx, domain.EventToolTimeout, map[string]string{"request_id": id, "tool": tool})
		d.logger.Warn("tool invocation timed out", "request_id", id, "tool", tool, "timeout", d.timeout)
		err := domain.NewDomainError(op, domain.ErrInvocationTimeout, tool)
		tracer.RecordError(span, err)
		return nil, err

	case <-ctx.Done():
		d.remove(id)
		err := domain.NewDomainError(op, domain.ErrInvocationCancelled, tool)
		tracer.RecordError(span, err)
		return nil, err
	}
}

// HandleResponse routes a client response to the waiting caller. A response
// whose id is unknown, or that arrives after the invocation already settled,
// is logged and dropped.
func (d *Dispatcher) HandleResponse(ctx context.Context, resp domain.ToolResponse) error {
	const op = "dispatch.HandleResponse"

	d.mu.Lock()
	call, ok := d.pending[resp.RequestID]
	if ok {
		delete(d.pending, resp.RequestID)
		d.markSettled(resp.RequestID)
	}
	_, dup := d.settled[resp.RequestID]
	d.mu.Unlock()

	if !ok {
		if dup {
			d.logger.Debug("discarding duplicate response", "request_id", resp.RequestID)
			return domain.NewDomainError(op, domain.ErrDuplicateResponse, resp.RequestID)
		}
		d.logger.Debug("discarding response with unknown request id", "request_id", resp.RequestID)
		return domain.NewDomainError(op, domain.ErrUnknownRequestID, resp.RequestID)
	}

	d.publish(ctx, domain.EventToolResponseRecv, map[string]string{
		"request_id": resp.RequestID,
		"tool":       call.tool,
		"status":     resp.Status,
	})
	d.logger.Debug("tool response received",
		"request_id", resp.RequestID,
		"tool", call.tool,
		"status", resp.Status,
		"elapsed", time.Since(call.sentAt))

	call.result <- resp
	return nil
}

// Pending reports how many invocations are still awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails every in-flight invocation with a cancellation error and
// rejects all further Invoke calls. Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[string]*pendingCall)
	d.mu.Unlock()

	for id, call := range pending {
		call.result <- domain.ToolResponse{
			RequestID: id,
			Status:    domain.ToolStatusError,
			Error:     "session closed",
		}
		d.logger.Debug("cancelled pending invocation", "request_id", id, "tool", call.tool)
	}
}

func (d *Dispatcher) validateArguments(tool string, arguments json.RawMessage) error {
	d.mu.Lock()
	schema := d.schemas[tool]
	d.mu.Unlock()
	if schema == nil {
		return nil
	}

	var v any
	if err := json.Unmarshal(arguments, &v); err != nil {
		return domain.NewDomainError("dispatch.Invoke", domain.ErrInvalidArguments, err.Error())
	}
	if result := schema.Validate(v); !result.IsValid() {
		return domain.NewDomainError("dispatch.Invoke", domain.ErrInvalidArguments, result.Error())
	}
	return nil
}

func (d *Dispatcher) remove(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// markSettled records a resolved id, evicting the oldest once at capacity.
// Caller holds d.mu.
func (d *Dispatcher) markSettled(id string) {
	d.settled[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > settledCap {
		delete(d.settled, d.order[0])
		d.order = d.order[1:]
	}
}

func (d *Dispatcher) publish(ctx context.Context, eventType domain.EventType, payload map[string]string) {
	if d.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	d.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: domain.SessionIDFromContext(ctx),
		Payload:   raw,
	})
}

// clientToolError carries the error text reported by the client tool.
type clientToolError struct {
	tool    string
	message string
}

func (e *clientToolError) Error() string {
	return "client tool " + e.tool + " failed: " + e.message
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
