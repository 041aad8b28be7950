package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"clara-ai/internal/domain"
	"clara-ai/internal/usecase"
	"clara-ai/internal/usecase/handoff"
)

// Orchestration tools the model calls on the agent itself rather than on
// the companion app. Everything else is forwarded to the session's
// dispatcher as a client tool request.
const (
	modelToolHandoff      = "handoff"
	modelToolReturn       = "return_to_orchestrator"
	modelToolConfirmation = "ask_confirmation"
)

// modelToolCall is what the voice bridge posts when the realtime model
// emits a function call. SessionID comes from the session update that
// configured the bridge.
type modelToolCall struct {
	SessionID string          `json:"session_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// modelToolResult is returned to the bridge and fed back to the model as
// the function call output.
type modelToolResult struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// handleModelTool is the model-side ingress: it routes the realtime
// model's tool calls either to the handoff machinery or to the companion
// app through the session's dispatcher.
func (s *Server) handleModelTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var call modelToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, "malformed tool call", http.StatusBadRequest)
		return
	}
	sess, err := s.sessions.Get(call.SessionID)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	ctx := domain.ContextWithSessionID(r.Context(), sess.ID)
	logger := s.logger.With("session_id", sess.ID, "tool", call.Tool)

	var out modelToolResult
	switch call.Tool {
	case modelToolHandoff:
		out = s.modelHandoff(ctx, logger, sess, call.Arguments)
	case modelToolReturn:
		out = s.modelReturn(ctx, logger, sess)
	case modelToolConfirmation:
		out = s.modelConfirmation(ctx, logger, sess, call.Arguments)
	default:
		out = s.modelInvoke(ctx, logger, sess, call.Tool, call.Arguments)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		logger.Warn("model tool result write failed", "error", err)
	}
}

func (s *Server) modelHandoff(ctx context.Context, logger *slog.Logger, sess *usecase.Session, args json.RawMessage) modelToolResult {
	var params struct {
		Specialist string `json:"specialist"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Specialist == "" {
		return modelToolResult{Status: domain.ToolStatusError, Error: "handoff needs a specialist name"}
	}

	res, err := s.assistant.RequestHandoff(ctx, sess, params.Specialist)
	if err != nil {
		// Rejection is a speakable outcome, not a transport failure: the
		// model relays the message listing valid alternatives.
		if errors.Is(err, domain.ErrSpecialistNotFound) {
			return okResult(map[string]any{"accepted": false, "message": res.Reply})
		}
		logger.Warn("handoff failed", "error", err)
		return modelToolResult{Status: domain.ToolStatusError, Error: domain.UserMessage(err)}
	}
	return okResult(map[string]any{"accepted": true, "specialist": params.Specialist})
}

func (s *Server) modelReturn(ctx context.Context, logger *slog.Logger, sess *usecase.Session) modelToolResult {
	if _, err := s.assistant.ReturnToOrchestrator(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrNoPendingHandoff) {
			return okResult(map[string]any{"returned": false})
		}
		logger.Warn("return failed", "error", err)
		return modelToolResult{Status: domain.ToolStatusError, Error: domain.UserMessage(err)}
	}
	return okResult(map[string]any{"returned": true})
}

// modelConfirmation parks a consequential action behind the confirmation
// gate. The wrapped tool runs only after the user's next turn says yes.
func (s *Server) modelConfirmation(ctx context.Context, logger *slog.Logger, sess *usecase.Session, args json.RawMessage) modelToolResult {
	var params struct {
		Description string          `json:"description"`
		Specialist  string          `json:"specialist"`
		Tool        string          `json:"tool"`
		Arguments   json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Description == "" {
		return modelToolResult{Status: domain.ToolStatusError, Error: "confirmation needs a description"}
	}

	action := handoff.PendingAction{
		Description: params.Description,
		Specialist:  params.Specialist,
	}
	if params.Tool != "" {
		tool, toolArgs := params.Tool, params.Arguments
		action.Execute = func(execCtx context.Context) error {
			result, err := sess.Dispatcher.Invoke(execCtx, tool, toolArgs)
			if err != nil {
				return err
			}
			s.notifyToolResult(execCtx, sess, tool, toolArgs, result)
			return nil
		}
	}
	sess.Coordinator.RequestConfirmation(ctx, action)
	logger.Debug("confirmation parked", "action", params.Description)
	return okResult(map[string]any{"parked": true})
}

func (s *Server) modelInvoke(ctx context.Context, logger *slog.Logger, sess *usecase.Session, tool string, args json.RawMessage) modelToolResult {
	result, err := sess.Dispatcher.Invoke(ctx, tool, args)
	if err != nil {
		logger.Debug("tool invocation failed", "error", err)
		return modelToolResult{Status: domain.ToolStatusError, Error: domain.UserMessage(err)}
	}
	s.notifyToolResult(ctx, sess, tool, args, result)
	return modelToolResult{Status: domain.ToolStatusOK, Result: result}
}

func (s *Server) notifyToolResult(ctx context.Context, sess *usecase.Session, tool string, args, result json.RawMessage) {
	if s.onToolResult != nil {
		s.onToolResult(ctx, sess, tool, args, result)
	}
}

func okResult(v map[string]any) modelToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return modelToolResult{Status: domain.ToolStatusError, Error: "internal encoding failure"}
	}
	return modelToolResult{Status: domain.ToolStatusOK, Result: raw}
}
