// Package llm talks to the voice bridge that holds the realtime model
// session for the device. The orchestration core never streams audio or
// tokens itself; it only pushes configuration (instructions, tool list)
// and asks short classification questions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"

	"clara-ai/internal/domain"
	"clara-ai/internal/infra/config"
	"clara-ai/internal/infra/tracer"
)

const (
	maxResponseBody = 1 << 20

	breakerMaxFailures = 5
	breakerTimeout     = 30 * time.Second
)

// Bridge is an HTTP client for the voice bridge control plane.
type Bridge struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

var _ domain.InstructionUpdater = (*Bridge)(nil)

// NewBridge creates a bridge client from configuration.
func NewBridge(cfg config.LLMConfig, logger *slog.Logger) *Bridge {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	b := &Bridge{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "llm_bridge"),
	}
	b.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "llm_bridge",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return b
}

type sessionUpdateRequest struct {
	// SessionID tells the bridge which agent session to name when it
	// posts the model's tool calls back to /model/tool.
	SessionID    string   `json:"session_id,omitempty"`
	Model        string   `json:"model,omitempty"`
	Instructions string   `json:"instructions"`
	Tools        []string `json:"tools"`
}

// UpdateInstructions implements domain.InstructionUpdater. It replaces the
// realtime session's configuration in a single call; the caller has
// already diffed capability sets, so every call here is a real change.
func (b *Bridge) UpdateInstructions(ctx context.Context, instructions string, toolNames []string) error {
	ctx, span := tracer.StartSpan(ctx, "llm.update_instructions",
		trace.WithAttributes(
			tracer.IntAttr("instructions.bytes", len(instructions)),
			tracer.IntAttr("tools.count", len(toolNames)),
		),
	)
	defer span.End()

	if toolNames == nil {
		toolNames = []string{}
	}
	body, err := json.Marshal(sessionUpdateRequest{
		SessionID:    domain.SessionIDFromContext(ctx),
		Model:        b.model,
		Instructions: instructions,
		Tools:        toolNames,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("marshal session update: %w", err)
	}

	if _, err := b.post(ctx, "/session", body); err != nil {
		tracer.RecordError(span, err)
		return domain.NewDomainError("llm.UpdateInstructions", domain.ErrInstructionUpdate, err.Error())
	}

	tracer.SetOK(span)
	b.logger.Info("session instructions updated", "tools", len(toolNames))
	return nil
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat sends a one-shot system+user exchange and returns the reply text.
// Its signature matches domain.ChatFunc so it can back the intent refiner.
func (b *Bridge) Chat(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat")
	defer span.End()

	body, err := json.Marshal(chatRequest{
		Model: b.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	respBody, err := b.post(ctx, "/chat/completions", body)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("chat response has no choices")
		tracer.RecordError(span, err)
		return "", err
	}

	tracer.SetOK(span)
	return resp.Choices[0].Message.Content, nil
}

func (b *Bridge) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return b.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if b.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+b.apiKey)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, truncate(respBody, 200))
		}
		return respBody, nil
	})
}

// LogUpdater is the no-bridge fallback used when llm.base_url is unset:
// assembled instructions are logged but not pushed anywhere.
type LogUpdater struct {
	logger *slog.Logger
}

var _ domain.InstructionUpdater = (*LogUpdater)(nil)

func NewLogUpdater(logger *slog.Logger) *LogUpdater {
	return &LogUpdater{logger: logger.With("component", "llm_bridge")}
}

func (u *LogUpdater) UpdateInstructions(_ context.Context, instructions string, toolNames []string) error {
	u.logger.Info("instruction update (no bridge configured)",
		"instructions_bytes", len(instructions), "tools", len(toolNames))
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
