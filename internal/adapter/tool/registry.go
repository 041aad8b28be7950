// Package tool defines the client-executed tools: their schemas for the
// language model's function-calling protocol and the proxy that forwards
// each call through the dispatcher to the companion app.
package tool

import (
	"encoding/json"
	"log/slog"
	"sync"

	"clara-ai/internal/domain"
)

// SchemaRegistrar is implemented by the dispatcher: argument schemas
// registered here are validated before a request leaves the process.
type SchemaRegistrar interface {
	RegisterSchema(tool string, raw json.RawMessage) error
}

// Registry holds the schemas of every tool the client can execute.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.ToolSchema
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.ToolSchema),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool schema, replacing any previous one with the same
// name.
func (r *Registry) Register(s domain.ToolSchema) {
	r.mu.Lock()
	r.tools[s.Name] = s
	r.mu.Unlock()
}

// Get retrieves a tool schema by name.
func (r *Registry) Get(name string) (domain.ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.tools[name]
	if !ok {
		return domain.ToolSchema{}, domain.NewDomainError("tool.Registry.Get", domain.ErrToolNotFound, name)
	}
	return s, nil
}

// Schemas returns the schemas for the given tool names, skipping unknown
// names. This is what the language-model call site passes as its active
// function set.
func (r *Registry) Schemas(names []string) []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(names))
	for _, name := range names {
		s, ok := r.tools[name]
		if !ok {
			r.logger.Debug("tool schema missing", "tool", name)
			continue
		}
		schemas = append(schemas, s)
	}
	return schemas
}

// InstallSchemas registers every tool's argument schema with the
// dispatcher. A schema that fails to compile disables validation for
// that tool only.
func (r *Registry) InstallSchemas(reg SchemaRegistrar) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, s := range r.tools {
		if err := reg.RegisterSchema(name, s.Parameters); err != nil {
			r.logger.Warn("argument validation disabled for tool", "tool", name, "error", err)
		}
	}
}
