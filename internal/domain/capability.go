package domain

import "context"

// Capability is a named bundle of instruction content and tool availability
// that can be toggled in or out of a conversation's active set.
type Capability struct {
	Name      string   // unique key
	Content   string   // instruction text, may contain {placeholders}
	DependsOn []string // capabilities auto-included alongside this one
	Tools     []string // tool names this capability exposes
}

// Catalog resolves capability names to their descriptors. Implementations
// load lazily and cache for the process lifetime; the cache is read-only
// after population and safe to share across sessions.
type Catalog interface {
	// Get returns the capability descriptor for name. A registered name
	// whose content is missing yields a descriptor with empty Content,
	// not an error.
	Get(ctx context.Context, name string) (Capability, error)
	// Names returns all registered capability names, sorted.
	Names() []string
}

// ContextVars carries per-turn values substituted into capability content.
type ContextVars struct {
	CurrentDate string
	CurrentTime string
	UserName    string
}

// InstructionUpdater is the single external operation that replaces the
// language model's active configuration. Implementations must be idempotent
// when called with unchanged content; callers avoid redundant calls by
// diffing capability sets first.
type InstructionUpdater interface {
	UpdateInstructions(ctx context.Context, instructions string, toolNames []string) error
}
