// Package capability assembles the active instruction text and tool list
// for a conversation from its detected capability set.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel/trace"

	"clara-ai/internal/domain"
	"clara-ai/internal/infra/tracer"
)

// BaseCapability is assembled first, before the per-capability blocks.
const BaseCapability = "base"

const capabilityHeader = "\n\n================================================================================\n" +
	"## ACTIVE CAPABILITIES\n" +
	"================================================================================\n"

// Assembler turns capability sets into instruction text. It is stateless
// and shared across sessions; the per-conversation active set lives in
// ActiveSet.
type Assembler struct {
	catalog    domain.Catalog
	logger     *slog.Logger
	warnTokens int

	encOnce sync.Once
	encoder *tiktoken.Tiktoken
}

// NewAssembler creates an assembler over the given catalog. warnTokens is
// the assembled-size threshold above which a warning is logged (0 disables).
func NewAssembler(catalog domain.Catalog, warnTokens int, logger *slog.Logger) *Assembler {
	return &Assembler{catalog: catalog, warnTokens: warnTokens, logger: logger}
}

// Assemble renders instruction text for the given capability names: base
// content first, then one block per remaining capability in lexicographic
// order, each with contextVars placeholders substituted. Missing content
// contributes an empty block and is logged, never an error. Assembling the
// same set with the same vars is idempotent.
func (a *Assembler) Assemble(ctx context.Context, names []string, vars domain.ContextVars) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "capability.assemble",
		trace.WithAttributes(tracer.IntAttr("capability.count", len(names))),
	)
	defer span.End()

	var b strings.Builder

	base, err := a.catalog.Get(ctx, BaseCapability)
	if err != nil {
		a.logger.Warn("base capability content missing", "error", err)
	}
	b.WriteString(substitute(base.Content, vars))

	ordered := make([]string, 0, len(names))
	for _, name := range names {
		if name != BaseCapability {
			ordered = append(ordered, name)
		}
	}
	sort.Strings(ordered)

	if len(ordered) > 0 {
		b.WriteString(capabilityHeader)
	}
	for _, name := range ordered {
		desc, err := a.catalog.Get(ctx, name)
		if err != nil {
			// Absorbed: a capability without content still toggles tools.
			a.logger.Warn("capability content missing", "capability", name)
			continue
		}
		if desc.Content == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(substitute(desc.Content, vars))
		b.WriteString("\n")
	}

	text := b.String()
	a.countTokens(text)
	tracer.SetOK(span)
	return text, nil
}

// ToolNames returns the sorted union of tool names exposed by the given
// capabilities.
func (a *Assembler) ToolNames(ctx context.Context, names []string) []string {
	set := make(map[string]bool)
	for _, name := range names {
		desc, err := a.catalog.Get(ctx, name)
		if err != nil {
			continue
		}
		for _, tool := range desc.Tools {
			set[tool] = true
		}
	}
	tools := make([]string, 0, len(set))
	for tool := range set {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}

// countTokens measures the assembled text with tiktoken and logs; oversized
// assemblies get a warning. Encoder setup failure disables counting.
func (a *Assembler) countTokens(text string) {
	a.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			a.logger.Warn("token counting disabled", "error", err)
			return
		}
		a.encoder = enc
	})
	if a.encoder == nil {
		return
	}

	n := len(a.encoder.Encode(text, nil, nil))
	if a.warnTokens > 0 && n > a.warnTokens {
		a.logger.Warn("assembled instructions oversized", "tokens", n, "limit", a.warnTokens)
		return
	}
	a.logger.Debug("instructions assembled", "tokens", n, "chars", len(text))
}

// substitute replaces context placeholders in capability content.
func substitute(content string, vars domain.ContextVars) string {
	r := strings.NewReplacer(
		"{current_date}", vars.CurrentDate,
		"{current_time}", vars.CurrentTime,
		"{user_name}", vars.UserName,
	)
	return r.Replace(content)
}

// ActiveSet is the currently installed capability set for one conversation.
// Mutated only through Apply; read by the generation call site before every
// turn. At most one instruction update is in flight at a time.
type ActiveSet struct {
	mu    sync.Mutex
	names map[string]bool
	tools []string
}

// NewActiveSet creates an empty active set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{names: make(map[string]bool)}
}

// Names returns the active capability names, sorted.
func (s *ActiveSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the tool list installed with the current set.
func (s *ActiveSet) Tools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]string, len(s.tools))
	copy(cp, s.tools)
	return cp
}

// Apply diffs the proposed capability set against the active one as
// unordered sets. When equal, nothing happens and Apply reports false —
// the single external instruction update is skipped entirely. On a real
// change it assembles the instruction text, invokes updater exactly once,
// and installs the new set. The set lock is held across the update, so
// concurrent Apply calls for one conversation serialize and a lost update
// cannot occur.
func (s *ActiveSet) Apply(ctx context.Context, a *Assembler, updater domain.InstructionUpdater,
	names []string, vars domain.ContextVars) (bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	proposed := make(map[string]bool, len(names))
	for _, name := range names {
		proposed[name] = true
	}
	if setsEqual(s.names, proposed) {
		return false, nil
	}

	text, err := a.Assemble(ctx, names, vars)
	if err != nil {
		return false, domain.WrapOp("ActiveSet.Apply", err)
	}
	tools := a.ToolNames(ctx, names)

	if err := updater.UpdateInstructions(ctx, text, tools); err != nil {
		// Active set unchanged: the next turn diffs against the old set
		// and retries the update.
		return false, domain.WrapOp("ActiveSet.Apply", err)
	}

	s.names = proposed
	s.tools = tools
	return true, nil
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for name := range a {
		if !b[name] {
			return false
		}
	}
	return true
}

// String renders the active set for logs.
func (s *ActiveSet) String() string {
	return fmt.Sprintf("{%s}", strings.Join(s.Names(), ", "))
}
