// Package intent maps free-text user input to the set of capabilities the
// assistant should have active for the next turn.
package intent

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"clara-ai/internal/domain"
	"clara-ai/internal/usecase/conversation"
)

// Confidence model constants.
const (
	baseConfidence     = 0.5
	perMatchIncrement  = 0.2
	noMatchConfidence  = 0.3
	historyThreshold   = 0.7
	historyBump        = 0.2
	historyUserTurns   = 3
)

// Classifier is a deterministic pattern-table intent classifier. Identical
// (text, history) input always yields an identical result; there is no
// hidden randomness and no external call.
type Classifier struct {
	patterns map[string][]*regexp.Regexp
	deps     map[string][]string // capability -> auto-included capabilities
	core     []string            // always included
	fallback string              // added when nothing matched
	logger   *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithPatterns replaces the default pattern table. Patterns are compiled
// case-insensitively; a pattern that fails to compile panics, since the
// table is static program data.
func WithPatterns(table map[string][]string) Option {
	return func(c *Classifier) { c.patterns = compile(table) }
}

// WithDependencies replaces the capability dependency table.
func WithDependencies(deps map[string][]string) Option {
	return func(c *Classifier) { c.deps = deps }
}

// WithCore replaces the always-included capability set.
func WithCore(core ...string) Option {
	return func(c *Classifier) { c.core = core }
}

// WithFallback replaces the capability added when no pattern matches.
func WithFallback(name string) Option {
	return func(c *Classifier) { c.fallback = name }
}

// NewClassifier creates a classifier with the built-in pattern table.
func NewClassifier(logger *slog.Logger, opts ...Option) *Classifier {
	c := &Classifier{
		patterns: compile(defaultPatterns),
		deps:     defaultDependencies,
		core:     defaultCore,
		fallback: defaultFallback,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func compile(table map[string][]string) map[string][]*regexp.Regexp {
	compiled := make(map[string][]*regexp.Regexp, len(table))
	for name, patterns := range table {
		for _, p := range patterns {
			compiled[name] = append(compiled[name], regexp.MustCompile("(?i)"+p))
		}
	}
	return compiled
}

// Classify runs the pattern table against text alone.
func (c *Classifier) Classify(text string) domain.IntentResult {
	detected := make(map[string]bool, len(c.core)+4)
	for _, name := range c.core {
		detected[name] = true
	}

	counts := make(map[string]int)
	for name, patterns := range c.patterns {
		n := 0
		for _, p := range patterns {
			if p.MatchString(text) {
				n++
			}
		}
		if n > 0 {
			counts[name] = n
			detected[name] = true
			for _, dep := range c.deps[name] {
				detected[dep] = true
			}
		}
	}

	confidence := noMatchConfidence
	if len(counts) > 0 {
		confidence = min(baseConfidence+perMatchIncrement*float64(maxCount(counts)), 1.0)
	} else {
		detected[c.fallback] = true
	}

	result := domain.IntentResult{
		Capabilities: sortedKeys(detected),
		Confidence:   confidence,
		Rationale:    rationale(counts),
		MatchCounts:  counts,
	}
	return result
}

// ClassifyWithHistory classifies text, and when confidence lands below the
// threshold re-runs matching over the recent user turns, unioning the
// capability sets and bumping confidence by a fixed increment. This recovers
// intent that the current utterance alone under-specifies ("yes" after
// "do you want a reminder?").
func (c *Classifier) ClassifyWithHistory(text string, history *conversation.History) domain.IntentResult {
	result := c.Classify(text)

	if result.Confidence >= historyThreshold || history == nil || history.Len() == 0 {
		return result
	}

	recent := history.RecentUserText(historyUserTurns)
	if recent == "" {
		return result
	}

	contextual := c.Classify(recent)
	merged := make(map[string]bool, len(result.Capabilities)+len(contextual.Capabilities))
	for _, name := range result.Capabilities {
		merged[name] = true
	}
	for _, name := range contextual.Capabilities {
		merged[name] = true
	}

	result.Capabilities = sortedKeys(merged)
	result.Confidence = min(result.Confidence+historyBump, 1.0)
	result.Rationale += " | context: " + contextual.Rationale

	c.logger.Debug("intent recovered from history",
		"capabilities", result.Capabilities,
		"confidence", result.Confidence,
	)
	return result
}

// rationale renders the top matched capabilities, highest count first.
func rationale(counts map[string]int) string {
	if len(counts) == 0 {
		return "no specific intent"
	}

	names := sortedKeys(countsToSet(counts))
	sort.SliceStable(names, func(i, j int) bool {
		return counts[names[i]] > counts[names[j]]
	})
	if len(names) > 3 {
		names = names[:3]
	}
	return fmt.Sprintf("detected: %s", strings.Join(names, ", "))
}

func countsToSet(counts map[string]int) map[string]bool {
	set := make(map[string]bool, len(counts))
	for name := range counts {
		set[name] = true
	}
	return set
}

func maxCount(counts map[string]int) int {
	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}
	return best
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
