package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"clara-ai/internal/domain"
)

// capabilityDescriptions feed the refiner prompt. One line per capability.
var capabilityDescriptions = map[string]string{
	CapReminders:        "reminders, tasks, to-do items, scheduling future actions",
	CapNavigation:       "moving between app screens, opening menus, going back",
	CapVideoCalls:       "starting video calls, calling family members",
	CapMemoryRecall:     "recalling past conversations and previous information",
	CapFallDetection:    "fall detection settings, sensitivity, emergency contacts",
	CapLocationTracking: "GPS tracking, location sharing settings",
	CapBooks:            "reading books, audiobooks, book content questions",
	CapImageRecognition: "analyzing or describing already-uploaded photos",
	CapHealth:           "health status, vital signs, steps, sleep, wellness summaries",
	CapMedications:      "managing medications, tracking doses, refills",
	CapForms:            "filling out and submitting forms on screen",
}

// Refiner consults a language model when the pattern classifier is not
// confident enough. It is strictly additive: on any provider failure or
// malformed reply, the pattern result is returned unchanged, so the
// pipeline stays deterministic whenever the model is unavailable.
type Refiner struct {
	chat      domain.ChatFunc
	threshold float64
	logger    *slog.Logger
}

// NewRefiner creates a refiner that activates below the given confidence
// threshold. A nil chat function disables it entirely.
func NewRefiner(chat domain.ChatFunc, threshold float64, logger *slog.Logger) *Refiner {
	if threshold <= 0 {
		threshold = historyThreshold
	}
	return &Refiner{chat: chat, threshold: threshold, logger: logger}
}

const refinerSystem = "You are an intent classification expert. " +
	"Given a user message and a list of capabilities, reply with JSON only: " +
	`{"capabilities": [...], "confidence": 0.0}`

// Refine unions model-suggested capabilities into result when the pattern
// confidence is below the threshold. Unknown capability names in the model
// reply are dropped.
func (r *Refiner) Refine(ctx context.Context, text string, result domain.IntentResult) domain.IntentResult {
	if r.chat == nil || result.Confidence >= r.threshold {
		return result
	}

	reply, err := r.chat(ctx, refinerSystem, r.buildPrompt(text))
	if err != nil {
		r.logger.Warn("intent refiner unavailable, keeping pattern result", "error", err)
		return result
	}

	var parsed struct {
		Capabilities []string `json:"capabilities"`
		Confidence   float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		r.logger.Warn("intent refiner reply unparseable", "error", err)
		return result
	}

	merged := make(map[string]bool, len(result.Capabilities))
	for _, name := range result.Capabilities {
		merged[name] = true
	}
	added := 0
	for _, name := range parsed.Capabilities {
		if _, known := capabilityDescriptions[name]; known && !merged[name] {
			merged[name] = true
			added++
		}
	}
	if added == 0 {
		return result
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	result.Capabilities = names
	if parsed.Confidence > result.Confidence && parsed.Confidence <= 1.0 {
		result.Confidence = parsed.Confidence
	}
	result.Rationale += " | refined"
	return result
}

func (r *Refiner) buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Capabilities:\n")
	names := make([]string, 0, len(capabilityDescriptions))
	for name := range capabilityDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, capabilityDescriptions[name])
	}
	fmt.Fprintf(&b, "\nUser message: %q\n", text)
	return b.String()
}

// extractJSON strips leading/trailing prose around a JSON object, a common
// failure mode for chat models asked to reply with JSON only.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
