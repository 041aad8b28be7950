package intent

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"clara-ai/internal/domain"
	"clara-ai/internal/usecase/conversation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyReminderIntent(t *testing.T) {
	c := NewClassifier(testLogger())

	result := c.Classify("remind me to call mom at 3pm")

	if !result.Has(CapReminders) {
		t.Errorf("capabilities = %v, want %s included", result.Capabilities, CapReminders)
	}
	if result.Confidence < 0.7 {
		t.Errorf("confidence = %.2f, want >= 0.7", result.Confidence)
	}
}

func TestClassifyCoreAlwaysIncluded(t *testing.T) {
	c := NewClassifier(testLogger())

	for _, text := range []string{"remind me about lunch", "qwertyuiop", ""} {
		result := c.Classify(text)
		if !result.Has(CapNavigation) {
			t.Errorf("Classify(%q): core capability missing from %v", text, result.Capabilities)
		}
	}
}

func TestClassifyNoMatchFallback(t *testing.T) {
	c := NewClassifier(testLogger())

	result := c.Classify("zzz qqq xxx")

	if result.Confidence != 0.3 {
		t.Errorf("confidence = %.2f, want 0.3", result.Confidence)
	}
	if !result.Has(CapMemoryRecall) {
		t.Errorf("fallback capability missing from %v", result.Capabilities)
	}
	if len(result.MatchCounts) != 0 {
		t.Errorf("MatchCounts = %v, want empty", result.MatchCounts)
	}
}

func TestClassifyDependentCapabilities(t *testing.T) {
	c := NewClassifier(testLogger())

	result := c.Classify("add my blood pressure medication")

	if !result.Has(CapMedications) {
		t.Fatalf("capabilities = %v, want %s", result.Capabilities, CapMedications)
	}
	if !result.Has(CapForms) {
		t.Errorf("dependent capability %s missing from %v", CapForms, result.Capabilities)
	}
}

func TestClassifyConfidenceBounds(t *testing.T) {
	c := NewClassifier(testLogger())

	texts := []string{
		"",
		"remind me",
		"remind me today, don't forget, cancel the done reminder tomorrow",
		"heart rate blood pressure steps sleep good morning vital signs how am I doing",
	}
	for _, text := range texts {
		result := c.Classify(text)
		if result.Confidence < 0 || result.Confidence > 1 {
			t.Errorf("Classify(%q) confidence = %.2f, out of [0,1]", text, result.Confidence)
		}
	}
}

func TestClassifyConfidenceMonotonic(t *testing.T) {
	c := NewClassifier(testLogger())

	// Successively more health patterns match; confidence must not decrease.
	texts := []string{
		"steps",
		"how many steps did I take",
		"good morning, how many steps and how is my heart rate",
	}
	prev := 0.0
	for _, text := range texts {
		result := c.Classify(text)
		if result.Confidence < prev {
			t.Errorf("Classify(%q) confidence %.2f < previous %.2f", text, result.Confidence, prev)
		}
		prev = result.Confidence
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(testLogger())

	first := c.Classify("remind me to take my pills")
	for i := 0; i < 10; i++ {
		again := c.Classify("remind me to take my pills")
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
}

func TestClassifyWithHistoryRecoversIntent(t *testing.T) {
	c := NewClassifier(testLogger())
	h := conversation.NewHistory(10)
	h.Append(domain.RoleUser, "remind me to call mom")
	h.Append(domain.RoleAgent, "do you want a reminder for that?")

	// "yes" alone matches nothing.
	alone := c.Classify("yes")
	if alone.Has(CapReminders) {
		t.Fatal("bare affirmative should not match reminders by itself")
	}

	recovered := c.ClassifyWithHistory("yes", h)
	if !recovered.Has(CapReminders) {
		t.Errorf("history should recover reminders, got %v", recovered.Capabilities)
	}
	if recovered.Confidence != alone.Confidence+0.2 {
		t.Errorf("confidence = %.2f, want %.2f", recovered.Confidence, alone.Confidence+0.2)
	}
}

func TestClassifyWithHistorySkippedWhenConfident(t *testing.T) {
	c := NewClassifier(testLogger())
	h := conversation.NewHistory(10)
	h.Append(domain.RoleUser, "what's my heart rate")

	direct := c.Classify("remind me about my pills tomorrow")
	viaHistory := c.ClassifyWithHistory("remind me about my pills tomorrow", h)

	if !reflect.DeepEqual(direct, viaHistory) {
		t.Errorf("confident result should not consult history: %+v vs %+v", direct, viaHistory)
	}
}

func TestClassifyWithHistoryConfidenceCapped(t *testing.T) {
	c := NewClassifier(testLogger())
	h := conversation.NewHistory(10)
	h.Append(domain.RoleUser, "books")

	result := c.ClassifyWithHistory("read my book chapter page", h)
	if result.Confidence > 1.0 {
		t.Errorf("confidence = %.2f, want capped at 1.0", result.Confidence)
	}
}

func TestCustomPatternTable(t *testing.T) {
	c := NewClassifier(testLogger(),
		WithPatterns(map[string][]string{"weather": {`\bweather\b`}}),
		WithCore("base"),
		WithFallback("chat"),
	)

	result := c.Classify("what's the weather like")
	want := []string{"base", "weather"}
	if !reflect.DeepEqual(result.Capabilities, want) {
		t.Errorf("capabilities = %v, want %v", result.Capabilities, want)
	}
}
