package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultsServeWithoutDir(t *testing.T) {
	c := New("", testLogger())

	desc, err := c.Get(context.Background(), "reminders")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if desc.Content == "" {
		t.Error("built-in reminders content should not be empty")
	}
	if len(desc.Tools) == 0 {
		t.Error("reminders should expose tools")
	}
	if len(desc.DependsOn) != 1 || desc.DependsOn[0] != "forms" {
		t.Errorf("DependsOn = %v, want [forms]", desc.DependsOn)
	}
}

func TestUnknownNameYieldsEmptyContent(t *testing.T) {
	c := New("", testLogger())

	desc, err := c.Get(context.Background(), "no_such_capability")
	if err != nil {
		t.Fatalf("unknown name must not be an error: %v", err)
	}
	if desc.Name != "no_such_capability" || desc.Content != "" {
		t.Errorf("desc = %+v", desc)
	}
}

func TestNamesSorted(t *testing.T) {
	c := New("", testLogger())

	names := c.Names()
	if len(names) == 0 {
		t.Fatal("no capabilities registered")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestDirectoryOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "reminders.md", `---
name: reminders
tools: [reminder_add]
---
Custom reminder instructions.`)
	write(t, dir, "gardening.md", `---
name: gardening
depends_on: [reminders]
tools: [plant_lookup]
---
Help with the garden.`)

	c := New(dir, testLogger())

	desc, _ := c.Get(context.Background(), "reminders")
	if desc.Content != "Custom reminder instructions." {
		t.Errorf("override not applied: %q", desc.Content)
	}
	if len(desc.Tools) != 1 {
		t.Errorf("override tools = %v", desc.Tools)
	}

	g, _ := c.Get(context.Background(), "gardening")
	if g.Content != "Help with the garden." {
		t.Errorf("new capability content = %q", g.Content)
	}
	if len(g.DependsOn) != 1 || g.DependsOn[0] != "reminders" {
		t.Errorf("DependsOn = %v", g.DependsOn)
	}
}

func TestBadDirectoryFallsBackToDefaults(t *testing.T) {
	c := New("/nonexistent/path", testLogger())

	desc, err := c.Get(context.Background(), "base")
	if err != nil || desc.Content == "" {
		t.Errorf("defaults should survive a bad directory: %v %+v", err, desc)
	}
}

func TestParseCapabilityFile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "---\nname: x\n---\nbody", false},
		{"no frontmatter", "just text", true},
		{"unclosed frontmatter", "---\nname: x\nbody", true},
		{"missing name", "---\ntools: [a]\n---\nbody", true},
		{"bad yaml", "---\nname: [\n---\nbody", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCapabilityFile(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultsCoverClassifierNames(t *testing.T) {
	c := New("", testLogger())
	names := c.Names()
	for _, want := range []string{"base", "navigation", "reminders", "medications", "memory_recall", "health"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("built-in catalog missing %q", want)
		}
	}
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.TrimSpace(content)), 0o644); err != nil {
		t.Fatal(err)
	}
}
