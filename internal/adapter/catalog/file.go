// Package catalog implements the capability catalog: named instruction
// blocks plus the tool names each capability exposes. Content ships with
// the binary and can be overridden by markdown files with YAML
// frontmatter dropped into a directory.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"clara-ai/internal/domain"
)

// maxContentFileSize caps a single capability file (256 KiB).
const maxContentFileSize = 256 << 10

// FileCatalog resolves capabilities from built-in defaults overlaid with
// *.md files from an optional directory. Loading is lazy and happens
// once; after that the catalog is read-only and shared across sessions.
type FileCatalog struct {
	dir    string
	logger *slog.Logger

	once    sync.Once
	loadErr error
	caps    map[string]domain.Capability
}

var _ domain.Catalog = (*FileCatalog)(nil)

// New creates a catalog. dir may be empty to serve only built-in content.
func New(dir string, logger *slog.Logger) *FileCatalog {
	return &FileCatalog{dir: dir, logger: logger.With("component", "catalog")}
}

// Get returns the descriptor for name. Unknown names and names whose
// content failed to load yield an empty-content descriptor, never an
// error: a missing block contributes nothing to assembled instructions.
func (c *FileCatalog) Get(_ context.Context, name string) (domain.Capability, error) {
	c.load()
	if desc, ok := c.caps[name]; ok {
		return desc, nil
	}
	c.logger.Debug("capability content missing", "name", name)
	return domain.Capability{Name: name}, nil
}

// Names returns all registered capability names, sorted.
func (c *FileCatalog) Names() []string {
	c.load()
	names := make([]string, 0, len(c.caps))
	for n := range c.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *FileCatalog) load() {
	c.once.Do(func() {
		c.caps = make(map[string]domain.Capability, len(defaults))
		for name, desc := range defaults {
			c.caps[name] = desc
		}
		if c.dir == "" {
			return
		}
		if err := c.loadDir(); err != nil {
			// Overrides are optional; defaults still serve.
			c.loadErr = err
			c.logger.Warn("capability directory not loaded", "dir", c.dir, "error", err)
		}
	})
}

func (c *FileCatalog) loadDir() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read capability dir %s: %w", c.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > maxContentFileSize {
			return fmt.Errorf("capability file %s too large (%d bytes, max %d)", path, info.Size(), maxContentFileSize)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		desc, err := parseCapabilityFile(string(data))
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		c.caps[desc.Name] = desc
		c.logger.Debug("capability loaded", "name", desc.Name, "path", path)
	}
	return nil
}

// frontmatter is the YAML header of a capability markdown file.
type frontmatter struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on"`
	Tools     []string `yaml:"tools"`
}

// parseCapabilityFile parses a markdown file with "---"-delimited YAML
// frontmatter; the body after the closing delimiter is the content block.
func parseCapabilityFile(content string) (domain.Capability, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "---") {
		return domain.Capability{}, fmt.Errorf("missing frontmatter delimiter")
	}

	parts := strings.SplitN(content[3:], "---", 2)
	if len(parts) != 2 {
		return domain.Capability{}, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(parts[0]), &fm); err != nil {
		return domain.Capability{}, fmt.Errorf("frontmatter: %w", err)
	}
	if fm.Name == "" {
		return domain.Capability{}, fmt.Errorf("capability missing name in frontmatter")
	}

	return domain.Capability{
		Name:      fm.Name,
		Content:   strings.TrimSpace(parts[1]),
		DependsOn: fm.DependsOn,
		Tools:     fm.Tools,
	}, nil
}
