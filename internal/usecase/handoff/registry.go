package handoff

import (
	"log/slog"
	"sort"
	"sync"

	"clara-ai/internal/domain"
)

// Registry holds the specialist profiles the orchestrator may hand
// control to. Shared across sessions; safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	specialists map[string]domain.SpecialistProfile
	logger      *slog.Logger
}

// NewRegistry creates an empty specialist registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		specialists: make(map[string]domain.SpecialistProfile),
		logger:      logger,
	}
}

// Register adds a specialist profile, replacing any previous profile
// with the same name.
func (r *Registry) Register(profile domain.SpecialistProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specialists[profile.Name] = profile
	r.logger.Info("specialist registered", "name", profile.Name, "capabilities", profile.Capabilities)
}

// Get returns the profile for a specialist name.
func (r *Registry) Get(name string) (domain.SpecialistProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.specialists[name]
	if !ok {
		return domain.SpecialistProfile{}, domain.NewDomainError("handoff.Registry.Get", domain.ErrSpecialistNotFound, name)
	}
	return p, nil
}

// Match finds the specialist whose declared capability scope the classified
// intent covers with direct pattern matches. Capabilities pulled in only as
// dependencies or core membership carry no match count and do not trigger a
// specialist, so "remind me" does not hand off to a forms specialist just
// because forms ride along with reminders. When several specialists qualify,
// the one with the most matches wins; ties break by name.
func (r *Registry) Match(result domain.IntentResult) (domain.SpecialistProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best domain.SpecialistProfile
	bestScore := 0
	for _, name := range r.sortedNamesLocked() {
		p := r.specialists[name]
		if len(p.Capabilities) == 0 {
			continue
		}
		score := 0
		covered := true
		for _, c := range p.Capabilities {
			n, ok := result.MatchCounts[c]
			if !ok || n == 0 {
				covered = false
				break
			}
			score += n
		}
		if covered && score > bestScore {
			best, bestScore = p, score
		}
	}
	return best, bestScore > 0
}

// Names returns all registered specialist names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.specialists))
	for n := range r.specialists {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
