package domain

// IntentResult is the outcome of classifying one user utterance. Created
// fresh per classification call; never persisted.
type IntentResult struct {
	// Capabilities is the detected capability set in a stable (sorted)
	// order. Core capabilities are always present.
	Capabilities []string
	// Confidence is in [0, 1].
	Confidence float64
	// Rationale is a human-readable trace of which patterns matched.
	Rationale string
	// MatchCounts maps capability name to the number of patterns that
	// matched. Capabilities included via dependency or core membership
	// have no entry.
	MatchCounts map[string]int
}

// Has reports whether the result includes the named capability.
func (r IntentResult) Has(name string) bool {
	for _, c := range r.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
