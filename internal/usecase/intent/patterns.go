package intent

// Built-in capability names. The catalog and specialist profiles reference
// the same names; keep them in sync with catalog defaults.
const (
	CapNavigation       = "navigation"
	CapReminders        = "reminders"
	CapMedications      = "medications"
	CapForms            = "forms"
	CapVideoCalls       = "video_calls"
	CapMemoryRecall     = "memory_recall"
	CapFallDetection    = "fall_detection"
	CapLocationTracking = "location_tracking"
	CapBooks            = "books"
	CapImageRecognition = "image_recognition"
	CapHealth           = "health"
)

// defaultPatterns is the static phrase/keyword table. Patterns are compiled
// case-insensitively at construction.
var defaultPatterns = map[string][]string{
	CapReminders: {
		`\b(remind|reminder|don'?t forget|remember to)\b`,
		`\bwhat do i have\b`,
		`\b(today|tomorrow|this week)('s| schedule)?\b`,
		`\b(cancel|delete|done|completed|finished)\b.*\breminder\b`,
	},
	CapMedications: {
		`\b(medication|medicine|pills?|dose|refill)\b`,
		`\b(took|take|skip(ped)?) my (pills?|meds|medication)\b`,
	},
	CapVideoCalls: {
		`\b(call|video call|talk to|contact)\b`,
		`\b(daughter|son|family|grandchild)\b`,
	},
	CapMemoryRecall: {
		`\b(remember|recall|talked about|mentioned)\b`,
		`\bwhat did (we|i) (talk|say)\b`,
	},
	CapFallDetection: {
		`\b(fall detection|sensitivity|emergency)\b`,
		`\bturn (on|off) fall\b`,
	},
	CapLocationTracking: {
		`\b(location|tracking|gps)\b`,
		`\bturn (on|off) location\b`,
	},
	CapBooks: {
		`\b(book|chapter|page|continue reading)\b`,
		`\bread (the |my )?book\b`,
	},
	CapImageRecognition: {
		`\b(photo|picture|image|recognize|who is)\b`,
		`\bwho('s| is) (this|that)\b`,
	},
	CapHealth: {
		`\bhow (am i|is my health|am i doing)\b`,
		`\b(health|wellness) (status|check|update|summary|report)\b`,
		`\b(heart rate|blood pressure|blood oxygen|steps|sleep|calories)\b`,
		`\bhow (many|much) (steps|calories|sleep)\b`,
		`\bgood morning\b`,
		`\bvital signs?\b`,
	},
	CapForms: {
		`\b(form|fill out|submit)\b`,
	},
}

// defaultCore is always included regardless of matches.
var defaultCore = []string{CapNavigation}

// defaultDependencies auto-includes capabilities alongside a match.
// Medication flows drive client-side forms, so forms ride along.
var defaultDependencies = map[string][]string{
	CapMedications: {CapForms},
	CapReminders:   {CapForms},
}

// defaultFallback handles open-ended continuation when nothing matched.
var defaultFallback = CapMemoryRecall
