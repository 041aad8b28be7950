package tool

import (
	"encoding/json"

	"clara-ai/internal/domain"
)

// obj builds a JSON Schema object with the given properties and required
// list. Keeps the defaults below readable.
func obj(props string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	return json.RawMessage(`{"type":"object","properties":{` + props + `},"required":` + string(req) + `}`)
}

// Defaults returns the built-in client tool schemas. Tool names line up
// with the capability catalog's tool lists.
func Defaults() []domain.ToolSchema {
	return []domain.ToolSchema{
		{
			Name:        "navigate_to",
			Description: "Open a named screen in the companion app.",
			Parameters:  obj(`"screen":{"type":"string"}`, "screen"),
		},
		{
			Name:        "go_back",
			Description: "Return to the previous screen.",
			Parameters:  obj(``),
		},
		{
			Name:        "reminder_add",
			Description: "Create a reminder with a text and an ISO-8601 due time.",
			Parameters:  obj(`"text":{"type":"string"},"due_at":{"type":"string"}`, "text", "due_at"),
		},
		{
			Name:        "reminder_list",
			Description: "List upcoming reminders.",
			Parameters:  obj(`"day":{"type":"string"}`),
		},
		{
			Name:        "reminder_complete",
			Description: "Mark a reminder as done.",
			Parameters:  obj(`"id":{"type":"string"}`, "id"),
		},
		{
			Name:        "medication_log",
			Description: "Record that a medication dose was taken or skipped.",
			Parameters:  obj(`"medication":{"type":"string"},"taken":{"type":"boolean"}`, "medication", "taken"),
		},
		{
			Name:        "medication_schedule",
			Description: "Show the medication schedule.",
			Parameters:  obj(``),
		},
		{
			Name:        "form_fill",
			Description: "Fill a field of the currently open form.",
			Parameters:  obj(`"field":{"type":"string"},"value":{"type":"string"}`, "field", "value"),
		},
		{
			Name:        "form_submit",
			Description: "Submit the currently open form.",
			Parameters:  obj(``),
		},
		{
			Name:        "call_start",
			Description: "Start a video call with a named contact.",
			Parameters:  obj(`"contact":{"type":"string"}`, "contact"),
		},
		{
			Name:        "contact_list",
			Description: "List the user's family contacts.",
			Parameters:  obj(``),
		},
		{
			Name:        "memory_search",
			Description: "Search earlier conversations for a topic.",
			Parameters:  obj(`"query":{"type":"string"}`, "query"),
		},
		{
			Name:        "fall_settings",
			Description: "Read or change fall detection sensitivity.",
			Parameters:  obj(`"sensitivity":{"type":"string","enum":["low","medium","high"]}`),
		},
		{
			Name:        "location_settings",
			Description: "Turn location sharing on or off.",
			Parameters:  obj(`"enabled":{"type":"boolean"}`, "enabled"),
		},
		{
			Name:        "book_open",
			Description: "Open a book by title.",
			Parameters:  obj(`"title":{"type":"string"}`, "title"),
		},
		{
			Name:        "book_continue",
			Description: "Continue reading the current book from the saved position.",
			Parameters:  obj(``),
		},
		{
			Name:        "image_describe",
			Description: "Describe the most recently shared photo.",
			Parameters:  obj(``),
		},
		{
			Name:        "health_summary",
			Description: "Fetch a summary of recent health readings.",
			Parameters:  obj(`"period":{"type":"string","enum":["day","week"]}`),
		},
	}
}

// RegisterDefaults loads every built-in tool schema into the registry.
func RegisterDefaults(r *Registry) {
	for _, s := range Defaults() {
		r.Register(s)
	}
}
