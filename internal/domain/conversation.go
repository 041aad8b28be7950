package domain

import "time"

// Role constants for conversation turns.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn is a single entry in a conversation's bounded history.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
