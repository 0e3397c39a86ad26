package domain

import (
	"strings"
	"time"
)

// TempIDPrefix marks a client-generated id that the server has not confirmed.
const TempIDPrefix = "temp-"

// EmptyResponseContent replaces the content of a reply that carried no text.
const EmptyResponseContent = "Received empty response"

// Message is a single entry in the conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Pending reports whether the message is an unconfirmed optimistic entry.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Notice is a human-readable notification for the UI toast surface.
type Notice struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}
