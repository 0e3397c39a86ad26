package stub

import (
	"fmt"
	"strings"
)

// MockReplier produces canned assistant replies.
type MockReplier struct{}

// NewMockReplier creates a new mock replier.
func NewMockReplier() *MockReplier {
	return &MockReplier{}
}

// Reply answers text given the conversation so far.
func (m *MockReplier) Reply(history []Message, text string) string {
	if strings.EqualFold(text, "/count") {
		return fmt.Sprintf("[MOCK] This conversation has %d earlier messages.", len(history))
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(text, 100))
}

// truncate truncates a string to the given number of runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
