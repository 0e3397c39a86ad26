package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/xiaot623/convo/internal/conversation"
	"github.com/xiaot623/convo/internal/domain"
)

// terminal renders gateway effects as plain text.
type terminal struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

// Notify implements gateway.Notifier.
func (t *terminal) Notify(n domain.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.errOut, "[%s] %s: %s\n", n.Severity, n.Title, n.Description)
}

// RedirectToAuth implements gateway.Navigator.
func (t *terminal) RedirectToAuth() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.errOut, "Not logged in. Use /login <username> <password>.")
}

// onChange prints assistant replies as they land in the log.
func (t *terminal) onChange(c conversation.Change) {
	if c.Op != conversation.OpAppended || c.Message.Role == domain.RoleUser {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s> %s\n", c.Message.Role, c.Message.Content)
}

func (t *terminal) printHistory(msgs []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(msgs) == 0 {
		fmt.Fprintln(t.out, "(no messages)")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(t.out, "%s %s> %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
	}
}

func (t *terminal) banner(ec *domain.ErrorContext) {
	if ec == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.errOut, "!! %s\n", ec.Message)
}
