// Package conversation holds the ordered, in-memory message log of a chat session.
package conversation

import (
	"sync"

	"github.com/xiaot623/convo/internal/domain"
)

// Op identifies the kind of mutation reported to observers.
type Op string

const (
	OpAppended Op = "appended"
	OpRemoved  Op = "removed"
	OpReplaced Op = "replaced"
	OpCleared  Op = "cleared"
)

// Change describes a single mutation of the log.
// Message is set for OpAppended and OpRemoved.
type Change struct {
	Op      Op
	Message domain.Message
	Len     int
}

// Observer is notified after every mutation, outside the state lock.
type Observer func(Change)

// State is the ordered message log. Insertion order is conversation order.
// It never reorders or deduplicates entries.
type State struct {
	mu        sync.RWMutex
	messages  []domain.Message
	observers []Observer
}

// NewState creates an empty conversation log.
func NewState() *State {
	return &State{
		messages: make([]domain.Message, 0),
	}
}

// Observe registers fn to be called after each mutation.
func (s *State) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Append adds msg at the end of the log.
func (s *State) Append(msg domain.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	change := Change{Op: OpAppended, Message: msg, Len: len(s.messages)}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
}

// RemoveByID removes the first message with the given id.
// It reports whether a message was removed.
func (s *State) RemoveByID(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, m := range s.messages {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	removed := s.messages[idx]
	s.messages = append(s.messages[:idx:idx], s.messages[idx+1:]...)
	change := Change{Op: OpRemoved, Message: removed, Len: len(s.messages)}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return true
}

// Replace swaps the whole log for msgs, e.g. after loading history.
func (s *State) Replace(msgs []domain.Message) {
	s.mu.Lock()
	s.messages = append(make([]domain.Message, 0, len(msgs)), msgs...)
	change := Change{Op: OpReplaced, Len: len(s.messages)}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
}

// Clear empties the log.
func (s *State) Clear() {
	s.mu.Lock()
	s.messages = make([]domain.Message, 0)
	observers := s.observers
	s.mu.Unlock()

	notify(observers, Change{Op: OpCleared})
}

// Messages returns a copy of the log, oldest first.
func (s *State) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the log.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Pending returns the unconfirmed optimistic messages currently in the log.
func (s *State) Pending() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Message
	for _, m := range s.messages {
		if m.Pending() {
			out = append(out, m)
		}
	}
	return out
}

func notify(observers []Observer, change Change) {
	for _, fn := range observers {
		fn(change)
	}
}
