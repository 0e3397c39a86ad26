package gateway

import "sync"

// Draft is the input buffer a message is composed in. Submit clears it when
// the message is sent and restores it when the send fails.
type Draft struct {
	mu   sync.Mutex
	text string
}

// NewDraft creates a draft holding text.
func NewDraft(text string) *Draft {
	return &Draft{text: text}
}

// Text returns the current contents.
func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// SetText replaces the contents.
func (d *Draft) SetText(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

// Clear empties the draft.
func (d *Draft) Clear() {
	d.SetText("")
}
