package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType distinguishes transcript notifications.
type EventType string

const (
	// EventAppended fires when a new message is appended.
	EventAppended EventType = "appended"

	// EventPatched fires when a streaming delta replaces the content of
	// an existing message.
	EventPatched EventType = "patched"

	// EventReset fires when the transcript is cleared.
	EventReset EventType = "reset"
)

// Event describes one transcript change.
type Event struct {
	Type    EventType
	Message Message
}

// Observer receives transcript change events. Observers must not block;
// they typically forward to an SSE writer or a buffered channel.
type Observer func(Event)

// Transcript is the ordered, append-only record of one wizard session.
// It is the sole source of truth for what the user has seen.
//
// Transcript is safe for concurrent use: the wizard goroutine appends
// while SSE readers take snapshots.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	observer Observer
	now      func() time.Time
}

// NewTranscript creates an empty transcript. observer may be nil.
func NewTranscript(observer Observer) *Transcript {
	return &Transcript{
		observer: observer,
		now:      time.Now,
	}
}

// Append adds a message, assigning its ID and timestamp, and returns the
// stored message.
func (t *Transcript) Append(p Partial) Message {
	t.mu.Lock()
	msg := Message{
		ID:        uuid.New(),
		Role:      p.Role,
		Kind:      p.Kind,
		Content:   p.Content,
		Options:   p.Options,
		Fields:    p.Fields,
		Warnings:  p.Warnings,
		Meta:      p.Meta,
		CreatedAt: t.now(),
	}
	t.messages = append(t.messages, msg)
	t.mu.Unlock()

	t.notify(Event{Type: EventAppended, Message: msg})
	return msg
}

// SetContent replaces the content of the message with the given ID.
// This is the single in-place mutation allowed on a transcript; it exists
// for the streaming placeholder whose content grows as deltas arrive.
// Returns false if no message has that ID.
func (t *Transcript) SetContent(id uuid.UUID, content string) bool {
	t.mu.Lock()
	var patched *Message
	for i := range t.messages {
		if t.messages[i].ID == id {
			t.messages[i].Content = content
			m := t.messages[i]
			patched = &m
			break
		}
	}
	t.mu.Unlock()

	if patched == nil {
		return false
	}
	t.notify(Event{Type: EventPatched, Message: *patched})
	return true
}

// Reset discards all messages.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()

	t.notify(Event{Type: EventReset})
}

// Messages returns a snapshot copy of the transcript.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Last returns the most recent message, or false if the transcript is empty.
func (t *Transcript) Last() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

func (t *Transcript) notify(ev Event) {
	if t.observer != nil {
		t.observer(ev)
	}
}
