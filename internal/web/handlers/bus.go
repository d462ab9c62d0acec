package handlers

import (
	"sync"

	"github.com/quickdesk/quickdesk/internal/conversation"
)

// busBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind loses events; the next snapshot catches it up.
const busBuffer = 64

// bus fans one wizard session's transcript events out to its SSE
// subscribers. It is the transcript Observer for the session.
type bus struct {
	mu     sync.Mutex
	subs   map[chan conversation.Event]struct{}
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[chan conversation.Event]struct{})}
}

// publish implements conversation.Observer. It never blocks.
func (b *bus) publish(ev conversation.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *bus) subscribe() (<-chan conversation.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan conversation.Event, busBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// close shuts every subscriber channel. Used when the session expires.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
