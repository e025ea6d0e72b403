// Package notify carries the application-wide "messages updated" signal.
//
// The engine emits an Update after it changes what the user sees: a message
// was sent, a conversation was started, or a conversation was read. Delivery
// is fire-and-forget; a slow receiver never stalls the engine.
package notify

import (
	"context"
	"sync"
	"time"
)

// Reasons carried by Update.
const (
	ReasonMessageSent         = "message_sent"
	ReasonConversationStarted = "conversation_started"
	ReasonConversationRead    = "conversation_read"
)

// Update is one "messages updated" signal.
type Update struct {
	Reason         string    `json:"reason"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
}

// Receiver is anything that accepts updates.
type Receiver interface {
	MessagesUpdated(ctx context.Context, u Update)
}

// Bus fans updates out to in-process subscribers.
//
// Each subscriber has a bounded buffer. When it is full the update is
// dropped for that subscriber and counted.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Update
	next    int
	buffer  int
	dropped int
	closed  bool
}

// NewBus creates a bus whose subscribers buffer up to buffer updates.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{subs: make(map[int]chan Update), buffer: buffer}
}

// Subscribe returns a channel of updates and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Update, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// MessagesUpdated delivers u to every subscriber without blocking.
func (b *Bus) MessagesUpdated(_ context.Context, u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes all subscriber channels. Later updates are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Multi delivers each update to every receiver in order.
type Multi []Receiver

// MessagesUpdated implements Receiver.
func (m Multi) MessagesUpdated(ctx context.Context, u Update) {
	for _, r := range m {
		if r != nil {
			r.MessagesUpdated(ctx, u)
		}
	}
}
