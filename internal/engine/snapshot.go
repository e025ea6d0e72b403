package engine

import (
	"sort"

	"github.com/roach88/inbox/internal/model"
)

// Snapshot is a copy of the engine state at one point in time.
type Snapshot struct {
	// Conversations in directory order.
	Conversations []model.Conversation `json:"conversations"`

	// Selected is the open conversation id, or "".
	Selected string `json:"selected,omitempty"`

	// Messages of the open conversation in display order.
	Messages []model.Message `json:"messages"`

	// Drafts maps conversation ids to compose text.
	Drafts map[string]string `json:"drafts,omitempty"`

	// Sending lists conversations with a send in flight, sorted.
	Sending []string `json:"sending,omitempty"`

	// Loaded is true once a conversation listing has been applied.
	Loaded bool `json:"loaded"`
}

// Conversation returns the conversation with the given id.
func (s Snapshot) Conversation(id string) (model.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// UnreadTotal sums the unread counts of all conversations.
func (s Snapshot) UnreadTotal() int {
	total := 0
	for _, c := range s.Conversations {
		total += c.UnreadCount
	}
	return total
}

// ProvisionalCount returns the number of unconfirmed messages shown.
func (s Snapshot) ProvisionalCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.IsProvisional() {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Conversations: e.dir.Conversations(),
		Selected:      e.dir.Selected(),
		Messages:      e.thread.Messages(),
		Loaded:        e.loaded,
	}
	if len(e.drafts) > 0 {
		snap.Drafts = make(map[string]string, len(e.drafts))
		for id, text := range e.drafts {
			snap.Drafts[id] = text
		}
	}
	for id := range e.pending {
		snap.Sending = append(snap.Sending, id)
	}
	sort.Strings(snap.Sending)
	return snap
}
