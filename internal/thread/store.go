// Package thread holds the message history of the open conversation.
//
// Ordering: confirmed messages sort by (timestamp, arrival sequence);
// provisional messages sort after every confirmed message, in arrival order.
// The order holds after every operation, not only at quiescence.
//
// Store is not safe for concurrent use; the engine serializes access.
package thread

import (
	"fmt"
	"sort"

	"github.com/roach88/inbox/internal/model"
)

// Sequencer hands out strictly increasing arrival sequence numbers.
type Sequencer interface {
	Next() int64
}

type state int

const (
	// statePending is a provisional message awaiting its send result.
	statePending state = iota + 1
	// stateLocal is confirmed by a send response but not yet seen in a listing.
	stateLocal
	// stateServer came from an authoritative listing.
	stateServer
)

type entry struct {
	msg   model.Message
	seq   int64
	state state
}

// Store is the message list for one conversation.
type Store struct {
	seq            Sequencer
	conversationID string
	entries        []entry
}

// New creates an empty store. seq may be nil, in which case a private
// counter is used.
func New(seq Sequencer) *Store {
	if seq == nil {
		seq = &counter{}
	}
	return &Store{seq: seq}
}

// ConversationID returns the conversation the store currently holds.
func (s *Store) ConversationID() string {
	return s.conversationID
}

// Reset evicts all messages and switches to conversationID ("" for none).
func (s *Store) Reset(conversationID string) {
	s.conversationID = conversationID
	s.entries = nil
}

// ReplaceAll merges an authoritative listing by identity.
//
// Listed messages replace same-id entries and keep their arrival sequence.
// Provisional entries survive untouched, as do entries confirmed by a send
// response that the listing does not contain yet. Messages that belong to a
// different conversation are ignored.
func (s *Store) ReplaceAll(msgs []model.Message) {
	existing := make(map[string]entry, len(s.entries))
	for _, e := range s.entries {
		existing[e.msg.ID] = e
	}

	listed := make(map[string]int, len(msgs))
	next := make([]entry, 0, len(msgs)+len(s.entries))
	for _, m := range msgs {
		if m.ConversationID != "" && s.conversationID != "" && m.ConversationID != s.conversationID {
			continue
		}
		if m.IsProvisional() {
			continue
		}
		m = m.Clone()
		if i, dup := listed[m.ID]; dup {
			// Last write wins at identity granularity.
			next[i].msg = m
			continue
		}
		e := entry{msg: m, state: stateServer}
		if old, ok := existing[m.ID]; ok {
			e.seq = old.seq
		} else {
			e.seq = s.seq.Next()
		}
		listed[m.ID] = len(next)
		next = append(next, e)
	}

	for _, e := range s.entries {
		if _, ok := listed[e.msg.ID]; ok {
			continue
		}
		if e.state == statePending || e.state == stateLocal {
			next = append(next, e)
		}
	}

	s.entries = next
	s.sort()
}

// AppendProvisional adds a not-yet-confirmed message to the end of the list.
func (s *Store) AppendProvisional(m model.Message) error {
	if !m.IsProvisional() {
		return fmt.Errorf("message %q is not provisional", m.ID)
	}
	if s.index(m.ID) >= 0 {
		return fmt.Errorf("provisional message %q already present", m.ID)
	}
	s.entries = append(s.entries, entry{msg: m.Clone(), seq: s.seq.Next(), state: statePending})
	s.sort()
	return nil
}

// ConfirmProvisional supersedes the provisional entry with the confirmed
// message, keeping its arrival sequence so it holds its slot. If a listing
// already delivered the confirmed id, the provisional entry is dropped and
// the listed entry is refreshed instead. Returns false if provisionalID is
// not present.
func (s *Store) ConfirmProvisional(provisionalID string, confirmed model.Message) bool {
	i := s.index(provisionalID)
	if i < 0 || s.entries[i].state != statePending {
		return false
	}

	if j := s.index(confirmed.ID); j >= 0 {
		s.entries[j].msg = confirmed.Clone()
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		s.sort()
		return true
	}

	s.entries[i] = entry{msg: confirmed.Clone(), seq: s.entries[i].seq, state: stateLocal}
	s.sort()
	return true
}

// DiscardProvisional removes a provisional entry after a failed send.
func (s *Store) DiscardProvisional(provisionalID string) bool {
	i := s.index(provisionalID)
	if i < 0 || s.entries[i].state != statePending {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// Messages returns the ordered list as copies.
func (s *Store) Messages() []model.Message {
	out := make([]model.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg.Clone()
	}
	return out
}

// Len returns the number of messages, provisional included.
func (s *Store) Len() int {
	return len(s.entries)
}

// ProvisionalCount returns how many entries await confirmation.
func (s *Store) ProvisionalCount() int {
	n := 0
	for _, e := range s.entries {
		if e.state == statePending {
			n++
		}
	}
	return n
}

// HasProvisional reports whether any entry awaits confirmation.
func (s *Store) HasProvisional() bool {
	return s.ProvisionalCount() > 0
}

// Confirmed returns only server-confirmed messages, for caching.
func (s *Store) Confirmed() []model.Message {
	out := make([]model.Message, 0, len(s.entries))
	for _, e := range s.entries {
		if e.state != statePending {
			out = append(out, e.msg.Clone())
		}
	}
	return out
}

func (s *Store) index(id string) int {
	for i, e := range s.entries {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) sort() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return less(s.entries[i], s.entries[j])
	})
}

func less(a, b entry) bool {
	ap, bp := a.state == statePending, b.state == statePending
	if ap != bp {
		return bp
	}
	if ap {
		return a.seq < b.seq
	}
	if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
		return a.msg.Timestamp.Before(b.msg.Timestamp)
	}
	return a.seq < b.seq
}

type counter struct{ n int64 }

func (c *counter) Next() int64 {
	c.n++
	return c.n
}
