// Package directory holds the ordered set of conversations for the current
// user and the current selection.
//
// Directory is not safe for concurrent use. The engine owns it and mutates it
// only from its event loop; readers go through engine snapshots.
package directory

import (
	"sort"

	"github.com/roach88/inbox/internal/model"
)

type entry struct {
	conv model.Conversation
	// local marks a conversation inserted by the resolver that no server
	// listing has contained yet.
	local bool
}

// Directory is the conversation list plus selection.
type Directory struct {
	userID   string
	entries  []entry
	selected string
}

// New creates an empty directory for userID.
func New(userID string) *Directory {
	return &Directory{userID: userID}
}

// UserID returns the current user's id.
func (d *Directory) UserID() string {
	return d.userID
}

// ReplaceAll atomically replaces the list with an authoritative fetch.
//
// The selection survives if its id is still present and is cleared otherwise.
// Locally inserted conversations missing from convs are kept at the front,
// and a local LastMessage newer than the server's preview is kept.
// Returns true if the selection was cleared.
func (d *Directory) ReplaceAll(convs []model.Conversation) bool {
	previous := make(map[string]entry, len(d.entries))
	for _, e := range d.entries {
		previous[e.conv.ID] = e
	}

	seen := make(map[string]struct{}, len(convs))
	next := make([]entry, 0, len(convs))
	for _, c := range convs {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		c = c.Clone()
		if old, ok := previous[c.ID]; ok && newerPreview(old.conv.LastMessage, c.LastMessage) {
			lm := old.conv.LastMessage.Clone()
			c.LastMessage = &lm
		}
		next = append(next, entry{conv: c})
	}

	var retained []entry
	for _, e := range d.entries {
		if _, ok := seen[e.conv.ID]; !ok && e.local {
			retained = append(retained, e)
		}
	}
	d.entries = append(retained, next...)

	if d.selected != "" && d.index(d.selected) < 0 {
		d.selected = ""
		return true
	}
	return false
}

// newerPreview reports whether local is strictly newer than remote.
func newerPreview(local, remote *model.Message) bool {
	if local == nil {
		return false
	}
	if remote == nil {
		return true
	}
	return local.Timestamp.After(remote.Timestamp)
}

// Insert adds a locally created conversation at the front of the list.
// Returns false if a conversation with the same id already exists.
func (d *Directory) Insert(conv model.Conversation) bool {
	if d.index(conv.ID) >= 0 {
		return false
	}
	d.entries = append([]entry{{conv: conv.Clone(), local: true}}, d.entries...)
	return true
}

// UpsertLastMessage sets the list preview for conversationID unless the
// existing preview is newer. Returns false if the conversation is unknown.
func (d *Directory) UpsertLastMessage(conversationID string, msg model.Message) bool {
	i := d.index(conversationID)
	if i < 0 {
		return false
	}
	cur := d.entries[i].conv.LastMessage
	if cur != nil && cur.Timestamp.After(msg.Timestamp) {
		return true
	}
	lm := msg.Clone()
	d.entries[i].conv.LastMessage = &lm
	return true
}

// FindByParticipantAndContext returns the first conversation, in list order,
// whose counterparty is participantID and, when venueID is non-empty, whose
// venue id equals venueID. An empty venueID ignores context.
func (d *Directory) FindByParticipantAndContext(participantID, venueID string) (model.Conversation, bool) {
	for _, e := range d.entries {
		if e.conv.Counterparty(d.userID).ID != participantID {
			continue
		}
		if venueID != "" && e.conv.VenueID() != venueID {
			continue
		}
		return e.conv.Clone(), true
	}
	return model.Conversation{}, false
}

// Get returns the conversation with id.
func (d *Directory) Get(id string) (model.Conversation, bool) {
	i := d.index(id)
	if i < 0 {
		return model.Conversation{}, false
	}
	return d.entries[i].conv.Clone(), true
}

// Select makes id the open conversation. Returns false if id is unknown.
func (d *Directory) Select(id string) bool {
	if d.index(id) < 0 {
		return false
	}
	d.selected = id
	return true
}

// Selected returns the open conversation id, or "".
func (d *Directory) Selected() string {
	return d.selected
}

// ClearSelection closes the open conversation.
func (d *Directory) ClearSelection() {
	d.selected = ""
}

// MarkRead sets the unread count of id to zero. It never decrements, so
// repeated calls are idempotent. Returns false if id is unknown.
func (d *Directory) MarkRead(id string) bool {
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.entries[i].conv.UnreadCount = 0
	return true
}

// Conversations returns a copy of the list in directory order.
func (d *Directory) Conversations() []model.Conversation {
	out := make([]model.Conversation, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.conv.Clone()
	}
	return out
}

// ByRecency returns the list ordered most-recently-updated first.
// Conversations without messages keep their relative directory order at the end.
func (d *Directory) ByRecency() []model.Conversation {
	return SortByRecency(d.Conversations())
}

// SortByRecency orders convs most-recently-updated first, in place.
func SortByRecency(convs []model.Conversation) []model.Conversation {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt().After(convs[j].UpdatedAt())
	})
	return convs
}

// UnreadTotal sums unread counts across the directory.
func (d *Directory) UnreadTotal() int {
	total := 0
	for _, e := range d.entries {
		total += e.conv.UnreadCount
	}
	return total
}

// Len returns the number of conversations.
func (d *Directory) Len() int {
	return len(d.entries)
}

func (d *Directory) index(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range d.entries {
		if e.conv.ID == id {
			return i
		}
	}
	return -1
}
