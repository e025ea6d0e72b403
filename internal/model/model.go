package model

import (
	"strings"
	"time"
)

// ProvisionalPrefix namespaces client-assigned message ids so they can never
// collide with server ids.
const ProvisionalPrefix = "tmp-"

// Venue types understood by the backend.
const (
	VenueTypeReadingRoom   = "reading_room"
	VenueTypeAccommodation = "accommodation"
)

// VenueContext associates a conversation or message with a listing.
type VenueContext struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Participant is one side of a conversation.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is a single entry in a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	ReceiverID     string        `json:"receiver_id"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	Read           bool          `json:"read"`
	Venue          *VenueContext `json:"venue,omitempty"`
}

// IsProvisional reports whether m has not been confirmed by the server yet.
func (m Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// IsProvisionalID reports whether id is a client-assigned provisional id.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Conversation is a two-party thread, optionally scoped to a venue.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	Venue        *VenueContext `json:"venue,omitempty"`
}

// Counterparty returns the participant that is not userID.
// For a degenerate self-conversation the first participant is returned.
func (c Conversation) Counterparty(userID string) Participant {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0]
	}
	return Participant{}
}

// VenueID returns the venue id or "" when the conversation has no venue.
func (c Conversation) VenueID() string {
	if c.Venue == nil {
		return ""
	}
	return c.Venue.ID
}

// UpdatedAt is the recency key used for display ordering.
func (c Conversation) UpdatedAt() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.Timestamp
}

// Clone returns a deep copy so callers can't alias engine-owned state.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		lm := c.LastMessage.Clone()
		out.LastMessage = &lm
	}
	if c.Venue != nil {
		v := *c.Venue
		out.Venue = &v
	}
	return out
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Venue != nil {
		v := *m.Venue
		out.Venue = &v
	}
	return out
}
