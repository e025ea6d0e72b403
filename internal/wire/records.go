// Package wire adapts backend records to model entities.
//
// The backend speaks snake_case JSON with loosely-typed optional fields. This
// package is the only place that knows that shape: the HTTP client decodes
// into these records and the engine converts them with ToMessage and
// ToConversation before anything else sees them.
package wire

// MessageRecord is a message as returned by the backend.
type MessageRecord struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	SenderName     string  `json:"sender_name,omitempty"`
	SenderRole     string  `json:"sender_role,omitempty"`
	ReceiverID     string  `json:"receiver_id"`
	ReceiverName   string  `json:"receiver_name,omitempty"`
	ReceiverRole   string  `json:"receiver_role,omitempty"`
	Content        string  `json:"content"`
	Timestamp      string  `json:"timestamp"`
	Read           bool    `json:"read"`
	VenueID        *string `json:"venue_id,omitempty"`
	VenueName      *string `json:"venue_name,omitempty"`
}

// ParticipantRecord is a participant entry inside a ConversationRecord.
type ParticipantRecord struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// ConversationRecord is a conversation as returned by the backend.
type ConversationRecord struct {
	ID             string              `json:"id"`
	ParticipantIDs []string            `json:"participant_ids"`
	Participants   []ParticipantRecord `json:"participants"`
	LastMessage    *MessageRecord      `json:"last_message,omitempty"`
	UnreadCount    int                 `json:"unread_count"`
	VenueID        *string             `json:"venue_id,omitempty"`
	VenueName      *string             `json:"venue_name,omitempty"`
	VenueType      *string             `json:"venue_type,omitempty"`
}

// UnreadCountRecord is the body of the unread-count endpoint.
type UnreadCountRecord struct {
	Count int `json:"count"`
}

// MarkReadRecord is the body returned when a conversation is marked read.
type MarkReadRecord struct {
	Status     string `json:"status"`
	MarkedRead int    `json:"marked_read"`
}

// SendRequest is the body of a send call.
type SendRequest struct {
	ReceiverID string  `json:"receiver_id"`
	Content    string  `json:"content"`
	VenueID    *string `json:"venue_id,omitempty"`
}

// StartRequest is the body of a start-conversation call.
type StartRequest struct {
	ParticipantID string  `json:"participant_id"`
	VenueID       *string `json:"venue_id,omitempty"`
	VenueType     *string `json:"venue_type,omitempty"`
}

// ErrorRecord is the backend's error body.
type ErrorRecord struct {
	Detail string `json:"detail"`
}

// OptionalString returns nil for "" and a pointer otherwise.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
