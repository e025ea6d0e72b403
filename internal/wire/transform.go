package wire

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/inbox/internal/model"
)

// RecordError reports a single record that could not be converted.
type RecordError struct {
	Kind  string // "message" | "conversation"
	ID    string // may be empty when the id itself is missing
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	id := e.ID
	if id == "" {
		id = "<no id>"
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed %s %s: %s: %v", e.Kind, id, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed %s %s: missing %s", e.Kind, id, e.Field)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// timestampLayouts lists accepted timestamp forms, most specific first.
// The backend emits zone-less isoformat() output, which is UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ToMessage converts a record. Required: id, conversation_id, content and a
// parseable timestamp.
func ToMessage(rec MessageRecord) (model.Message, error) {
	if rec.ID == "" {
		return model.Message{}, &RecordError{Kind: "message", Field: "id"}
	}
	if rec.ConversationID == "" {
		return model.Message{}, &RecordError{Kind: "message", ID: rec.ID, Field: "conversation_id"}
	}
	if strings.TrimSpace(rec.Content) == "" {
		return model.Message{}, &RecordError{Kind: "message", ID: rec.ID, Field: "content"}
	}
	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return model.Message{}, &RecordError{Kind: "message", ID: rec.ID, Field: "timestamp", Err: err}
	}

	msg := model.Message{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		SenderID:       rec.SenderID,
		ReceiverID:     rec.ReceiverID,
		Content:        norm.NFC.String(rec.Content),
		Timestamp:      ts,
		Read:           rec.Read,
	}
	if id := deref(rec.VenueID); id != "" {
		msg.Venue = &model.VenueContext{ID: id, Name: norm.NFC.String(deref(rec.VenueName))}
	}
	return msg, nil
}

// ToMessages converts a batch. Malformed records are skipped and reported;
// they never abort the batch.
func ToMessages(recs []MessageRecord) ([]model.Message, []error) {
	out := make([]model.Message, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		msg, err := ToMessage(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, msg)
	}
	return out, errs
}

// ToConversation converts a record. Only id is required; everything else
// degrades.
func ToConversation(rec ConversationRecord) (model.Conversation, error) {
	if rec.ID == "" {
		return model.Conversation{}, &RecordError{Kind: "conversation", Field: "id"}
	}

	conv := model.Conversation{
		ID:          rec.ID,
		UnreadCount: rec.UnreadCount,
	}
	if conv.UnreadCount < 0 {
		conv.UnreadCount = 0
	}

	for _, p := range rec.Participants {
		if p.ID == "" {
			continue
		}
		conv.Participants = append(conv.Participants, model.Participant{
			ID:        p.ID,
			Name:      norm.NFC.String(p.Name),
			Role:      p.Role,
			AvatarURL: deref(p.AvatarURL),
		})
	}
	if len(conv.Participants) == 0 {
		for _, id := range rec.ParticipantIDs {
			if id != "" {
				conv.Participants = append(conv.Participants, model.Participant{ID: id})
			}
		}
	}

	if id := deref(rec.VenueID); id != "" {
		conv.Venue = &model.VenueContext{
			ID:   id,
			Name: norm.NFC.String(deref(rec.VenueName)),
			Type: deref(rec.VenueType),
		}
	}

	if rec.LastMessage != nil {
		lm := *rec.LastMessage
		if lm.ConversationID == "" {
			lm.ConversationID = rec.ID
		}
		if msg, err := ToMessage(lm); err == nil {
			if msg.Venue == nil && conv.Venue != nil {
				v := *conv.Venue
				msg.Venue = &v
			}
			conv.LastMessage = &msg
		}
	}
	return conv, nil
}

// ToConversations converts a batch with the same policy as ToMessages.
func ToConversations(recs []ConversationRecord) ([]model.Conversation, []error) {
	out := make([]model.Conversation, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		conv, err := ToConversation(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, conv)
	}
	return out, errs
}
