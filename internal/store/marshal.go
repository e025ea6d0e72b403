package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/inbox/internal/model"
)

// timeLayout stores timestamps in UTC with full precision.
const timeLayout = time.RFC3339Nano

// storedMessage is the JSON shape of a conversation's last message preview.
type storedMessage struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	ReceiverID     string              `json:"receiver_id"`
	Content        string              `json:"content"`
	Timestamp      string              `json:"timestamp"`
	Read           bool                `json:"read"`
	Venue          *model.VenueContext `json:"venue,omitempty"`
}

// marshalJSON encodes v with HTML escaping disabled, so message text is
// stored as written.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// marshalParticipants converts participants to JSON TEXT.
func marshalParticipants(ps []model.Participant) (string, error) {
	if ps == nil {
		ps = []model.Participant{}
	}
	data, err := marshalJSON(ps)
	if err != nil {
		return "", fmt.Errorf("marshal participants: %w", err)
	}
	return data, nil
}

func unmarshalParticipants(data string) ([]model.Participant, error) {
	if data == "" {
		return nil, nil
	}
	var ps []model.Participant
	if err := json.Unmarshal([]byte(data), &ps); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return ps, nil
}

// marshalLastMessage converts a preview to nullable JSON TEXT.
func marshalLastMessage(m *model.Message) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := marshalJSON(storedMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Timestamp:      m.Timestamp.UTC().Format(timeLayout),
		Read:           m.Read,
		Venue:          m.Venue,
	})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal last message: %w", err)
	}
	return sql.NullString{String: data, Valid: true}, nil
}

func unmarshalLastMessage(data sql.NullString) (*model.Message, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var sm storedMessage
	if err := json.Unmarshal([]byte(data.String), &sm); err != nil {
		return nil, fmt.Errorf("unmarshal last message: %w", err)
	}
	ts, err := time.Parse(timeLayout, sm.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("unmarshal last message timestamp: %w", err)
	}
	return &model.Message{
		ID:             sm.ID,
		ConversationID: sm.ConversationID,
		SenderID:       sm.SenderID,
		ReceiverID:     sm.ReceiverID,
		Content:        sm.Content,
		Timestamp:      ts,
		Read:           sm.Read,
		Venue:          sm.Venue,
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
