package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/inbox/internal/model"
)

// LoadConversations returns the cached conversation list in saved order.
func (s *Store) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participants, last_message, unread_count, venue_id, venue_name, venue_type
		FROM conversations
		ORDER BY position ASC, id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func scanConversation(rows *sql.Rows) (model.Conversation, error) {
	var (
		c                             model.Conversation
		participants                  string
		last                          sql.NullString
		venueID, venueName, venueType sql.NullString
	)
	if err := rows.Scan(&c.ID, &participants, &last, &c.UnreadCount, &venueID, &venueName, &venueType); err != nil {
		return model.Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}

	var err error
	if c.Participants, err = unmarshalParticipants(participants); err != nil {
		return model.Conversation{}, err
	}
	if c.LastMessage, err = unmarshalLastMessage(last); err != nil {
		return model.Conversation{}, err
	}
	if venueID.Valid {
		c.Venue = &model.VenueContext{ID: venueID.String, Name: venueName.String, Type: venueType.String}
	}
	return c, nil
}

// LoadMessages returns the cached messages of a conversation in saved order.
// An uncached conversation yields no messages.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, content, timestamp, read, venue_id, venue_name
		FROM messages
		WHERE conversation_id = ?
		ORDER BY position ASC, id ASC COLLATE BINARY
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m                  model.Message
			ts                 string
			venueID, venueName sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &ts, &m.Read, &venueID, &venueName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse message %s timestamp: %w", m.ID, err)
		}
		if venueID.Valid {
			m.Venue = &model.VenueContext{ID: venueID.String, Name: venueName.String}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Counts returns how many conversations and messages are cached.
func (s *Store) Counts(ctx context.Context) (conversations, messages int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&conversations); err != nil {
		return 0, 0, fmt.Errorf("count conversations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&messages); err != nil {
		return 0, 0, fmt.Errorf("count messages: %w", err)
	}
	return conversations, messages, nil
}
