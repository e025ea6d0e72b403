package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/inbox/internal/model"
)

// SaveConversations replaces the cached conversation list with convs, in
// order. Conversations no longer listed are removed with their messages;
// messages of the others are kept.
func (s *Store) SaveConversations(ctx context.Context, convs []model.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteUnlisted(ctx, tx, convs); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversations (
			id, position, participants, last_message, unread_count,
			venue_id, venue_name, venue_type, saved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position,
			participants = excluded.participants,
			last_message = excluded.last_message,
			unread_count = excluded.unread_count,
			venue_id = excluded.venue_id,
			venue_name = excluded.venue_name,
			venue_type = excluded.venue_type,
			saved_at = excluded.saved_at
	`)
	if err != nil {
		return fmt.Errorf("prepare conversation insert: %w", err)
	}
	defer stmt.Close()

	savedAt := time.Now().UTC().Format(timeLayout)
	for i, c := range convs {
		participants, err := marshalParticipants(c.Participants)
		if err != nil {
			return err
		}
		last, err := marshalLastMessage(c.LastMessage)
		if err != nil {
			return err
		}
		var venueID, venueName, venueType string
		if c.Venue != nil {
			venueID, venueName, venueType = c.Venue.ID, c.Venue.Name, c.Venue.Type
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, i, participants, last, c.UnreadCount,
			nullString(venueID), nullString(venueName), nullString(venueType), savedAt,
		); err != nil {
			return fmt.Errorf("insert conversation %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversations: %w", err)
	}
	return nil
}

func deleteUnlisted(ctx context.Context, tx *sql.Tx, convs []model.Conversation) error {
	if len(convs) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
			return fmt.Errorf("clear conversations: %w", err)
		}
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(convs)), ",")
	args := make([]any, len(convs))
	for i, c := range convs {
		args[i] = c.ID
	}
	query := `DELETE FROM conversations WHERE id NOT IN (` + placeholders + `)`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete unlisted conversations: %w", err)
	}
	return nil
}

// SaveMessages replaces the cached messages of conversationID. Provisional
// messages are skipped. The conversation must already be cached.
func (s *Store) SaveMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear messages of %s: %w", conversationID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, position, sender_id, receiver_id,
			content, timestamp, read, venue_id, venue_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	pos := 0
	for _, m := range msgs {
		if m.IsProvisional() {
			continue
		}
		var venueID, venueName string
		if m.Venue != nil {
			venueID, venueName = m.Venue.ID, m.Venue.Name
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, conversationID, pos, m.SenderID, m.ReceiverID,
			m.Content, m.Timestamp.UTC().Format(timeLayout), m.Read,
			nullString(venueID), nullString(venueName),
		); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
		pos++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}
