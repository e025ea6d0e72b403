package engine

import (
	"context"

	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
	"github.com/roach88/inbox/internal/wire"
)

// Backend is the messaging collaborator. It speaks wire records; the engine
// converts them with package wire before touching state.
//
// Implementations must be safe for concurrent use: ticks are independent, so
// several calls may be in flight at once. Failures are returned as errors and
// are never retried by the engine.
type Backend interface {
	ListConversations(ctx context.Context) ([]wire.ConversationRecord, error)
	ListMessages(ctx context.Context, conversationID string) ([]wire.MessageRecord, error)
	SendMessage(ctx context.Context, receiverID, content, venueID string) (wire.MessageRecord, error)
	StartConversation(ctx context.Context, participantID, venueID, venueType string) (wire.ConversationRecord, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	UnreadCount(ctx context.Context) (int, error)
}

// Notifier receives the application-wide "messages updated" signal.
// Calls are fire-and-forget; implementations must not block for long.
type Notifier interface {
	MessagesUpdated(ctx context.Context, u notify.Update)
}

// Snapshotter persists applied state, e.g. to a local cache.
// It is called from the Run loop after a refresh has been applied.
type Snapshotter interface {
	SaveConversations(ctx context.Context, convs []model.Conversation) error
	SaveMessages(ctx context.Context, conversationID string, msgs []model.Message) error
}
