package engine

import (
	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/wire"
)

// Requests come from callers; completions come from dispatched backend
// calls. All of them are applied by the Run loop in FIFO order.

type refreshRequest struct {
	reply chan outcome[Snapshot]
}

func (*refreshRequest) name() string { return "refresh" }

type selectRequest struct {
	conversationID string
	reply          chan outcome[Snapshot]
}

func (*selectRequest) name() string { return "select" }

type clearSelectionRequest struct {
	reply chan outcome[struct{}]
}

func (*clearSelectionRequest) name() string { return "clear_selection" }

type draftRequest struct {
	conversationID string
	text           string
	reply          chan outcome[struct{}]
}

func (*draftRequest) name() string { return "draft" }

type sendRequest struct {
	conversationID string
	content        string
	reply          chan outcome[model.Message]
}

func (*sendRequest) name() string { return "send" }

type resolveRequest struct {
	target Target
	reply  chan outcome[model.Conversation]
}

func (*resolveRequest) name() string { return "resolve" }

type markReadRequest struct {
	conversationID string
	reply          chan outcome[struct{}]
}

func (*markReadRequest) name() string { return "mark_read" }

type conversationsLoaded struct {
	seq     int64
	records []wire.ConversationRecord
	err     error
	tracker *refreshTracker
}

func (*conversationsLoaded) name() string { return "conversations_loaded" }

type messagesLoaded struct {
	conversationID string
	epoch          uint64
	seq            int64
	records        []wire.MessageRecord
	err            error
	tracker        *refreshTracker
}

func (*messagesLoaded) name() string { return "messages_loaded" }

type sendSettled struct {
	conversationID string
	provisionalID  string
	record         wire.MessageRecord
	err            error
}

func (*sendSettled) name() string { return "send_settled" }

type resolveSettled struct {
	key    Target
	record wire.ConversationRecord
	err    error
}

func (*resolveSettled) name() string { return "resolve_settled" }

type markReadSettled struct {
	conversationID string
	err            error
	reply          chan outcome[struct{}]
}

func (*markReadSettled) name() string { return "mark_read_settled" }
