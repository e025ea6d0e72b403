package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
	"github.com/roach88/inbox/internal/wire"
)

// pendingSend is a send awaiting its backend result.
type pendingSend struct {
	provisional model.Message
	draft       string
	reply       chan outcome[model.Message]
}

// Send posts content to a conversation optimistically.
//
// A provisional message is shown immediately and the draft is cleared. On
// success the provisional is replaced by the confirmed message and the
// conversation preview is updated. On failure the provisional is removed,
// the draft is restored and SEND_FAILED is returned.
//
// Blank content returns EMPTY_CONTENT without contacting the backend. A
// second send to a conversation with a send in flight returns
// SEND_IN_FLIGHT.
func (e *Engine) Send(ctx context.Context, conversationID, content string) (model.Message, error) {
	ch := make(chan outcome[model.Message], 1)
	return submit(ctx, e, &sendRequest{conversationID: conversationID, content: content, reply: ch}, ch)
}

func (e *Engine) handleSend(req *sendRequest) {
	id := req.conversationID
	text := strings.TrimSpace(req.content)
	if text == "" {
		reply(req.reply, model.Message{}, newError(ErrCodeEmptyContent, "send", id, "message is empty", nil))
		return
	}
	conv, ok := e.dir.Get(id)
	if !ok {
		reply(req.reply, model.Message{}, newError(ErrCodeUnknownConversation, "send", id, "conversation not found", nil))
		return
	}
	if _, busy := e.pending[id]; busy {
		reply(req.reply, model.Message{}, newError(ErrCodeSendInFlight, "send", id, "a send is already in flight", nil))
		return
	}

	receiver := conv.Counterparty(e.userID)
	provisional := model.Message{
		ID:             provisionalID(e.ids),
		ConversationID: id,
		SenderID:       e.userID,
		ReceiverID:     receiver.ID,
		Content:        text,
		Timestamp:      e.now().UTC(),
		Read:           true,
	}
	if conv.Venue != nil {
		v := *conv.Venue
		provisional.Venue = &v
	}

	e.mu.Lock()
	if e.thread.ConversationID() == id {
		if err := e.thread.AppendProvisional(provisional); err != nil {
			e.logger.Error("append provisional message", zap.Error(err))
		}
	}
	delete(e.drafts, id)
	e.pending[id] = &pendingSend{provisional: provisional, draft: req.content, reply: req.reply}
	pending := len(e.pending)
	e.mu.Unlock()
	e.metrics.setProvisional(pending)

	e.logger.Debug("send dispatched",
		zap.String("conversation_id", id),
		zap.String("provisional_id", provisional.ID))

	venueID := conv.VenueID()
	pid := provisional.ID
	e.dispatch(func(ctx context.Context) event {
		rec, err := e.backend.SendMessage(ctx, receiver.ID, text, venueID)
		return &sendSettled{conversationID: id, provisionalID: pid, record: rec, err: err}
	})
}

func (e *Engine) applySendResult(ev *sendSettled) {
	id := ev.conversationID
	ps, ok := e.pending[id]
	if !ok || ps.provisional.ID != ev.provisionalID {
		e.logger.Warn("send result without pending send", zap.String("provisional_id", ev.provisionalID))
		return
	}

	if ev.err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.thread.DiscardProvisional(ev.provisionalID)
		e.drafts[id] = ps.draft
		pending := len(e.pending)
		e.mu.Unlock()

		e.metrics.setProvisional(pending)
		e.metrics.recordSend(false)
		e.logger.Warn("send failed",
			zap.String("conversation_id", id),
			zap.Error(ev.err))
		reply(ps.reply, model.Message{}, newError(ErrCodeSendFailed, "send", id, "message not sent", ev.err))
		return
	}

	msg, err := wire.ToMessage(ev.record)
	if err != nil {
		// The backend accepted the message but the echo is unusable. The next
		// listing carries the stored copy, so the draft is not restored.
		e.mu.Lock()
		delete(e.pending, id)
		e.thread.DiscardProvisional(ev.provisionalID)
		pending := len(e.pending)
		e.mu.Unlock()

		e.metrics.setProvisional(pending)
		e.metrics.recordSend(false)
		e.metrics.recordRejected(1)
		e.logger.Warn("malformed send response", zap.String("conversation_id", id), zap.Error(err))
		reply(ps.reply, model.Message{}, newError(ErrCodeMalformedResponse, "send", id, "send response unreadable", err))
		e.startSync(nil)
		return
	}
	if msg.ConversationID != id {
		e.logger.Debug("send response names another conversation",
			zap.String("conversation_id", id),
			zap.String("response_conversation_id", msg.ConversationID))
		msg.ConversationID = id
	}

	e.mu.Lock()
	delete(e.pending, id)
	if e.thread.ConversationID() == id {
		e.thread.ConfirmProvisional(ev.provisionalID, msg)
	}
	e.dir.UpsertLastMessage(id, msg)
	pending := len(e.pending)
	e.mu.Unlock()

	e.metrics.setProvisional(pending)
	e.metrics.recordSend(true)
	e.logger.Info("message sent",
		zap.String("conversation_id", id),
		zap.String("message_id", msg.ID))

	e.notify(notify.ReasonMessageSent, id)
	e.observe()
	reply(ps.reply, msg, nil)
}
