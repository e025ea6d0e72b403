package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
)

// readMark remembers a local mark-read until a listing can reflect it.
type readMark struct {
	seq      int64 // clock value when the latest mark-read was issued
	inFlight int
}

// MarkRead zeroes the unread count of a conversation and tells the backend.
// The local count stays zero even if the backend call fails.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	ch := make(chan outcome[struct{}], 1)
	_, err := submit(ctx, e, &markReadRequest{conversationID: conversationID, reply: ch}, ch)
	return err
}

func (e *Engine) handleMarkRead(req *markReadRequest) {
	if _, ok := e.dir.Get(req.conversationID); !ok {
		reply(req.reply, struct{}{}, newError(ErrCodeUnknownConversation, "mark_read", req.conversationID, "conversation not found", nil))
		return
	}
	e.markRead(req.conversationID, req.reply)
}

func (e *Engine) markRead(conversationID string, ch chan outcome[struct{}]) {
	e.mu.Lock()
	e.dir.MarkRead(conversationID)
	total, unread := e.dir.Len(), e.dir.UnreadTotal()
	e.mu.Unlock()
	e.metrics.setDirectory(total, unread)

	rm, ok := e.reads[conversationID]
	if !ok {
		rm = &readMark{}
		e.reads[conversationID] = rm
	}
	rm.seq = e.clock.Next()
	rm.inFlight++

	e.dispatch(func(ctx context.Context) event {
		err := e.backend.MarkConversationRead(ctx, conversationID)
		return &markReadSettled{conversationID: conversationID, err: err, reply: ch}
	})
}

func (e *Engine) applyMarkReadResult(ev *markReadSettled) {
	if rm, ok := e.reads[ev.conversationID]; ok && rm.inFlight > 0 {
		rm.inFlight--
	}
	if ev.err != nil {
		e.logger.Warn("mark read failed",
			zap.String("conversation_id", ev.conversationID),
			zap.Error(ev.err))
		reply(ev.reply, struct{}{}, newError(ErrCodeMarkReadFailed, "mark_read", ev.conversationID, "read mark not recorded", ev.err))
		return
	}
	e.notify(notify.ReasonConversationRead, ev.conversationID)
	reply(ev.reply, struct{}{}, nil)
}

// holdReads zeroes the unread count of listed conversations the user marked
// read when the listing cannot have seen it: the mark-read is still in flight
// or the listing was requested before it. Marks a listing has caught up with
// are dropped.
func (e *Engine) holdReads(listSeq int64, convs []model.Conversation) {
	listed := make(map[string]struct{}, len(convs))
	for i := range convs {
		id := convs[i].ID
		listed[id] = struct{}{}
		rm, ok := e.reads[id]
		if !ok {
			continue
		}
		if rm.inFlight > 0 || listSeq < rm.seq {
			convs[i].UnreadCount = 0
			continue
		}
		delete(e.reads, id)
	}
	for id, rm := range e.reads {
		if _, ok := listed[id]; !ok && rm.inFlight == 0 {
			delete(e.reads, id)
		}
	}
}

// UnreadTotal asks the backend for the user's total unread count.
// It does not touch engine state and may be called without Run.
func (e *Engine) UnreadTotal(ctx context.Context) (int, error) {
	n, err := e.backend.UnreadCount(ctx)
	if err != nil {
		return 0, newError(ErrCodeFetchFailed, "unread_count", "", "unread count unavailable", err)
	}
	return n, nil
}
