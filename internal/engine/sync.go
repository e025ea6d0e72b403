package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/wire"
)

// refreshTracker collects the fetches started for one caller-visible
// refresh and replies once all of them have settled.
type refreshTracker struct {
	remaining int
	err       error
	reply     chan outcome[Snapshot]
}

// startSync fetches the conversation list and, if a conversation is open,
// its messages. tr is nil for background ticks, whose failures are only
// logged.
func (e *Engine) startSync(tr *refreshTracker) {
	e.metrics.recordTick()

	seq := e.clock.Next()
	if tr != nil {
		tr.remaining++
	}
	e.dispatch(func(ctx context.Context) event {
		recs, err := e.backend.ListConversations(ctx)
		return &conversationsLoaded{seq: seq, records: recs, err: err, tracker: tr}
	})

	if sel := e.dir.Selected(); sel != "" {
		e.fetchThread(sel, tr)
	}
}

// fetchThread fetches the messages of conversationID under the current
// selection epoch.
func (e *Engine) fetchThread(conversationID string, tr *refreshTracker) {
	seq := e.clock.Next()
	epoch := e.epoch
	if tr != nil {
		tr.remaining++
	}
	e.dispatch(func(ctx context.Context) event {
		recs, err := e.backend.ListMessages(ctx, conversationID)
		return &messagesLoaded{
			conversationID: conversationID,
			epoch:          epoch,
			seq:            seq,
			records:        recs,
			err:            err,
			tracker:        tr,
		}
	})
}

// settle marks one fetch of tr as finished.
func (e *Engine) settle(tr *refreshTracker, err error) {
	if tr == nil {
		return
	}
	if err != nil && tr.err == nil {
		tr.err = err
	}
	tr.remaining--
	if tr.remaining == 0 {
		reply(tr.reply, e.Snapshot(), tr.err)
	}
}

func (e *Engine) applyConversations(ev *conversationsLoaded) {
	if ev.err != nil {
		e.metrics.recordFetchFailure()
		e.logger.Warn("conversation fetch failed",
			zap.Bool("background", ev.tracker == nil),
			zap.Error(ev.err))
		e.settle(ev.tracker, newError(ErrCodeFetchFailed, "list_conversations", "", "conversation list unavailable", ev.err))
		return
	}
	if ev.seq < e.lastListSeq {
		e.metrics.recordStale()
		e.logger.Debug("dropping stale conversation list",
			zap.Int64("seq", ev.seq),
			zap.Int64("applied_seq", e.lastListSeq))
		e.settle(ev.tracker, nil)
		return
	}
	e.lastListSeq = ev.seq

	convs, rejects := wire.ToConversations(ev.records)
	e.logRejects("conversation", rejects)
	e.holdReads(ev.seq, convs)

	e.mu.Lock()
	cleared := e.dir.ReplaceAll(convs)
	if cleared {
		e.thread.Reset("")
		e.epoch++
	}
	first := !e.loaded
	e.loaded = true
	total, unread := e.dir.Len(), e.dir.UnreadTotal()
	e.mu.Unlock()

	e.metrics.setDirectory(total, unread)
	if cleared {
		e.logger.Info("open conversation disappeared from listing; selection cleared")
		e.forgetResolutions()
	}
	if first {
		close(e.ready)
		e.logger.Info("initial conversation list loaded", zap.Int("conversations", total))
		e.runDeferred()
	}

	e.persistConversations()
	e.observe()
	e.settle(ev.tracker, nil)
}

func (e *Engine) applyMessages(ev *messagesLoaded) {
	if ev.err != nil {
		e.metrics.recordFetchFailure()
		e.logger.Warn("message fetch failed",
			zap.String("conversation_id", ev.conversationID),
			zap.Bool("background", ev.tracker == nil),
			zap.Error(ev.err))
		e.settle(ev.tracker, newError(ErrCodeFetchFailed, "list_messages", ev.conversationID, "messages unavailable", ev.err))
		return
	}
	if ev.epoch != e.epoch || ev.conversationID != e.thread.ConversationID() || ev.seq < e.lastThreadSeq {
		e.metrics.recordStale()
		e.logger.Debug("dropping stale message list",
			zap.String("conversation_id", ev.conversationID),
			zap.Int64("seq", ev.seq))
		e.settle(ev.tracker, nil)
		return
	}
	e.lastThreadSeq = ev.seq

	msgs, rejects := wire.ToMessages(ev.records)
	e.logRejects("message", rejects)

	e.mu.Lock()
	e.thread.ReplaceAll(msgs)
	e.mu.Unlock()

	e.persistMessages(ev.conversationID)
	e.observe()
	e.settle(ev.tracker, nil)
}

func (e *Engine) logRejects(kind string, rejects []error) {
	if len(rejects) == 0 {
		return
	}
	e.metrics.recordRejected(len(rejects))
	for _, err := range rejects {
		e.logger.Warn("skipping malformed record", zap.String("kind", kind), zap.Error(err))
	}
}

func (e *Engine) persistConversations() {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.SaveConversations(e.reqCtx, e.dir.Conversations()); err != nil {
		e.logger.Warn("cache conversations", zap.Error(err))
	}
}

func (e *Engine) persistMessages(conversationID string) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.SaveMessages(e.reqCtx, conversationID, e.thread.Confirmed()); err != nil {
		e.logger.Warn("cache messages", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
