package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
	"github.com/roach88/inbox/internal/wire"
)

// Target is a request to open a conversation with a participant, optionally
// about a venue. It typically comes from a deep link.
type Target struct {
	ParticipantID string
	VenueID       string
	VenueType     string
}

// key identifies a target in the resolution memo. The venue type only
// matters when a conversation is started.
func (t Target) key() Target {
	return Target{ParticipantID: t.ParticipantID, VenueID: t.VenueID}
}

type resolutionState int

const (
	resolutionDeferred resolutionState = iota + 1
	resolutionStarting
	resolutionDone
)

type resolution struct {
	target         Target
	state          resolutionState
	conversationID string
	waiters        []chan outcome[model.Conversation]
}

// Resolve opens the conversation for target, starting one on the backend
// if the directory has none.
//
// Before the first listing has been applied the request is deferred so an
// existing conversation is never duplicated. Concurrent and repeated calls
// for the same target share one outcome until the selection is cleared;
// a repeated call answers with that conversation without taking the
// selection away from another one.
// A failed start returns START_FAILED and may be retried.
func (e *Engine) Resolve(ctx context.Context, target Target) (model.Conversation, error) {
	ch := make(chan outcome[model.Conversation], 1)
	return submit(ctx, e, &resolveRequest{target: target, reply: ch}, ch)
}

func (e *Engine) handleResolve(req *resolveRequest) {
	if req.target.ParticipantID == "" {
		reply(req.reply, model.Conversation{}, newError(ErrCodeInvalidTarget, "resolve", "", "participant id is required", nil))
		return
	}

	key := req.target.key()
	if r, ok := e.resolutions[key]; ok {
		if r.state != resolutionDone {
			r.waiters = append(r.waiters, req.reply)
			return
		}
		if conv, ok := e.dir.Get(r.conversationID); ok {
			// A later selection by the user wins over a repeated link.
			if e.dir.Selected() == "" {
				e.openConversation(conv, nil)
			}
			reply(req.reply, conv, nil)
			return
		}
		delete(e.resolutions, key)
	}

	r := &resolution{target: req.target, waiters: []chan outcome[model.Conversation]{req.reply}}
	e.resolutions[key] = r

	if !e.loaded {
		r.state = resolutionDeferred
		e.deferred = append(e.deferred, key)
		e.logger.Debug("resolution deferred until conversations load",
			zap.String("participant_id", key.ParticipantID),
			zap.String("venue_id", key.VenueID))
		return
	}
	e.attemptResolution(key, r)
}

// runDeferred resolves targets that arrived before the first listing.
func (e *Engine) runDeferred() {
	deferred := e.deferred
	e.deferred = nil
	for _, key := range deferred {
		if r, ok := e.resolutions[key]; ok && r.state == resolutionDeferred {
			e.attemptResolution(key, r)
		}
	}
}

func (e *Engine) attemptResolution(key Target, r *resolution) {
	if conv, ok := e.dir.FindByParticipantAndContext(key.ParticipantID, key.VenueID); ok {
		e.finishResolution(r, conv)
		return
	}

	r.state = resolutionStarting
	t := r.target
	e.logger.Info("starting conversation",
		zap.String("participant_id", t.ParticipantID),
		zap.String("venue_id", t.VenueID))
	e.dispatch(func(ctx context.Context) event {
		rec, err := e.backend.StartConversation(ctx, t.ParticipantID, t.VenueID, t.VenueType)
		return &resolveSettled{key: key, record: rec, err: err}
	})
}

func (e *Engine) applyResolveResult(ev *resolveSettled) {
	r, ok := e.resolutions[ev.key]
	if !ok || r.state != resolutionStarting {
		e.logger.Debug("dropping start result without pending resolution",
			zap.String("participant_id", ev.key.ParticipantID))
		return
	}

	if ev.err != nil {
		delete(e.resolutions, ev.key)
		e.metrics.recordStart(false)
		e.logger.Warn("start conversation failed",
			zap.String("participant_id", ev.key.ParticipantID),
			zap.Error(ev.err))
		e.failResolution(r, newError(ErrCodeStartFailed, "resolve", "", "conversation could not be started", ev.err))
		return
	}

	conv, err := wire.ToConversation(ev.record)
	if err != nil {
		delete(e.resolutions, ev.key)
		e.metrics.recordStart(false)
		e.metrics.recordRejected(1)
		e.logger.Warn("malformed start response", zap.Error(err))
		e.failResolution(r, newError(ErrCodeMalformedResponse, "resolve", "", "start response unreadable", err))
		return
	}

	// A listing may have delivered the conversation while the start was in
	// flight; never insert it twice.
	if existing, ok := e.dir.Get(conv.ID); ok {
		conv = existing
	} else if existing, ok := e.dir.FindByParticipantAndContext(ev.key.ParticipantID, ev.key.VenueID); ok {
		conv = existing
	} else {
		e.mu.Lock()
		e.dir.Insert(conv)
		total, unread := e.dir.Len(), e.dir.UnreadTotal()
		e.mu.Unlock()
		e.metrics.setDirectory(total, unread)
		e.persistConversations()
	}

	e.metrics.recordStart(true)
	e.finishResolution(r, conv)
	e.notify(notify.ReasonConversationStarted, conv.ID)
	e.observe()
}

func (e *Engine) finishResolution(r *resolution, conv model.Conversation) {
	r.state = resolutionDone
	r.conversationID = conv.ID
	if e.dir.Selected() != conv.ID {
		e.openConversation(conv, nil)
	}
	for _, w := range r.waiters {
		reply(w, conv, nil)
	}
	r.waiters = nil
}

func (e *Engine) failResolution(r *resolution, err error) {
	for _, w := range r.waiters {
		reply(w, model.Conversation{}, err)
	}
	r.waiters = nil
}

// forgetResolutions drops completed memo entries so the same target can be
// resolved again after the user leaves the conversation.
func (e *Engine) forgetResolutions() {
	for key, r := range e.resolutions {
		if r.state == resolutionDone {
			delete(e.resolutions, key)
		}
	}
}
