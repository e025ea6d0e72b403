package harness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/engine"
	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
	"github.com/roach88/inbox/internal/store"
	"github.com/roach88/inbox/internal/testutil"
)

const (
	// stepTimeout bounds each step, including the waits that follow it.
	stepTimeout = 5 * time.Second

	// readGrace is how long a select waits for the automatic read mark.
	// The mark may fail when a scenario injects a failure, so it is not
	// required to arrive.
	readGrace = 250 * time.Millisecond

	pollInterval = 2 * time.Millisecond
)

// Harness drives one scenario.
//
// The engine runs against a scripted backend, a manual ticker that never
// fires, a stepping wall clock and an in-memory cache. Background work that
// a step starts but does not wait for is awaited by the harness, so the
// final state is reproducible.
type Harness struct {
	backend  *testutil.Backend
	engine   *engine.Engine
	store    *store.Store
	updates  <-chan notify.Update
	notified map[string]int
	logger   *zap.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Seed the backend and open an in-memory cache
//  2. Start the engine and wait for the first listing
//  3. Run each step and compare its error code with expect_error
//  4. Capture the final state and evaluate the assertions
//
// The returned error reports harness problems (bad seeds, timeouts); engine
// errors are part of the result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewWallClock(testutil.Epoch, time.Minute)
	backend := testutil.NewBackend(scenario.User, clock)
	if err := seed(backend, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed backend: %w", err)
	}

	bus := notify.NewBus(64)
	defer bus.Close()
	updates, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	ticker := testutil.NewManualTicker()
	eng := engine.New(backend, scenario.User,
		engine.WithLogger(zap.NewNop()),
		engine.WithTickerFactory(func(time.Duration) engine.Ticker { return ticker }),
		engine.WithNow(clock.Now),
		engine.WithIDGenerator(engine.NewFixedGenerator(provisionalIDs(scenario)...)),
		engine.WithNotifier(bus),
		engine.WithSnapshotter(st),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	defer func() {
		cancel()
		<-eng.Done()
	}()

	select {
	case <-eng.Ready():
	case <-eng.Done():
		return nil, fmt.Errorf("engine stopped before the first listing")
	case <-time.After(stepTimeout):
		return nil, fmt.Errorf("engine did not load conversations within %s", stepTimeout)
	}

	h := &Harness{
		backend:  backend,
		engine:   eng,
		store:    st,
		updates:  updates,
		notified: make(map[string]int),
		logger:   zap.NewNop(),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.runStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		result.Steps = append(result.Steps, sr)
		if sr.Error != step.ExpectError {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error %q, got %q",
				i, step.Action, step.ExpectError, sr.Error))
		}
	}

	state, err := h.state(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	result.State = state

	for _, msg := range EvaluateAssertions(state, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// seed preloads the backend. Server ids are queued last so seeded messages
// keep their generated ids.
func seed(b *testutil.Backend, s *Scenario) error {
	for _, c := range s.Conversations {
		b.AddConversation(testutil.ConversationSeed{
			ID:        c.ID,
			With:      c.With,
			WithName:  c.WithName,
			WithRole:  c.WithRole,
			VenueID:   c.Venue,
			VenueName: c.VenueName,
			VenueType: c.VenueType,
		})
		for _, m := range c.Messages {
			from := m.From
			if from == "" {
				from = c.With
			}
			if _, err := b.AddMessage(c.ID, from, m.Content); err != nil {
				return fmt.Errorf("conversation %s: %w", c.ID, err)
			}
		}
	}
	b.PresetIDs(s.ServerIDs...)
	return nil
}

// provisionalIDs returns one id per send step: p1, p2, ...
func provisionalIDs(s *Scenario) []string {
	var ids []string
	for _, st := range s.Steps {
		if st.Action == ActionSend {
			ids = append(ids, fmt.Sprintf("p%d", len(ids)+1))
		}
	}
	return ids
}

func (h *Harness) runStep(ctx context.Context, st Step) (StepResult, error) {
	sr := StepResult{Action: st.Action, Conversation: st.Conversation}

	sctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	var err error
	switch st.Action {
	case ActionSelect:
		err = h.selectConversation(sctx, st.Conversation)
	case ActionClearSelection:
		err = h.engine.ClearSelection(sctx)
	case ActionRefresh:
		_, err = h.engine.Refresh(sctx)
	case ActionSend:
		var msg model.Message
		msg, err = h.send(sctx, st.Conversation, st.Content)
		sr.MessageID = msg.ID
	case ActionResolve:
		var conv model.Conversation
		conv, err = h.resolve(sctx, engine.Target{
			ParticipantID: st.Participant,
			VenueID:       st.Venue,
			VenueType:     st.VenueType,
		})
		sr.Conversation = conv.ID
	case ActionMarkRead:
		err = h.engine.MarkRead(sctx, st.Conversation)
		if err == nil {
			err = h.awaitNotification(sctx, notify.ReasonConversationRead)
		}
	case ActionSetDraft:
		err = h.engine.SetDraft(sctx, st.Conversation, st.Content)
	case ActionDeliver:
		if _, derr := h.backend.Deliver(st.Conversation, st.Content); derr != nil {
			return sr, derr
		}
	case ActionFailNext:
		h.backend.FailNext(st.Op, nil)
	case ActionCorruptNext:
		h.backend.CorruptNext(st.Op)
	default:
		return sr, fmt.Errorf("unknown action %q", st.Action)
	}

	if err != nil {
		code := engine.CodeOf(err)
		if code == "" {
			return sr, err
		}
		sr.Error = string(code)
	}
	return sr, nil
}

// selectConversation opens a conversation. Opening an unread conversation
// marks it read in the background; the harness gives that mark a moment to
// land so a later listing sees it.
func (h *Harness) selectConversation(ctx context.Context, id string) error {
	before := h.engine.Snapshot()
	unread := 0
	if c, ok := before.Conversation(id); ok {
		unread = c.UnreadCount
	}

	_, err := h.engine.Select(ctx, id)
	if before.Selected != id && unread > 0 {
		h.awaitOptional(ctx, notify.ReasonConversationRead)
	}
	return err
}

// send sends a message and waits for its notification. A malformed echo
// makes the engine resync in the background; the harness waits for that
// resync to start and then refreshes, so the late listing is dropped as
// stale.
func (h *Harness) send(ctx context.Context, id, content string) (model.Message, error) {
	lists := h.backend.Calls(testutil.OpListConversations)
	threads := h.backend.Calls(testutil.OpListMessages)

	msg, err := h.engine.Send(ctx, id, content)
	if err == nil {
		return msg, h.awaitNotification(ctx, notify.ReasonMessageSent)
	}
	if engine.CodeOf(err) != engine.ErrCodeMalformedResponse {
		return msg, err
	}

	if werr := h.awaitCalls(ctx, testutil.OpListConversations, lists+1); werr != nil {
		return msg, werr
	}
	if h.engine.Snapshot().Selected != "" {
		if werr := h.awaitCalls(ctx, testutil.OpListMessages, threads+1); werr != nil {
			return msg, werr
		}
	}
	if _, rerr := h.engine.Refresh(ctx); rerr != nil {
		return msg, fmt.Errorf("resync after malformed send: %v", rerr)
	}
	return msg, err
}

// resolve resolves a target. A newly opened conversation has its thread
// fetched in the background, so the harness waits for that fetch and
// refreshes.
func (h *Harness) resolve(ctx context.Context, target engine.Target) (model.Conversation, error) {
	before := h.engine.Snapshot()
	starts := h.backend.Calls(testutil.OpStartConversation)
	threads := h.backend.Calls(testutil.OpListMessages)

	conv, err := h.engine.Resolve(ctx, target)
	if err != nil {
		return conv, err
	}

	if h.backend.Calls(testutil.OpStartConversation) > starts {
		if werr := h.awaitNotification(ctx, notify.ReasonConversationStarted); werr != nil {
			return conv, werr
		}
	}
	if before.Selected == conv.ID {
		return conv, nil
	}

	if werr := h.awaitCalls(ctx, testutil.OpListMessages, threads+1); werr != nil {
		return conv, werr
	}
	if conv.UnreadCount > 0 {
		h.awaitOptional(ctx, notify.ReasonConversationRead)
	}
	if _, rerr := h.engine.Refresh(ctx); rerr != nil {
		return conv, fmt.Errorf("load resolved thread: %v", rerr)
	}
	return conv, nil
}

// awaitNotification consumes updates until one with reason arrives.
func (h *Harness) awaitNotification(ctx context.Context, reason string) error {
	for {
		select {
		case u, ok := <-h.updates:
			if !ok {
				return fmt.Errorf("notification bus closed while waiting for %s", reason)
			}
			h.notified[u.Reason]++
			if u.Reason == reason {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s notification: %w", reason, ctx.Err())
		}
	}
}

func (h *Harness) awaitOptional(ctx context.Context, reason string) {
	gctx, cancel := context.WithTimeout(ctx, readGrace)
	defer cancel()
	if err := h.awaitNotification(gctx, reason); err != nil {
		h.logger.Debug("optional notification did not arrive", zap.String("reason", reason))
	}
}

// awaitCalls polls until the backend has seen at least n calls of op.
func (h *Harness) awaitCalls(ctx context.Context, op string, n int) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for h.backend.Calls(op) < n {
		select {
		case <-t.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s call %d: %w", op, n, ctx.Err())
		}
	}
	return nil
}

// drainNotifications counts updates that arrived without being waited for.
func (h *Harness) drainNotifications() {
	for {
		select {
		case u, ok := <-h.updates:
			if !ok {
				return
			}
			h.notified[u.Reason]++
		default:
			return
		}
	}
}

func (h *Harness) state(ctx context.Context) (State, error) {
	h.drainNotifications()

	snap := h.engine.Snapshot()
	user := h.engine.UserID()

	st := State{
		Selected:      snap.Selected,
		Conversations: make([]ConversationView, 0, len(snap.Conversations)),
		Messages:      make([]MessageView, 0, len(snap.Messages)),
		Calls:         h.backend.CallCounts(),
	}
	for _, c := range snap.Conversations {
		v := ConversationView{
			ID:     c.ID,
			With:   c.Counterparty(user).ID,
			Venue:  c.VenueID(),
			Unread: c.UnreadCount,
		}
		if c.LastMessage != nil {
			v.LastMessage = c.LastMessage.Content
			v.LastSender = c.LastMessage.SenderID
		}
		st.Conversations = append(st.Conversations, v)
	}
	for _, m := range snap.Messages {
		st.Messages = append(st.Messages, MessageView{
			ID:          m.ID,
			Sender:      m.SenderID,
			Content:     m.Content,
			Provisional: m.IsProvisional(),
		})
	}
	if len(snap.Drafts) > 0 {
		st.Drafts = snap.Drafts
	}
	if len(h.notified) > 0 {
		st.Notifications = make(map[string]int, len(h.notified))
		for reason, n := range h.notified {
			st.Notifications[reason] = n
		}
	}

	convs, msgs, err := h.store.Counts(ctx)
	if err != nil {
		return State{}, err
	}
	st.Cached = CacheCounts{Conversations: convs, Messages: msgs}
	return st, nil
}
