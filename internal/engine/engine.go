package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/directory"
	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
	"github.com/roach88/inbox/internal/thread"
)

// DefaultPeriod is the synchronization tick period.
const DefaultPeriod = 10 * time.Second

// Engine is the single-writer synchronization engine.
//
// Thread-safety model:
//   - Run: must be called from exactly one goroutine.
//   - Send, Select, Resolve, Refresh, MarkRead, ClearSelection, SetDraft:
//     safe from any goroutine; they enqueue a request and wait for its reply.
//   - Snapshot, Draft, Ready, Done: safe from any goroutine.
//
// INVARIANTS:
//   - Only the Run goroutine mutates the directory, thread and drafts.
//   - At most one send per conversation is in flight.
//   - A resolution target starts at most one conversation per memo lifetime.
type Engine struct {
	backend Backend
	userID  string

	logger    *zap.Logger
	clock     *Clock
	ids       IDGenerator
	now       func() time.Time
	period    time.Duration
	newTicker TickerFactory
	notifier  Notifier
	snapshots Snapshotter
	metrics   *Metrics
	observer  func(Snapshot)

	queue   *eventQueue
	ready   chan struct{}
	done    chan struct{}
	running atomic.Bool

	// mu lets readers take consistent snapshots. Only Run writes.
	mu      sync.RWMutex
	dir     *directory.Directory
	thread  *thread.Store
	drafts  map[string]string
	pending map[string]*pendingSend
	loaded  bool

	// Run-loop-only state.
	reqCtx        context.Context
	ticker        Ticker
	epoch         uint64
	lastListSeq   int64
	lastThreadSeq int64
	resolutions   map[Target]*resolution
	deferred      []Target
	reads         map[string]*readMark
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPeriod sets the synchronization period. Default: DefaultPeriod.
func WithPeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.period = d
		}
	}
}

// WithTickerFactory replaces the ticker, e.g. with a manual one in tests.
func WithTickerFactory(f TickerFactory) Option {
	return func(e *Engine) { e.newTicker = f }
}

// WithIDGenerator sets the provisional id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithNotifier sets the "messages updated" receiver.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithSnapshotter persists applied state after each refresh.
func WithSnapshotter(s Snapshotter) Option {
	return func(e *Engine) { e.snapshots = s }
}

// WithMetrics records engine metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver is called from the Run loop after each applied refresh.
// It must not call blocking Engine methods.
func WithObserver(fn func(Snapshot)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithNow sets the wall clock used for provisional timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClock sets the logical clock.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an engine for userID talking to backend. Call Run to start it.
func New(backend Backend, userID string, opts ...Option) *Engine {
	e := &Engine{
		backend:     backend,
		userID:      userID,
		logger:      zap.NewNop(),
		clock:       NewClock(),
		ids:         UUIDv7Generator{},
		now:         time.Now,
		period:      DefaultPeriod,
		newTicker:   NewTimeTicker,
		queue:       newEventQueue(),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		dir:         directory.New(userID),
		drafts:      make(map[string]string),
		pending:     make(map[string]*pendingSend),
		resolutions: make(map[Target]*resolution),
		reads:       make(map[string]*readMark),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.thread = thread.New(e.clock)
	return e
}

// UserID returns the current user's id.
func (e *Engine) UserID() string {
	return e.userID
}

// Ready is closed once the first conversation listing has been applied.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run starts the event loop and the synchronization ticker. It performs an
// initial refresh immediately and blocks until ctx is cancelled or Stop is
// called.
//
// On return the ticker is stopped, in-flight requests are cancelled and the
// queue refuses their completions.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: Run called more than once")
	}
	defer close(e.done)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.reqCtx = reqCtx

	e.ticker = e.newTicker(e.period)
	defer e.ticker.Stop()

	e.logger.Info("engine starting",
		zap.String("user_id", e.userID),
		zap.Duration("period", e.period))

	e.startSync(nil)

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.processEvent(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.ticker.C():
			e.startSync(nil)

		case <-e.queue.Wait():
			if e.queue.Closed() {
				e.logger.Info("engine stopping: stopped")
				return nil
			}
		}
	}
}

// Stop shuts the engine down. Run returns shortly after.
func (e *Engine) Stop() {
	e.queue.Close()
}

// processEvent routes an event to its handler.
// Called only from Run.
func (e *Engine) processEvent(ev event) {
	switch ev := ev.(type) {
	case *refreshRequest:
		e.startSync(&refreshTracker{reply: ev.reply})
	case *conversationsLoaded:
		e.applyConversations(ev)
	case *messagesLoaded:
		e.applyMessages(ev)
	case *selectRequest:
		e.handleSelect(ev)
	case *clearSelectionRequest:
		e.handleClearSelection(ev)
	case *draftRequest:
		e.handleDraft(ev)
	case *sendRequest:
		e.handleSend(ev)
	case *sendSettled:
		e.applySendResult(ev)
	case *resolveRequest:
		e.handleResolve(ev)
	case *resolveSettled:
		e.applyResolveResult(ev)
	case *markReadRequest:
		e.handleMarkRead(ev)
	case *markReadSettled:
		e.applyMarkReadResult(ev)
	default:
		e.logger.Error("unknown event", zap.String("event", ev.name()))
	}
}

// dispatch runs call on its own goroutine and enqueues the completion it
// returns. After shutdown the completion is dropped.
func (e *Engine) dispatch(call func(ctx context.Context) event) {
	ctx := e.reqCtx
	go func() {
		ev := call(ctx)
		if !e.queue.Enqueue(ev) {
			e.logger.Debug("dropping completion after shutdown", zap.String("event", ev.name()))
		}
	}()
}

// outcome is a reply to a caller waiting on a request.
type outcome[T any] struct {
	value T
	err   error
}

func reply[T any](ch chan outcome[T], value T, err error) {
	if ch == nil {
		return
	}
	ch <- outcome[T]{value: value, err: err}
}

// submit enqueues ev and waits for its reply on ch.
func submit[T any](ctx context.Context, e *Engine, ev event, ch chan outcome[T]) (T, error) {
	var zero T
	if !e.queue.Enqueue(ev) {
		return zero, ErrStopped
	}
	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrStopped
	}
}

// openConversation selects conv, evicts the previous thread, restarts the
// tick period and fetches the new thread. A pending send to conv is shown
// again. Unread conversations are marked read.
func (e *Engine) openConversation(conv model.Conversation, tr *refreshTracker) {
	e.mu.Lock()
	e.dir.Select(conv.ID)
	e.thread.Reset(conv.ID)
	if ps, ok := e.pending[conv.ID]; ok {
		if err := e.thread.AppendProvisional(ps.provisional); err != nil {
			e.logger.Warn("re-append provisional message", zap.Error(err))
		}
	}
	e.epoch++
	e.mu.Unlock()

	e.ticker.Reset(e.period)
	e.fetchThread(conv.ID, tr)

	if conv.UnreadCount > 0 {
		e.markRead(conv.ID, nil)
	}
	e.logger.Debug("conversation opened", zap.String("conversation_id", conv.ID))
}

// closeConversation clears the selection and evicts the thread.
func (e *Engine) closeConversation() {
	e.mu.Lock()
	e.dir.ClearSelection()
	e.thread.Reset("")
	e.epoch++
	e.mu.Unlock()
	e.forgetResolutions()
}

func (e *Engine) handleSelect(req *selectRequest) {
	if req.conversationID == e.dir.Selected() {
		reply(req.reply, e.Snapshot(), nil)
		return
	}
	conv, ok := e.dir.Get(req.conversationID)
	if !ok {
		reply(req.reply, Snapshot{}, newError(ErrCodeUnknownConversation, "select", req.conversationID, "conversation not found", nil))
		return
	}
	e.openConversation(conv, &refreshTracker{reply: req.reply})
}

func (e *Engine) handleClearSelection(req *clearSelectionRequest) {
	if e.dir.Selected() != "" {
		e.closeConversation()
	}
	reply(req.reply, struct{}{}, nil)
}

func (e *Engine) handleDraft(req *draftRequest) {
	e.mu.Lock()
	if req.text == "" {
		delete(e.drafts, req.conversationID)
	} else {
		e.drafts[req.conversationID] = req.text
	}
	e.mu.Unlock()
	reply(req.reply, struct{}{}, nil)
}

func (e *Engine) notify(reason, conversationID string) {
	if e.notifier == nil {
		return
	}
	u := notify.Update{Reason: reason, ConversationID: conversationID, At: e.now().UTC()}
	ctx := e.reqCtx
	go e.notifier.MessagesUpdated(ctx, u)
}

func (e *Engine) observe() {
	if e.observer != nil {
		e.observer(e.Snapshot())
	}
}

// Select opens a conversation and waits for its first thread fetch.
// A failed fetch returns FETCH_FAILED; the conversation stays selected.
func (e *Engine) Select(ctx context.Context, conversationID string) (Snapshot, error) {
	ch := make(chan outcome[Snapshot], 1)
	return submit(ctx, e, &selectRequest{conversationID: conversationID, reply: ch}, ch)
}

// ClearSelection closes the open conversation, e.g. when the user navigates
// back to the list. Completed resolutions are forgotten.
func (e *Engine) ClearSelection(ctx context.Context) error {
	ch := make(chan outcome[struct{}], 1)
	_, err := submit(ctx, e, &clearSelectionRequest{reply: ch}, ch)
	return err
}

// Refresh runs a user-initiated synchronization and waits for it. Unlike
// background ticks, fetch failures are returned.
func (e *Engine) Refresh(ctx context.Context) (Snapshot, error) {
	ch := make(chan outcome[Snapshot], 1)
	return submit(ctx, e, &refreshRequest{reply: ch}, ch)
}

// SetDraft stores the compose text for a conversation.
func (e *Engine) SetDraft(ctx context.Context, conversationID, text string) error {
	ch := make(chan outcome[struct{}], 1)
	_, err := submit(ctx, e, &draftRequest{conversationID: conversationID, text: text, reply: ch}, ch)
	return err
}

// Draft returns the compose text for a conversation.
func (e *Engine) Draft(conversationID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.drafts[conversationID]
}
