package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
	"github.com/roach88/inbox/internal/testutil"
)

const testUser = "u1"

// testEngine is a running engine wired to a scripted backend and a manual
// ticker.
type testEngine struct {
	*Engine
	backend *testutil.Backend
	ticker  *testutil.ManualTicker
	errCh   chan error
	cancel  context.CancelFunc
}

func newTestBackend() *testutil.Backend {
	return testutil.NewBackend(testUser, testutil.NewWallClock(testutil.Epoch, time.Minute))
}

// newTestEngine builds an engine without starting it.
func newTestEngine(t *testing.T, b *testutil.Backend, opts ...Option) *testEngine {
	t.Helper()
	tk := testutil.NewManualTicker()
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithTickerFactory(func(time.Duration) Ticker { return tk }),
		WithNow(b.Clock().Now),
		WithIDGenerator(NewFixedGenerator("p1", "p2", "p3", "p4", "p5", "p6")),
	}
	return &testEngine{
		Engine:  New(b, testUser, append(base, opts...)...),
		backend: b,
		ticker:  tk,
		errCh:   make(chan error, 1),
	}
}

// start runs the engine and registers shutdown with t.Cleanup.
func (te *testEngine) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	te.cancel = cancel
	go func() {
		te.errCh <- te.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-te.errCh:
		case <-time.After(time.Second):
			t.Error("engine did not stop")
		}
	})
}

// startReady starts the engine and waits for the first listing.
func startReady(t *testing.T, b *testutil.Backend, opts ...Option) *testEngine {
	t.Helper()
	te := newTestEngine(t, b, opts...)
	te.start(t)
	waitReady(t, te.Engine)
	return te
}

func waitReady(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("engine never loaded conversations")
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitGate(t *testing.T, g *testutil.Gate) {
	t.Helper()
	select {
	case <-g.Entered():
	case <-time.After(2 * time.Second):
		t.Fatal("held call never arrived")
	}
}

func ids(convs []model.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func messageIDs(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestEngine_New(t *testing.T) {
	e := New(newTestBackend(), testUser)
	require.NotNil(t, e)
	assert.Equal(t, testUser, e.UserID())

	snap := e.Snapshot()
	assert.Empty(t, snap.Conversations)
	assert.Empty(t, snap.Selected)
	assert.False(t, snap.Loaded)
}

func TestEngine_Run_StopsOnContext(t *testing.T) {
	te := newTestEngine(t, newTestBackend())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- te.Run(ctx)
	}()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop on context cancellation")
	}
	assert.True(t, te.ticker.Stopped())
}

func TestEngine_Run_StopsOnStop(t *testing.T) {
	te := newTestEngine(t, newTestBackend())

	errCh := make(chan error, 1)
	go func() {
		errCh <- te.Run(context.Background())
	}()
	waitReady(t, te.Engine)

	te.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err, "engine should stop cleanly")
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}

	_, err := te.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, ErrCodeStopped, CodeOf(err))
}

func TestEngine_Run_Twice(t *testing.T) {
	te := newTestEngine(t, newTestBackend())
	te.start(t)
	waitReady(t, te.Engine)

	err := te.Run(context.Background())
	assert.Error(t, err)
}

func TestEngine_InitialLoad(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	b.AddConversation(testutil.ConversationSeed{ID: "c2", With: "o2"})

	te := startReady(t, b)

	snap := te.Snapshot()
	assert.True(t, snap.Loaded)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids(snap.Conversations))
	assert.Equal(t, 1, b.Calls(testutil.OpListConversations))
	assert.Equal(t, 0, b.Calls(testutil.OpListMessages), "nothing is open yet")
}

func TestEngine_StopCancelsInFlightCalls(t *testing.T) {
	b := newTestBackend()
	gate := b.Hold(testutil.OpListConversations)
	te := newTestEngine(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- te.Run(ctx)
	}()
	waitGate(t, gate)

	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop with a call in flight")
	}

	snap := te.Snapshot()
	assert.False(t, snap.Loaded, "completions after shutdown are dropped")
}

func TestEngine_SubmitHonorsCallerContext(t *testing.T) {
	b := newTestBackend()
	te := startReady(t, b)
	b.Hold(testutil.OpListConversations)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := te.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type recordingSnapshotter struct {
	mu       sync.Mutex
	convs    [][]model.Conversation
	messages map[string][]model.Message
}

func (r *recordingSnapshotter) SaveConversations(_ context.Context, convs []model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs = append(r.convs, convs)
	return nil
}

func (r *recordingSnapshotter) SaveMessages(_ context.Context, id string, msgs []model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages == nil {
		r.messages = make(map[string][]model.Message)
	}
	r.messages[id] = msgs
	return nil
}

func (r *recordingSnapshotter) saved(id string) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[id]
}

func (r *recordingSnapshotter) saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

func TestEngine_SnapshotterAndObserver(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	_, err := b.Deliver("c1", "hello")
	require.NoError(t, err)

	snaps := &recordingSnapshotter{}
	var mu sync.Mutex
	var observed []Snapshot
	te := startReady(t, b,
		WithSnapshotter(snaps),
		WithObserver(func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, s)
		}))

	_, err = te.Select(testCtx(t), "c1")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, snaps.saves(), 1)
	require.Len(t, snaps.saved("c1"), 1)
	assert.Equal(t, "hello", snaps.saved("c1")[0].Content)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observed)
	assert.Equal(t, "c1", observed[len(observed)-1].Selected)
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []notify.Update
}

func (r *recordingNotifier) MessagesUpdated(_ context.Context, u notify.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingNotifier) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Reason
	}
	return out
}

func TestEngine_Drafts(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	te := startReady(t, b)

	require.NoError(t, te.SetDraft(testCtx(t), "c1", "half a thought"))
	assert.Equal(t, "half a thought", te.Draft("c1"))
	assert.Equal(t, map[string]string{"c1": "half a thought"}, te.Snapshot().Drafts)

	require.NoError(t, te.SetDraft(testCtx(t), "c1", ""))
	assert.Empty(t, te.Draft("c1"))
}
