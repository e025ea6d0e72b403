package engine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inbox/internal/testutil"
)

func TestSync_TickFetchesListAndOpenThread(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	te := startReady(t, b)

	_, err := te.Select(testCtx(t), "c1")
	require.NoError(t, err)
	listBefore := b.Calls(testutil.OpListConversations)
	msgsBefore := b.Calls(testutil.OpListMessages)

	_, err = b.Deliver("c1", "are you there?")
	require.NoError(t, err)
	require.True(t, te.ticker.Tick())

	require.Eventually(t, func() bool {
		return len(te.Snapshot().Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, listBefore+1, b.Calls(testutil.OpListConversations))
	assert.Equal(t, msgsBefore+1, b.Calls(testutil.OpListMessages))
}

func TestSync_SelectRestartsPeriod(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	b.AddConversation(testutil.ConversationSeed{ID: "c2", With: "o2"})
	te := startReady(t, b, WithPeriod(3*time.Second))

	_, err := te.Select(testCtx(t), "c1")
	require.NoError(t, err)
	_, err = te.Select(testCtx(t), "c2")
	require.NoError(t, err)
	_, err = te.Select(testCtx(t), "c2")
	require.NoError(t, err)

	assert.Equal(t, 2, te.ticker.Resets(), "re-selecting the open conversation is a no-op")
	assert.Equal(t, 3*time.Second, te.ticker.Period())
}

func TestSync_RefreshReportsFailure(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	te := startReady(t, b)

	b.FailNext(testutil.OpListConversations, nil)
	snap, err := te.Refresh(testCtx(t))
	require.Error(t, err)
	assert.Equal(t, ErrCodeFetchFailed, CodeOf(err))
	assert.True(t, IsRecoverable(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, []string{"c1"}, ids(snap.Conversations), "failed refresh keeps previous state")
}

func TestSync_BackgroundFailureIsSilent(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	te := startReady(t, b)

	b.FailNext(testutil.OpListConversations, nil)
	require.True(t, te.ticker.Tick())
	require.Eventually(t, func() bool {
		return b.Calls(testutil.OpListConversations) == 2
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := te.Refresh(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(snap.Conversations))
}

func TestSync_InitialFailureRetriesOnTick(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	b.FailNext(testutil.OpListConversations, nil)

	te := newTestEngine(t, b)
	te.start(t)

	require.Eventually(t, func() bool {
		return b.Calls(testutil.OpListConversations) == 1
	}, 2*time.Second, 5*time.Millisecond)
	select {
	case <-te.Ready():
		t.Fatal("ready after a failed load")
	default:
	}

	require.True(t, te.ticker.Tick())
	waitReady(t, te.Engine)
	assert.Equal(t, []string{"c1"}, ids(te.Snapshot().Conversations))
}

func TestSync_StaleListIsDropped(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	m := NewMetrics(prometheus.NewRegistry())
	te := startReady(t, b, WithMetrics(m))

	// A slow tick fetch is overtaken by a newer refresh.
	gate := b.Hold(testutil.OpListConversations)
	require.True(t, te.ticker.Tick())
	waitGate(t, gate)

	b.AddConversation(testutil.ConversationSeed{ID: "c2", With: "o2"})
	snap, err := te.Refresh(testCtx(t))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c1", "c2"}, ids(snap.Conversations))

	// The held call answers from a state that no longer has c2.
	require.True(t, b.RemoveConversation("c2"))
	gate.Release()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(m.staleResponses) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids(te.Snapshot().Conversations))
}

func TestSync_StaleThreadAfterSwitchIsDropped(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	b.AddConversation(testutil.ConversationSeed{ID: "c2", With: "o2"})
	_, _ = b.AddMessage("c1", "o1", "from c1")
	_, _ = b.AddMessage("c2", "o2", "from c2")
	te := startReady(t, b)

	gate := b.Hold(testutil.OpListMessages)
	first := make(chan error, 1)
	go func() {
		_, err := te.Select(testCtx(t), "c1")
		first <- err
	}()
	waitGate(t, gate)

	snap, err := te.Select(testCtx(t), "c2")
	require.NoError(t, err)
	require.Equal(t, "c2", snap.Selected)

	gate.Release()
	require.NoError(t, <-first)

	snap = te.Snapshot()
	assert.Equal(t, "c2", snap.Selected)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "from c2", snap.Messages[0].Content)
}

func TestSync_SelectionClearedWhenConversationVanishes(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	te := startReady(t, b)

	_, err := te.Select(testCtx(t), "c1")
	require.NoError(t, err)

	b.AddConversation(testutil.ConversationSeed{ID: "c9", With: "o9"})
	require.True(t, b.RemoveConversation("c1"))

	snap, err := te.Refresh(testCtx(t))
	require.Error(t, err, "the open thread cannot be fetched any more")
	assert.Empty(t, snap.Selected)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, []string{"c9"}, ids(snap.Conversations))
}

func TestSync_SelectUnknown(t *testing.T) {
	te := startReady(t, newTestBackend())

	_, err := te.Select(testCtx(t), "nope")
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnknownConversation, CodeOf(err))
}

func TestSync_SelectMarksUnreadConversationRead(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	_, _ = b.Deliver("c1", "ping")
	te := startReady(t, b)
	require.Equal(t, 1, te.Snapshot().UnreadTotal())

	_, err := te.Select(testCtx(t), "c1")
	require.NoError(t, err)

	conv, ok := te.Snapshot().Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, 0, conv.UnreadCount)
	require.Eventually(t, func() bool {
		return b.Calls(testutil.OpMarkRead) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSync_ClearSelection(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1"})
	te := startReady(t, b)

	_, err := te.Select(testCtx(t), "c1")
	require.NoError(t, err)
	require.NoError(t, te.ClearSelection(testCtx(t)))

	snap := te.Snapshot()
	assert.Empty(t, snap.Selected)
	assert.Empty(t, snap.Messages)

	before := b.Calls(testutil.OpListMessages)
	_, err = te.Refresh(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, before, b.Calls(testutil.OpListMessages), "no thread is fetched without a selection")
}
