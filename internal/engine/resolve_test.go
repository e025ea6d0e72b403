package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/testutil"
)

func resolveAsync(t *testing.T, te *testEngine, target Target) <-chan outcome[model.Conversation] {
	t.Helper()
	ch := make(chan outcome[model.Conversation], 1)
	ctx := testCtx(t)
	go func() {
		conv, err := te.Resolve(ctx, target)
		ch <- outcome[model.Conversation]{value: conv, err: err}
	}()
	return ch
}

func awaitResolve(t *testing.T, ch <-chan outcome[model.Conversation]) (model.Conversation, error) {
	t.Helper()
	select {
	case o := <-ch:
		return o.value, o.err
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never settled")
		return model.Conversation{}, nil
	}
}

func TestResolve_ExistingConversation(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1", VenueID: "v1"})
	b.AddConversation(testutil.ConversationSeed{ID: "c2", With: "o1", VenueID: "v2"})
	te := startReady(t, b)

	conv, err := te.Resolve(testCtx(t), Target{ParticipantID: "o1", VenueID: "v2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", conv.ID)
	assert.Equal(t, "c2", te.Snapshot().Selected)
	assert.Equal(t, 0, b.Calls(testutil.OpStartConversation))
}

func TestResolve_StartsMissingConversation(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c1", With: "o1", VenueID: "v1"})
	b.PresetIDs("c-new")
	notes := &recordingNotifier{}
	te := startReady(t, b, WithNotifier(notes))

	conv, err := te.Resolve(testCtx(t), Target{ParticipantID: "o1", VenueID: "v2", VenueType: model.VenueTypeAccommodation})
	require.NoError(t, err)
	assert.Equal(t, "c-new", conv.ID)
	require.NotNil(t, conv.Venue)
	assert.Equal(t, model.VenueTypeAccommodation, conv.Venue.Type)

	snap := te.Snapshot()
	assert.Equal(t, "c-new", snap.Selected)
	assert.Equal(t, "c-new", snap.Conversations[0].ID, "started conversations are listed first")
	assert.Equal(t, 1, b.Calls(testutil.OpStartConversation))
	require.Eventually(t, func() bool {
		return len(notes.reasons()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// A deep link that arrives before the list has loaded must not start a
// conversation that already exists.
func TestResolve_DeferredUntilLoaded(t *testing.T) {
	b := newTestBackend()
	b.AddConversation(testutil.ConversationSeed{ID: "c7", With: "O2", VenueID: "V9"})
	gate := b.Hold(testutil.OpListConversations)

	te := newTestEngine(t, b)
	te.start(t)
	waitGate(t, gate)

	first := resolveAsync(t, te, Target{ParticipantID: "O2", VenueID: "V9"})
	second := resolveAsync(t, te, Target{ParticipantID: "O2", VenueID: "V9"})
	gate.Release()

	a, err := awaitResolve(t, first)
	require.NoError(t, err)
	c, err := awaitResolve(t, second)
	require.NoError(t, err)

	assert.Equal(t, "c7", a.ID)
	assert.Equal(t, "c7", c.ID)
	assert.Equal(t, 0, b.Calls(testutil.OpStartConversation))
	assert.Equal(t, "c7", te.Snapshot().Selected)
}

func TestResolve_ConcurrentRequestsStartOnce(t *testing.T) {
	b := newTestBackend()
	gate := b.Hold(testutil.OpListConversations)

	te := newTestEngine(t, b)
	te.start(t)
	waitGate(t, gate)

	target := Target{ParticipantID: "O2", VenueID: "V9", VenueType: model.VenueTypeReadingRoom}
	first := resolveAsync(t, te, target)
	second := resolveAsync(t, te, target)
	gate.Release()

	a, err := awaitResolve(t, first)
	require.NoError(t, err)
	c, err := awaitResolve(t, second)
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID)
	assert.Equal(t, 1, b.Calls(testutil.OpStartConversation))

	// A poll that now lists the started conversation does not duplicate it.
	snap, err := te.Refresh(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(snap.Conversations))
}

func TestResolve_RepeatedTargetIsMemoized(t *testing.T) {
	b := newTestBackend()
	te := startReady(t, b)
	target := Target{ParticipantID: "o1", VenueID: "v1"}

	a, err := te.Resolve(testCtx(t), target)
	require.NoError(t, err)

	// Re-resolving after switching away reuses the memo but leaves the
	// user's selection alone.
	b.AddConversation(testutil.ConversationSeed{ID: "other", With: "o2"})
	_, err = te.Refresh(testCtx(t))
	require.NoError(t, err)
	_, err = te.Select(testCtx(t), "other")
	require.NoError(t, err)
	threadCalls := b.Calls(testutil.OpListMessages)

	c, err := te.Resolve(testCtx(t), target)
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID)
	assert.Equal(t, "other", te.Snapshot().Selected)
	assert.Equal(t, threadCalls, b.Calls(testutil.OpListMessages))
	assert.Equal(t, 1, b.Calls(testutil.OpStartConversation))
}

func TestResolve_ClearSelectionForgetsMemo(t *testing.T) {
	b := newTestBackend()
	te := startReady(t, b)
	target := Target{ParticipantID: "o1", VenueID: "v1"}

	a, err := te.Resolve(testCtx(t), target)
	require.NoError(t, err)
	require.NoError(t, te.ClearSelection(testCtx(t)))

	c, err := te.Resolve(testCtx(t), target)
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID, "found in the directory the second time")
	assert.Equal(t, 1, b.Calls(testutil.OpStartConversation))
}

func TestResolve_FailureAllowsRetry(t *testing.T) {
	b := newTestBackend()
	te := startReady(t, b)
	target := Target{ParticipantID: "o1"}

	b.FailNext(testutil.OpStartConversation, nil)
	_, err := te.Resolve(testCtx(t), target)
	require.Error(t, err)
	assert.Equal(t, ErrCodeStartFailed, CodeOf(err))
	assert.True(t, IsRecoverable(err))
	assert.Empty(t, te.Snapshot().Conversations, "a failed start leaves the directory unchanged")

	conv, err := te.Resolve(testCtx(t), target)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, 2, b.Calls(testutil.OpStartConversation))
}

func TestResolve_MalformedStartResponse(t *testing.T) {
	b := newTestBackend()
	te := startReady(t, b)

	b.CorruptNext(testutil.OpStartConversation)
	_, err := te.Resolve(testCtx(t), Target{ParticipantID: "o1"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeMalformedResponse, CodeOf(err))
	assert.Empty(t, te.Snapshot().Conversations)
}

func TestResolve_InvalidTarget(t *testing.T) {
	te := startReady(t, newTestBackend())

	_, err := te.Resolve(testCtx(t), Target{VenueID: "v1"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidTarget, CodeOf(err))
}

func TestTarget_KeyIgnoresVenueType(t *testing.T) {
	a := Target{ParticipantID: "o1", VenueID: "v1", VenueType: model.VenueTypeReadingRoom}
	b := Target{ParticipantID: "o1", VenueID: "v1", VenueType: model.VenueTypeAccommodation}
	assert.Equal(t, a.key(), b.key())
}
