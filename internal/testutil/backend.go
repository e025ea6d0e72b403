package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/inbox/internal/wire"
)

// Operation names counted by Backend.
const (
	OpListConversations = "list_conversations"
	OpListMessages      = "list_messages"
	OpSendMessage       = "send_message"
	OpStartConversation = "start_conversation"
	OpMarkRead          = "mark_read"
	OpUnreadCount       = "unread_count"
)

// Operations lists every operation name in a stable order.
var Operations = []string{
	OpListConversations,
	OpListMessages,
	OpSendMessage,
	OpStartConversation,
	OpMarkRead,
	OpUnreadCount,
}

// ErrInjected is the default error returned by FailNext.
var ErrInjected = errors.New("injected failure")

// TimestampLayout is the backend's timestamp format: ISO 8601 without a zone.
const TimestampLayout = "2006-01-02T15:04:05"

// ConversationSeed describes a conversation to preload.
type ConversationSeed struct {
	ID        string
	With      string
	WithName  string
	WithRole  string
	VenueID   string
	VenueName string
	VenueType string
}

type fakeConversation struct {
	id        string
	other     wire.ParticipantRecord
	venueID   string
	venueName string
	venueType string
	updated   time.Time
	created   int
	messages  []wire.MessageRecord
}

// Backend is a scripted in-memory messaging backend.
//
// It behaves like the real service for one user: conversations are listed
// most recently updated first, unread counts cover messages addressed to the
// user, sends land in the matching conversation (creating one if needed) and
// starts return an existing conversation for the same participant and venue.
//
// Ids are assigned from PresetIDs first, then as msg-N and conv-N.
// Timestamps come from the WallClock.
//
// Thread-safety: All methods are safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	userID   string
	userName string
	clock    *WallClock
	convs    []*fakeConversation
	calls    map[string]int
	failures map[string][]error
	corrupt  map[string]int
	gates    map[string][]*Gate
	presets  []string
	seq      int
}

// NewBackend creates an empty backend for userID.
func NewBackend(userID string, clock *WallClock) *Backend {
	if clock == nil {
		clock = NewWallClock(Epoch, time.Minute)
	}
	return &Backend{
		userID:   userID,
		userName: userID,
		clock:    clock,
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		corrupt:  make(map[string]int),
		gates:    make(map[string][]*Gate),
	}
}

// Clock returns the backend's clock.
func (b *Backend) Clock() *WallClock {
	return b.clock
}

// AddConversation preloads a conversation. An empty seed ID is assigned.
func (b *Backend) AddConversation(seed ConversationSeed) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addConversation(seed).id
}

func (b *Backend) addConversation(seed ConversationSeed) *fakeConversation {
	id := seed.ID
	if id == "" {
		id = b.nextID("conv")
	}
	name := seed.WithName
	if name == "" {
		name = seed.With
	}
	c := &fakeConversation{
		id:        id,
		other:     wire.ParticipantRecord{ID: seed.With, Name: name, Role: seed.WithRole},
		venueID:   seed.VenueID,
		venueName: seed.VenueName,
		venueType: seed.VenueType,
		updated:   b.clock.Now(),
		created:   len(b.convs),
	}
	b.convs = append(b.convs, c)
	return c
}

// RemoveConversation deletes a conversation, as if another client had
// removed it.
func (b *Backend) RemoveConversation(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.convs {
		if c.id == id {
			b.convs = append(b.convs[:i], b.convs[i+1:]...)
			return true
		}
	}
	return false
}

// AddMessage appends a message from senderID to a preloaded conversation.
// Messages from the counterparty are unread until marked read.
func (b *Backend) AddMessage(conversationID, senderID, content string) (wire.MessageRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.find(conversationID)
	if c == nil {
		return wire.MessageRecord{}, fmt.Errorf("conversation %s not found", conversationID)
	}
	receiver := c.other.ID
	if senderID == c.other.ID {
		receiver = b.userID
	}
	return b.appendMessage(c, senderID, receiver, content), nil
}

// Deliver appends a message from the counterparty of conversationID.
func (b *Backend) Deliver(conversationID, content string) (wire.MessageRecord, error) {
	b.mu.Lock()
	c := b.find(conversationID)
	b.mu.Unlock()
	if c == nil {
		return wire.MessageRecord{}, fmt.Errorf("conversation %s not found", conversationID)
	}
	return b.AddMessage(conversationID, c.other.ID, content)
}

func (b *Backend) appendMessage(c *fakeConversation, senderID, receiverID, content string) wire.MessageRecord {
	ts := b.clock.Now()
	rec := wire.MessageRecord{
		ID:             b.nextID("msg"),
		ConversationID: c.id,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Timestamp:      ts.Format(TimestampLayout),
		Read:           senderID == b.userID,
		VenueID:        wire.OptionalString(c.venueID),
		VenueName:      wire.OptionalString(c.venueName),
	}
	c.messages = append(c.messages, rec)
	c.updated = ts
	return rec
}

// PresetIDs queues ids handed out before generated ones.
func (b *Backend) PresetIDs(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presets = append(b.presets, ids...)
}

func (b *Backend) nextID(prefix string) string {
	if len(b.presets) > 0 {
		id := b.presets[0]
		b.presets = b.presets[1:]
		return id
	}
	b.seq++
	return fmt.Sprintf("%s-%d", prefix, b.seq)
}

// FailNext makes the next call of op return err (ErrInjected if nil).
// Failures queue up per operation.
func (b *Backend) FailNext(op string, err error) {
	if err == nil {
		err = ErrInjected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

// CorruptNext makes the next successful send or start return a record
// without an id.
func (b *Backend) CorruptNext(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.corrupt[op]++
}

// Gate holds one backend call until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed when the held call arrives.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release lets the held call proceed.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// Hold makes the next call of op wait until the returned gate is released
// or the call's context is cancelled. The call's effect happens after
// release.
func (b *Backend) Hold(op string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gates[op] = append(b.gates[op], g)
	return g
}

// Calls returns how many times op was called.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// CallCounts returns a copy of all call counts.
func (b *Backend) CallCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.calls))
	for op, n := range b.calls {
		out[op] = n
	}
	return out
}

// ConversationCount returns how many conversations exist.
func (b *Backend) ConversationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.convs)
}

// StoredMessages returns the stored messages of a conversation.
func (b *Backend) StoredMessages(conversationID string) []wire.MessageRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.find(conversationID)
	if c == nil {
		return nil
	}
	return append([]wire.MessageRecord(nil), c.messages...)
}

// begin counts the call, applies any gate and returns an injected failure.
func (b *Backend) begin(ctx context.Context, op string) (corrupt bool, err error) {
	b.mu.Lock()
	b.calls[op]++
	var gate *Gate
	if q := b.gates[op]; len(q) > 0 {
		gate, b.gates[op] = q[0], q[1:]
	}
	var fail error
	if q := b.failures[op]; len(q) > 0 {
		fail, b.failures[op] = q[0], q[1:]
	}
	b.mu.Unlock()

	if gate != nil {
		close(gate.entered)
		select {
		case <-gate.release:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if fail != nil {
		return false, fail
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.corrupt[op] > 0 {
		b.corrupt[op]--
		return true, nil
	}
	return false, nil
}

// ListConversations implements the engine backend.
func (b *Backend) ListConversations(ctx context.Context) ([]wire.ConversationRecord, error) {
	if _, err := b.begin(ctx, OpListConversations); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	convs := append([]*fakeConversation(nil), b.convs...)
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].updated.After(convs[j].updated)
	})
	out := make([]wire.ConversationRecord, 0, len(convs))
	for _, c := range convs {
		out = append(out, b.record(c))
	}
	return out, nil
}

// ListMessages implements the engine backend.
func (b *Backend) ListMessages(ctx context.Context, conversationID string) ([]wire.MessageRecord, error) {
	if _, err := b.begin(ctx, OpListMessages); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.find(conversationID)
	if c == nil {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	return append([]wire.MessageRecord(nil), c.messages...), nil
}

// SendMessage implements the engine backend.
func (b *Backend) SendMessage(ctx context.Context, receiverID, content, venueID string) (wire.MessageRecord, error) {
	corrupt, err := b.begin(ctx, OpSendMessage)
	if err != nil {
		return wire.MessageRecord{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.match(receiverID, venueID)
	if c == nil {
		c = b.addConversation(ConversationSeed{With: receiverID, VenueID: venueID})
	}
	rec := b.appendMessage(c, b.userID, receiverID, content)
	if corrupt {
		rec.ID = ""
	}
	return rec, nil
}

// StartConversation implements the engine backend.
func (b *Backend) StartConversation(ctx context.Context, participantID, venueID, venueType string) (wire.ConversationRecord, error) {
	corrupt, err := b.begin(ctx, OpStartConversation)
	if err != nil {
		return wire.ConversationRecord{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.match(participantID, venueID)
	if c == nil {
		c = b.addConversation(ConversationSeed{With: participantID, VenueID: venueID, VenueType: venueType})
	}
	rec := b.record(c)
	if corrupt {
		rec.ID = ""
	}
	return rec, nil
}

// MarkConversationRead implements the engine backend.
func (b *Backend) MarkConversationRead(ctx context.Context, conversationID string) error {
	if _, err := b.begin(ctx, OpMarkRead); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.find(conversationID)
	if c == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	for i := range c.messages {
		if c.messages[i].ReceiverID == b.userID {
			c.messages[i].Read = true
		}
	}
	return nil
}

// UnreadCount implements the engine backend.
func (b *Backend) UnreadCount(ctx context.Context) (int, error) {
	if _, err := b.begin(ctx, OpUnreadCount); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, c := range b.convs {
		total += b.unread(c)
	}
	return total, nil
}

func (b *Backend) find(id string) *fakeConversation {
	for _, c := range b.convs {
		if c.id == id {
			return c
		}
	}
	return nil
}

// match finds the first-created conversation with participantID, scoped to
// venueID when it is non-empty.
func (b *Backend) match(participantID, venueID string) *fakeConversation {
	for _, c := range b.convs {
		if c.other.ID != participantID {
			continue
		}
		if venueID != "" && c.venueID != venueID {
			continue
		}
		return c
	}
	return nil
}

func (b *Backend) unread(c *fakeConversation) int {
	n := 0
	for _, m := range c.messages {
		if m.ReceiverID == b.userID && !m.Read {
			n++
		}
	}
	return n
}

func (b *Backend) record(c *fakeConversation) wire.ConversationRecord {
	rec := wire.ConversationRecord{
		ID:             c.id,
		ParticipantIDs: []string{b.userID, c.other.ID},
		Participants: []wire.ParticipantRecord{
			{ID: b.userID, Name: b.userName},
			c.other,
		},
		UnreadCount: b.unread(c),
		VenueID:     wire.OptionalString(c.venueID),
		VenueName:   wire.OptionalString(c.venueName),
		VenueType:   wire.OptionalString(c.venueType),
	}
	if n := len(c.messages); n > 0 {
		last := c.messages[n-1]
		rec.LastMessage = &last
	}
	return rec
}
