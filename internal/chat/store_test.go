package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boomfare/internal/chat"
	"boomfare/internal/memstore"
	"boomfare/internal/user"
)

type fixture struct {
	backend          *memstore.Backend
	alice, bob, carl user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := memstore.New()
	var mu sync.Mutex
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	return &fixture{
		backend: b,
		alice:   b.AddUser(user.User{Username: "alice"}),
		bob:     b.AddUser(user.User{Username: "bob"}),
		carl:    b.AddUser(user.User{Username: "carl"}),
	}
}

func (f *fixture) store(u user.User) *chat.Store {
	return chat.NewStore(f.backend.Session(u.ID).Messages(), zerolog.Nop())
}

func TestAliceAndBobScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.store(f.alice), f.store(f.bob)

	empty, err := a.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	sent, err := a.SendMessage(ctx, f.alice.ID, f.bob.ID, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
	assert.False(t, sent.CreatedAt.IsZero())

	got, err := a.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.alice.ID, got[0].SenderID)
	assert.Equal(t, "hello", got[0].Content)
	assert.False(t, got[0].IsRead)

	bobView, err := b.LoadConversation(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	require.NoError(t, b.MarkRead(ctx, f.bob.ID, f.alice.ID, bobView[0].ID))
	assert.Equal(t, 0, b.Unread(f.bob.ID, f.alice.ID))

	got, err = a.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsRead)
}

func TestLoadConversationSortsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.backend.Put(
		chat.Message{ID: "z", SenderID: f.bob.ID, RecipientID: f.alice.ID, CreatedAt: base.Add(time.Minute), Content: "3"},
		chat.Message{ID: "b", SenderID: f.alice.ID, RecipientID: f.bob.ID, CreatedAt: base, Content: "2"},
		chat.Message{ID: "a", SenderID: f.bob.ID, RecipientID: f.alice.ID, CreatedAt: base, Content: "1"},
	)
	s := f.store(f.alice)

	first, err := s.LoadConversation(context.Background(), f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	second, err := s.LoadConversation(context.Background(), f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, contents(first))
	assert.Equal(t, first, second)
}

func TestConversationIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store(f.alice)

	_, err := s.SendMessage(ctx, f.alice.ID, f.carl.ID, "for carl")
	require.NoError(t, err)
	_, err = f.store(f.carl).SendMessage(ctx, f.carl.ID, f.bob.ID, "carl to bob")
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, f.alice.ID, f.bob.ID, "for bob")
	require.NoError(t, err)

	got, err := s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"for bob"}, contents(got))

	pushed := s.Merge(f.alice.ID, chat.Message{ID: "x", SenderID: f.carl.ID, RecipientID: f.bob.ID})
	assert.Empty(t, pushed, "messages not involving self are dropped")
}

func TestSendValidationNeverReachesRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store(f.alice)

	_, err := s.SendMessage(ctx, f.alice.ID, f.bob.ID, "   ")
	assert.ErrorIs(t, err, chat.ErrEmptyContent)

	_, err = s.SendMessage(ctx, f.alice.ID, "", "hi")
	assert.ErrorIs(t, err, chat.ErrNoActiveConversation)

	_, err = s.SendMessage(ctx, "", f.bob.ID, "hi")
	assert.ErrorIs(t, err, user.ErrUnauthenticated)

	assert.Zero(t, f.backend.Calls(memstore.OpCreateMessage))
}

func TestSendFailureIsWrapped(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail(memstore.OpCreateMessage, errors.New("502 bad gateway"))

	_, err := f.store(f.alice).SendMessage(context.Background(), f.alice.ID, f.bob.ID, "hi")
	require.ErrorIs(t, err, chat.ErrSendFailed)
	assert.Contains(t, err.Error(), "502")
}

func TestFailedLoadKeepsLastKnownGoodView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.store(f.alice)

	_, err := s.SendMessage(ctx, f.alice.ID, f.bob.ID, "one")
	require.NoError(t, err)
	before, err := s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	f.backend.Fail(memstore.OpFilterMessages, errors.New("timeout"))
	_, err = s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.ErrorIs(t, err, chat.ErrConversationFetchFailed)
	assert.Equal(t, before, s.Messages(f.alice.ID, f.bob.ID))
}

// laggingSource hides freshly created messages from Filter, like a read
// replica that has not caught up yet.
type laggingSource struct {
	chat.Source
	mu     sync.Mutex
	hidden map[string]bool
}

func (l *laggingSource) Create(ctx context.Context, m chat.NewMessage) (chat.Message, error) {
	msg, err := l.Source.Create(ctx, m)
	if err == nil {
		l.mu.Lock()
		l.hidden[msg.ID] = true
		l.mu.Unlock()
	}
	return msg, err
}

func (l *laggingSource) Filter(ctx context.Context, p chat.Pair) ([]chat.Message, error) {
	msgs, err := l.Source.Filter(ctx, p)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []chat.Message
	for _, m := range msgs {
		if !l.hidden[m.ID] {
			out = append(out, m)
		}
	}
	return out, err
}

func (l *laggingSource) catchUp() {
	l.mu.Lock()
	l.hidden = map[string]bool{}
	l.mu.Unlock()
}

func TestReadYourWritesAgainstLaggingRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := &laggingSource{Source: f.backend.Session(f.alice.ID).Messages(), hidden: map[string]bool{}}
	s := chat.NewStore(src, zerolog.Nop())

	sent, err := s.SendMessage(ctx, f.alice.ID, f.bob.ID, "hi")
	require.NoError(t, err)

	got, err := s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sent.ID, got[0].ID)

	src.catchUp()
	got, err = s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1, "exactly once after the remote caught up")
}

func TestMarkReadIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.store(f.bob)
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.store(f.alice).SendMessage(ctx, f.alice.ID, f.bob.ID, text)
		require.NoError(t, err)
	}
	msgs, err := bob.LoadConversation(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	require.NoError(t, bob.MarkRead(ctx, f.bob.ID, f.alice.ID, msgs[1].ID))
	assert.Equal(t, msgs[1].ID, bob.Watermark(f.bob.ID, f.alice.ID).MessageID)
	assert.Equal(t, 1, bob.Unread(f.bob.ID, f.alice.ID))

	calls := f.backend.Calls(memstore.OpMarkRead)
	require.NoError(t, bob.MarkRead(ctx, f.bob.ID, f.alice.ID, msgs[0].ID))
	assert.Equal(t, msgs[1].ID, bob.Watermark(f.bob.ID, f.alice.ID).MessageID)
	assert.Equal(t, calls, f.backend.Calls(memstore.OpMarkRead), "older id is a no-op")

	assert.ErrorIs(t, bob.MarkRead(ctx, f.bob.ID, f.alice.ID, "nope"), chat.ErrUnknownMessage)
}

func TestMarkReadFailureLeavesWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store(f.alice).SendMessage(ctx, f.alice.ID, f.bob.ID, "ping")
	require.NoError(t, err)
	bob := f.store(f.bob)
	msgs, err := bob.LoadConversation(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)

	f.backend.Fail(memstore.OpMarkRead, errors.New("503"))
	err = bob.MarkRead(ctx, f.bob.ID, f.alice.ID, msgs[0].ID)
	require.ErrorIs(t, err, chat.ErrMarkReadFailed)
	assert.True(t, bob.Watermark(f.bob.ID, f.alice.ID).IsZero())
	assert.Equal(t, 1, bob.Unread(f.bob.ID, f.alice.ID))
}

func TestMarkReadOnOwnMessagesOnlyMovesWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.store(f.alice)
	_, err := a.SendMessage(ctx, f.alice.ID, f.bob.ID, "mine")
	require.NoError(t, err)
	msgs, err := a.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	require.NoError(t, a.MarkRead(ctx, f.alice.ID, f.bob.ID, msgs[0].ID))
	assert.Zero(t, f.backend.Calls(memstore.OpMarkRead))
	assert.Equal(t, msgs[0].ID, a.Watermark(f.alice.ID, f.bob.ID).MessageID)

	got, err := a.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.False(t, got[0].IsRead, "only the recipient can read a message")
}

func TestMergeDeduplicatesPushedMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.store(f.alice)
	sent, err := f.store(f.bob).SendMessage(ctx, f.bob.ID, f.alice.ID, "yo")
	require.NoError(t, err)
	_, err = a.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	changed := a.Merge(f.alice.ID, sent, sent)
	assert.Empty(t, changed)
	assert.Len(t, a.Messages(f.alice.ID, f.bob.ID), 1)
}

func TestDropKeepsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store(f.alice).SendMessage(ctx, f.alice.ID, f.bob.ID, "hi")
	require.NoError(t, err)
	bob := f.store(f.bob)
	msgs, err := bob.LoadConversation(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	require.NoError(t, bob.MarkRead(ctx, f.bob.ID, f.alice.ID, msgs[0].ID))

	bob.Drop(f.bob.ID, f.alice.ID)
	assert.Empty(t, bob.Messages(f.bob.ID, f.alice.ID))
	assert.Equal(t, msgs[0].ID, bob.Watermark(f.bob.ID, f.alice.ID).MessageID)
}

func contents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// heldSource takes its first Filter snapshot right away but only returns it
// once released, like a slow response carrying stale data.
type heldSource struct {
	chat.Source
	mu      sync.Mutex
	calls   int
	fetched chan struct{}
	release chan struct{}
}

func newHeldSource(src chat.Source) *heldSource {
	return &heldSource{Source: src, fetched: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldSource) Filter(ctx context.Context, p chat.Pair) ([]chat.Message, error) {
	msgs, err := h.Source.Filter(ctx, p)
	h.mu.Lock()
	h.calls++
	first := h.calls == 1
	h.mu.Unlock()
	if first {
		close(h.fetched)
		<-h.release
	}
	return msgs, err
}

type loadResult struct {
	msgs []chat.Message
	err  error
}

func TestPushDuringFetchSurvivesStaleResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := newHeldSource(f.backend.Session(f.alice.ID).Messages())
	s := chat.NewStore(src, zerolog.Nop())

	done := make(chan loadResult, 1)
	go func() {
		msgs, err := s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
		done <- loadResult{msgs, err}
	}()
	<-src.fetched

	pushed, err := f.store(f.bob).SendMessage(ctx, f.bob.ID, f.alice.ID, "while you were loading")
	require.NoError(t, err)
	assert.Equal(t, []chat.Pair{chat.NewPair(f.alice.ID, f.bob.ID)}, s.Merge(f.alice.ID, pushed))
	assert.Len(t, s.Messages(f.alice.ID, f.bob.ID), 1, "merge does not wait for the fetch")

	close(src.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, []string{"while you were loading"}, contents(res.msgs))

	got, err := s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOvertakenFetchDoesNotApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := newHeldSource(f.backend.Session(f.alice.ID).Messages())
	s := chat.NewStore(src, zerolog.Nop())

	done := make(chan loadResult, 1)
	go func() {
		msgs, err := s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
		done <- loadResult{msgs, err}
	}()
	<-src.fetched

	_, err := f.store(f.bob).SendMessage(ctx, f.bob.ID, f.alice.ID, "fresh")
	require.NoError(t, err)
	got, err := s.LoadConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, contents(got))

	close(src.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, []string{"fresh"}, contents(res.msgs))
	assert.Equal(t, []string{"fresh"}, contents(s.Messages(f.alice.ID, f.bob.ID)))
}

// echoSource delivers every created message back into the store before Create
// returns, the way a synchronous push subscriber does.
type echoSource struct {
	chat.Source
	store *chat.Store
	self  string
}

func (e *echoSource) Create(ctx context.Context, m chat.NewMessage) (chat.Message, error) {
	msg, err := e.Source.Create(ctx, m)
	if err == nil {
		e.store.Merge(e.self, msg)
	}
	return msg, err
}

func TestPushDuringSendDoesNotDeadlock(t *testing.T) {
	f := newFixture(t)
	src := &echoSource{Source: f.backend.Session(f.alice.ID).Messages(), self: f.alice.ID}
	s := chat.NewStore(src, zerolog.Nop())
	src.store = s

	done := make(chan error, 1)
	go func() {
		_, err := s.SendMessage(context.Background(), f.alice.ID, f.bob.ID, "echo")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send blocked on its own push")
	}
	assert.Equal(t, []string{"echo"}, contents(s.Messages(f.alice.ID, f.bob.ID)))
}
