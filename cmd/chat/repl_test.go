package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boomfare/internal/chat"
	"boomfare/internal/contact"
	"boomfare/internal/memstore"
	"boomfare/internal/session"
	"boomfare/internal/syncloop"
	"boomfare/internal/user"
)

// syncBuffer lets the watcher and the test touch the output concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestREPL(t *testing.T) (*repl, *syncBuffer, *memstore.Backend, user.User) {
	t.Helper()
	b := memstore.New()
	alice := b.AddUser(user.User{Username: "alice"})
	bob := b.AddUser(user.User{Username: "bob", FullName: "Bob Stone"})
	b.AddUser(user.User{Username: "queenb", VerificationTier: user.TierCelebrity})

	cfg := syncloop.DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	s, err := session.Open(context.Background(), b.Session(alice.ID), session.Options{
		Policy: contact.Policy{},
		Sync:   cfg,
		Log:    zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	r := newREPL(s, out)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = s.Run(ctx) }()
	go func() { defer wg.Done(); r.watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return r, out, b, bob
}

func TestREPLConversation(t *testing.T) {
	r, out, b, bob := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.handle(ctx, "/users"))
	assert.Contains(t, out.String(), "Last seen recently")
	assert.Contains(t, out.String(), "[crown Celebrity]")

	require.NoError(t, r.handle(ctx, "/add @bob"))
	require.NoError(t, r.handle(ctx, "/users stone"))
	assert.Contains(t, out.String(), "+ bob")
	require.NoError(t, r.handle(ctx, "/verified"))
	require.NoError(t, r.handle(ctx, "/open bob"))
	require.NoError(t, r.handle(ctx, "hello there"))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "you: hello there")
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := b.Session(bob.ID).Messages().Filter(ctx, chat.NewPair(bob.ID, r.s.Self.ID))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Content)
}

func TestREPLErrors(t *testing.T) {
	r, _, _, _ := newTestREPL(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.handle(ctx, "/open nobody"), user.ErrNotFound)
	assert.ErrorIs(t, r.handle(ctx, "orphan line"), chat.ErrNoActiveConversation)
	assert.Error(t, r.handle(ctx, "/dance"))
	assert.ErrorIs(t, r.handle(ctx, "/quit"), errQuit)
	assert.NoError(t, r.handle(ctx, "   "))
}

func TestREPLProfile(t *testing.T) {
	r, out, _, _ := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.handle(ctx, "/bio building things"))
	require.NoError(t, r.handle(ctx, "/me"))
	assert.Contains(t, out.String(), "alice · building things")
}
