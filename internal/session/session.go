// Package session assembles one signed-in user's client state: directory,
// contact graph, conversation store and the sync loop that drives them.
// Sessions share nothing, so several can live in one process.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"boomfare/internal/chat"
	"boomfare/internal/contact"
	"boomfare/internal/syncloop"
	"boomfare/internal/user"
)

var ErrNotPermitted = errors.New("recipient cannot be messaged")

// Backend is the remote data-access collaborator, already bound to the
// signed-in user.
type Backend interface {
	Users() user.Source
	Contacts() contact.Source
	Messages() chat.Source
}

type Options struct {
	Policy contact.Policy
	Sync   syncloop.Config
	Log    zerolog.Logger
}

type Session struct {
	Self      user.User
	Directory *user.Directory
	Contacts  *contact.Graph
	Store     *chat.Store
	Loop      *syncloop.Loop

	notifier chat.Notifier
	retry    time.Duration
	log      zerolog.Logger
}

// Open resolves the current user and primes the directory and contact
// graph. Only the identity lookup is fatal; the rest is retried by polling.
func Open(ctx context.Context, b Backend, opts Options) (*Session, error) {
	dir := user.NewDirectory(b.Users())
	self, err := dir.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	log := opts.Log.With().Str("user", self.Username).Logger()

	if _, err := dir.ListUsers(ctx); err != nil {
		log.Warn().Err(err).Msg("directory not loaded yet")
	}
	graph := contact.NewGraph(b.Contacts(), dir, self.ID, opts.Policy, log)
	if err := graph.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("contacts not loaded yet")
	}

	store := chat.NewStore(b.Messages(), log)
	s := &Session{
		Self:      self,
		Directory: dir,
		Contacts:  graph,
		Store:     store,
		Loop:      syncloop.New(self.ID, store, graph, dir, opts.Sync, log),
		retry:     opts.Sync.PollInterval,
		log:       log.With().Str("component", "session").Logger(),
	}
	if n, ok := b.Messages().(chat.Notifier); ok {
		s.notifier = n
	}
	if s.retry <= 0 {
		s.retry = syncloop.DefaultConfig().PollInterval
	}
	s.log.Info().Str("id", self.ID).Bool("push", s.notifier != nil).Msg("✅ session opened")
	return s, nil
}

// Run drives the sync loop and, when the backend can push, keeps a
// subscription feeding it. Polling carries on while the subscription is down.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Loop.Run(gctx) })
	if s.notifier != nil {
		g.Go(func() error {
			s.subscribe(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Session) subscribe(ctx context.Context) {
	deliver := func(ev chat.Event) {
		if err := s.Loop.Notify(ctx, ev); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("kind", ev.Kind).Msg("event dropped")
		}
	}
	for {
		err := s.notifier.Subscribe(ctx, deliver)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Dur("retry", s.retry).Msg("push subscription lost, polling only")
		select {
		case <-time.After(s.retry):
		case <-ctx.Done():
			return
		}
	}
}

// Select opens the conversation with otherID, subject to the contact policy.
func (s *Session) Select(ctx context.Context, otherID string) error {
	if otherID != s.Self.ID && otherID != "" && !s.Contacts.CanMessage(otherID) {
		return fmt.Errorf("%w: %s", ErrNotPermitted, otherID)
	}
	return s.Loop.Select(ctx, otherID)
}

func (s *Session) Send(ctx context.Context, content string) (chat.Message, error) {
	return s.Loop.Send(ctx, content)
}

func (s *Session) AddContact(ctx context.Context, userID string) (contact.Relationship, error) {
	return s.Contacts.AddContact(ctx, userID)
}

// Peer returns the directory entry of the selected conversation partner.
func (s *Session) Peer() (user.User, bool) {
	id := s.Loop.Selected()
	if id == "" {
		return user.User{}, false
	}
	return s.Directory.Lookup(id)
}
