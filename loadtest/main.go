package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"boomfare/internal/api"
	"boomfare/internal/chat"
	"boomfare/internal/logging"
	"boomfare/internal/user"
)

var (
	baseURL   = flag.String("api", "http://localhost:8080", "server base URL")
	userCount = flag.Int("pairs", 50, "conversation pairs") // ⚠️ Start small. Database might choke on 1000 immediately.
	msgCount  = flag.Int("messages", 20, "messages per user")
	pace      = flag.Duration("pace", 10*time.Millisecond, "pause between sends")
)

type stats struct {
	sent, pushed, failed, mismatched atomic.Int64
}

func main() {
	flag.Parse()
	log := logging.New("info", true)
	log.Info().Msgf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", *userCount*2, *msgCount)

	var st stats
	var wg sync.WaitGroup
	start := time.Now()

	// We will create pairs: User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < *userCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(context.Background(), pairID, &st, log); err != nil {
				st.failed.Add(1)
				log.Error().Err(err).Int("pair", pairID).Msg("❌ pair failed")
			}
		}(i)
	}

	wg.Wait()
	log.Info().
		Dur("took", time.Since(start)).
		Int64("sent", st.sent.Load()).
		Int64("pushed", st.pushed.Load()).
		Int64("failed_pairs", st.failed.Load()).
		Int64("mismatched", st.mismatched.Load()).
		Msg("✅ LOAD TEST COMPLETE")
}

func runPair(ctx context.Context, pairID int, st *stats, log zerolog.Logger) error {
	pass := "password123"
	a, err := authenticate(ctx, fmt.Sprintf("u_%d_a", pairID), pass, log)
	if err != nil {
		return err
	}
	b, err := authenticate(ctx, fmt.Sprintf("u_%d_b", pairID), pass, log)
	if err != nil {
		return err
	}
	self := a.id

	// Listen for pushes on both sides while they talk
	subCtx, stopSubs := context.WithCancel(ctx)
	defer stopSubs()
	for _, c := range []*actor{a, b} {
		go func(c *actor) {
			n := c.client.Messages().(chat.Notifier)
			_ = n.Subscribe(subCtx, func(ev chat.Event) {
				if ev.Kind == chat.EventMessage {
					st.pushed.Add(1)
				}
			})
		}(c)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return spamChat(gctx, a, b.id, st) })
	g.Go(func() error { return spamChat(gctx, b, a.id, st) })
	if err := g.Wait(); err != nil {
		return err
	}

	// Read-your-writes: everything acknowledged must come back, in order.
	msgs, err := a.client.Messages().Filter(ctx, chat.NewPair(self, b.id))
	if err != nil {
		return err
	}
	if len(msgs) < 2*(*msgCount) {
		st.mismatched.Add(1)
		return fmt.Errorf("pair %d: fetched %d of %d messages", pairID, len(msgs), 2*(*msgCount))
	}
	for i := 1; i < len(msgs); i++ {
		if chat.Compare(msgs[i-1], msgs[i]) > 0 {
			st.mismatched.Add(1)
			return fmt.Errorf("pair %d: history out of order at %d", pairID, i)
		}
	}
	return nil
}

type actor struct {
	client *api.Client
	login  user.LoginResponse
	id     string
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(ctx context.Context, username, password string, log zerolog.Logger) (*actor, error) {
	c := api.New(*baseURL, 10*time.Second, log)
	if _, err := c.Register(ctx, username, password, ""); err != nil && !errors.Is(err, user.ErrUsernameTaken) {
		return nil, fmt.Errorf("register %s: %w", username, err)
	}
	res, err := c.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return &actor{client: c, login: res, id: res.ID}, nil
}

func spamChat(ctx context.Context, from *actor, to string, st *stats) error {
	src := from.client.Messages()
	for i := 0; i < *msgCount; i++ {
		_, err := src.Create(ctx, chat.NewMessage{
			SenderID:    from.id,
			RecipientID: to,
			Content:     fmt.Sprintf("LoadTest Msg %d from %s", i, from.login.Username),
			Type:        chat.TypeText,
		})
		if err != nil {
			return fmt.Errorf("send as %s: %w", from.login.Username, err)
		}
		st.sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		select {
		case <-time.After(*pace):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
