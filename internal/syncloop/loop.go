// Package syncloop keeps one session's active conversation, contacts and
// directory converging on the remote state.
//
// All decisions live in Run, a single goroutine fed by channels. I/O runs in
// worker goroutines whose results come back tagged with the conversation
// they were for and the selection generation they started in; anything that
// no longer matches the current selection is dropped.
package syncloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"boomfare/internal/chat"
	"boomfare/internal/contact"
	"boomfare/internal/user"
)

var ErrStopped = errors.New("syncloop: not running")

type Config struct {
	PollInterval time.Duration
	// MaxAttempts bounds fetches per load, the first try included.
	MaxAttempts int
	// Backoff before retry n is Backoff*2^(n-1), capped at MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// AutoMarkRead marks the active conversation read up to its newest
	// incoming message whenever the view changes.
	AutoMarkRead bool
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 3 * time.Second,
		MaxAttempts:  3,
		Backoff:      200 * time.Millisecond,
		MaxBackoff:   2 * time.Second,
		AutoMarkRead: true,
	}
}

func (c Config) backoff(attempt int) time.Duration {
	d := c.Backoff << (attempt - 1)
	if d <= 0 || d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// Update is a snapshot of the active conversation, always in
// (CreatedAt, ID) order. Err is set when the latest load failed; Messages
// then holds the last known good view.
type Update struct {
	OtherID  string
	Messages []chat.Message
	Unread   int
	Err      error
}

type resultKind int

const (
	resultLoad resultKind = iota
	resultRead
	resultRefresh
)

type result struct {
	kind    resultKind
	otherID string
	gen     uint64
	err     error
}

type Loop struct {
	selfID string
	store  *chat.Store
	graph  *contact.Graph
	dir    *user.Directory
	cfg    Config
	log    zerolog.Logger

	selects chan string
	reloads chan string
	events  chan chat.Event
	results chan result
	updates chan Update
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	selected string
	running  bool

	// owned by Run
	active     string
	gen        uint64
	inflight   bool
	again      bool
	refreshing bool
}

func New(selfID string, store *chat.Store, graph *contact.Graph, dir *user.Directory, cfg Config, log zerolog.Logger) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Loop{
		selfID:  selfID,
		store:   store,
		graph:   graph,
		dir:     dir,
		cfg:     cfg,
		log:     log.With().Str("component", "syncloop").Str("self", selfID).Logger(),
		selects: make(chan string, 1),
		reloads: make(chan string, 8),
		events:  make(chan chat.Event, 64),
		results: make(chan result, 8),
		updates: make(chan Update, 16),
		done:    make(chan struct{}),
	}
}

// Updates delivers snapshots of the active conversation. Slow readers only
// ever miss intermediate snapshots, never the latest one.
func (l *Loop) Updates() <-chan Update { return l.updates }

// Selected is the conversation partner most recently passed to Select.
func (l *Loop) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// Select switches the active conversation and triggers a full reload.
func (l *Loop) Select(ctx context.Context, otherID string) error {
	if otherID == "" || otherID == l.selfID {
		return chat.ErrNoActiveConversation
	}
	l.mu.Lock()
	l.selected = otherID
	l.mu.Unlock()
	return enqueue(ctx, l.done, l.selects, otherID)
}

// Send posts content to the selected conversation and, once the remote
// confirmed it, asks for an immediate reload of that conversation.
func (l *Loop) Send(ctx context.Context, content string) (chat.Message, error) {
	other := l.Selected()
	if other == "" {
		return chat.Message{}, chat.ErrNoActiveConversation
	}
	msg, err := l.store.SendMessage(ctx, l.selfID, other, content)
	if err != nil {
		return chat.Message{}, err
	}
	if err := enqueue(ctx, l.done, l.reloads, other); err != nil {
		l.log.Warn().Err(err).Msg("reload after send not scheduled")
	}
	return msg, nil
}

// Notify hands a pushed event to the loop.
func (l *Loop) Notify(ctx context.Context, ev chat.Event) error {
	return enqueue(ctx, l.done, l.events, ev)
}

func enqueue[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, v T) error {
	select {
	case <-done:
		return ErrStopped
	default:
	}
	select {
	case ch <- v:
		return nil
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes selections, sends, pushes and poll ticks until ctx ends.
// It waits for its workers before returning.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("syncloop: already running")
	}
	l.running = true
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		cancel()
		close(l.done)
		l.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case other := <-l.selects:
			l.switchTo(ctx, other)

		case other := <-l.reloads:
			if other == l.active {
				l.requestLoad(ctx)
			}

		case ev := <-l.events:
			l.handleEvent(ctx, ev)

		case res := <-l.results:
			l.apply(ctx, res)

		case <-ticker.C:
			l.requestLoad(ctx)
			l.requestRefresh(ctx)
		}
	}
}

// switchTo makes other the active conversation. The first load of a new
// selection starts from an empty view; the store locks per conversation, so
// the drop happens on the worker rather than here.
func (l *Loop) switchTo(ctx context.Context, other string) {
	l.active = other
	l.gen++
	l.inflight = false
	l.again = false
	l.log.Debug().Str("with", other).Uint64("gen", l.gen).Msg("conversation selected")
	l.startLoad(ctx, true)
}

func (l *Loop) requestLoad(ctx context.Context) {
	if l.active == "" {
		return
	}
	if l.inflight {
		l.again = true
		return
	}
	l.startLoad(ctx, false)
}

func (l *Loop) startLoad(ctx context.Context, fresh bool) {
	l.inflight = true
	other, gen := l.active, l.gen
	l.spawn(ctx, func() result {
		if fresh {
			l.store.Drop(l.selfID, other)
		}
		return result{kind: resultLoad, otherID: other, gen: gen, err: l.load(ctx, other)}
	})
}

func (l *Loop) requestRefresh(ctx context.Context) {
	if l.refreshing || (l.dir == nil && l.graph == nil) {
		return
	}
	l.refreshing = true
	l.spawn(ctx, func() result {
		var errs []error
		if l.dir != nil {
			if _, err := l.dir.ListUsers(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if l.graph != nil {
			if err := l.graph.Refresh(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return result{kind: resultRefresh, err: errors.Join(errs...)}
	})
}

func (l *Loop) requestMarkRead(ctx context.Context) {
	last, ok := l.store.LastIncoming(l.selfID, l.active)
	if !ok || l.store.Watermark(l.selfID, l.active).Covers(last) {
		return
	}
	other, gen := l.active, l.gen
	l.spawn(ctx, func() result {
		err := l.store.MarkRead(ctx, l.selfID, other, last.ID)
		return result{kind: resultRead, otherID: other, gen: gen, err: err}
	})
}

func (l *Loop) spawn(ctx context.Context, work func() result) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		res := work()
		select {
		case l.results <- res:
		case <-ctx.Done():
		}
	}()
}

// load fetches with retry. Only transient fetch failures are retried.
func (l *Loop) load(ctx context.Context, other string) error {
	var err error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		_, err = l.store.LoadConversation(ctx, l.selfID, other)
		if err == nil || !errors.Is(err, chat.ErrConversationFetchFailed) {
			return err
		}
		if attempt == l.cfg.MaxAttempts {
			break
		}
		wait := l.cfg.backoff(attempt)
		l.log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("load failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (l *Loop) apply(ctx context.Context, res result) {
	if res.kind == resultRefresh {
		l.refreshing = false
		if res.err != nil {
			l.log.Warn().Err(res.err).Msg("background refresh failed")
		}
		return
	}
	if res.otherID != l.active || res.gen != l.gen {
		l.log.Debug().Str("with", res.otherID).Uint64("gen", res.gen).Msg("discarding stale result")
		return
	}

	switch res.kind {
	case resultLoad:
		l.inflight = false
		if res.err != nil {
			l.log.Warn().Err(res.err).Str("with", res.otherID).Msg("conversation load failed")
			l.publish(res.err)
		} else {
			l.publish(nil)
			if l.cfg.AutoMarkRead {
				l.requestMarkRead(ctx)
			}
		}
		if l.again {
			l.again = false
			l.requestLoad(ctx)
		}
	case resultRead:
		if res.err != nil {
			l.log.Warn().Err(res.err).Str("with", res.otherID).Msg("mark read failed")
			return
		}
		l.publish(nil)
	}
}

func (l *Loop) handleEvent(ctx context.Context, ev chat.Event) {
	p, ok := ev.Pair()
	if !ok {
		return
	}
	if p.A != l.selfID && p.B != l.selfID {
		return
	}
	activePair := l.active != "" && p == chat.NewPair(l.selfID, l.active)

	switch ev.Kind {
	case chat.EventMessage:
		changed := l.store.Merge(l.selfID, *ev.Message)
		if activePair && len(changed) > 0 {
			l.publish(nil)
			if l.cfg.AutoMarkRead {
				l.requestMarkRead(ctx)
			}
		}
	case chat.EventRead:
		// receipts only change flags on our own messages; reload to pick them up
		if activePair {
			l.requestLoad(ctx)
		}
	}
}

// publish pushes the current snapshot, evicting the oldest queued one if the
// reader is behind. Only Run calls it, so there is a single producer.
func (l *Loop) publish(err error) {
	u := Update{
		OtherID:  l.active,
		Messages: l.store.Messages(l.selfID, l.active),
		Unread:   l.store.Unread(l.selfID, l.active),
		Err:      err,
	}
	for {
		select {
		case l.updates <- u:
			return
		default:
			select {
			case <-l.updates:
			default:
			}
		}
	}
}
