package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"boomfare/internal/user"
)

// Store is the client-side conversation store. Each conversation has its own
// lock guarding its in-memory state, so mutations on one pair are serialized
// while different pairs proceed independently. The lock is never held across
// a remote call.
type Store struct {
	src Source
	log zerolog.Logger

	mu    sync.Mutex
	convs map[Pair]*conversation
}

type conversation struct {
	mu   sync.Mutex
	view *View
	// pending holds sends the remote confirmed but no fetch has returned yet.
	pending map[string]Message
	// pushed holds merged pushes a fetch in flight may have missed.
	pushed map[string]stamped
	seq    uint64

	// load tickets; a fetch only applies if no later one applied first
	issued  uint64
	applied uint64
}

type stamped struct {
	msg Message
	seq uint64
}

func NewStore(src Source, log zerolog.Logger) *Store {
	return &Store{
		src:   src,
		log:   log.With().Str("component", "chat.store").Logger(),
		convs: make(map[Pair]*conversation),
	}
}

func (s *Store) conv(p Pair) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[p]
	if !ok {
		c = &conversation{
			view:    NewView(p),
			pending: make(map[string]Message),
			pushed:  make(map[string]stamped),
		}
		s.convs[p] = c
	}
	return c
}

func pairOf(selfID, otherID string) (Pair, error) {
	if selfID == "" {
		return Pair{}, user.ErrUnauthenticated
	}
	if otherID == "" || otherID == selfID {
		return Pair{}, ErrNoActiveConversation
	}
	return NewPair(selfID, otherID), nil
}

// LoadConversation fetches the whole conversation and replaces the view.
// Repeated calls with no remote change return identical sequences. On
// failure the previous view is left as it was. A fetch overtaken by a later
// one, or by Drop, returns the current view without applying.
func (s *Store) LoadConversation(ctx context.Context, selfID, otherID string) ([]Message, error) {
	p, err := pairOf(selfID, otherID)
	if err != nil {
		return nil, err
	}
	c := s.conv(p)
	c.mu.Lock()
	c.issued++
	ticket, since := c.issued, c.seq
	c.mu.Unlock()

	msgs, err := s.src.Filter(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversationFetchFailed, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ticket <= c.applied {
		s.log.Debug().Str("conversation", p.Key()).Uint64("ticket", ticket).Msg("fetch overtaken, not applied")
		return c.view.Messages(), nil
	}
	c.applied = ticket

	c.view.Replace(msgs)
	for id, m := range c.pending {
		if c.view.Has(id) {
			delete(c.pending, id)
			continue
		}
		c.view.Merge([]Message{m})
	}
	for id, st := range c.pushed {
		if c.view.Has(id) || st.seq <= since {
			delete(c.pushed, id)
			continue
		}
		c.view.Merge([]Message{st.msg})
	}

	s.log.Debug().Str("conversation", p.Key()).Int("messages", c.view.Len()).Msg("conversation loaded")
	return c.view.Messages(), nil
}

// SendMessage validates locally, creates the message remotely and returns the
// confirmed copy. The view itself is not touched: callers reload to pick the
// message up in its remote position.
func (s *Store) SendMessage(ctx context.Context, selfID, otherID, content string) (Message, error) {
	if selfID == "" {
		return Message{}, user.ErrUnauthenticated
	}
	nm := NewMessage{Content: content, SenderID: selfID, RecipientID: otherID, Type: TypeText}
	if err := nm.Validate(); err != nil {
		return Message{}, err
	}

	msg, err := s.src.Create(ctx, nm)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	c := s.conv(NewPair(selfID, otherID))
	c.mu.Lock()
	c.pending[msg.ID] = msg
	c.mu.Unlock()

	s.log.Debug().Str("message", msg.ID).Str("to", otherID).Msg("message sent")
	return msg, nil
}

// MarkRead advances the read watermark to upToID, marking every earlier
// message addressed to self as read. An id at or behind the watermark is a
// no-op. The watermark only moves once the remote accepted the change.
func (s *Store) MarkRead(ctx context.Context, selfID, otherID, upToID string) error {
	p, err := pairOf(selfID, otherID)
	if err != nil {
		return err
	}
	c := s.conv(p)
	c.mu.Lock()
	target, ok := c.view.Get(upToID)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	if c.view.Watermark().Covers(target) {
		c.mu.Unlock()
		return nil
	}
	ids := c.view.unreadUpTo(selfID, target)
	c.mu.Unlock()

	if len(ids) > 0 {
		if _, err := s.src.MarkRead(ctx, selfID, ids); err != nil {
			return fmt.Errorf("%w: %v", ErrMarkReadFailed, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.markRead(ids)
	c.view.Advance(target)
	return nil
}

// Merge folds pushed messages into their conversations. Messages that do not
// involve self are dropped. It returns the pairs that gained messages.
func (s *Store) Merge(selfID string, msgs ...Message) []Pair {
	byPair := make(map[Pair][]Message)
	var order []Pair
	for _, m := range msgs {
		if m.SenderID != selfID && m.RecipientID != selfID {
			continue
		}
		p := NewPair(m.SenderID, m.RecipientID)
		if _, ok := byPair[p]; !ok {
			order = append(order, p)
		}
		byPair[p] = append(byPair[p], m)
	}

	var changed []Pair
	for _, p := range order {
		c := s.conv(p)
		c.mu.Lock()
		c.seq++
		for _, m := range byPair[p] {
			if !c.view.Has(m.ID) {
				c.pushed[m.ID] = stamped{msg: m, seq: c.seq}
			}
		}
		if c.view.Merge(byPair[p]) > 0 {
			changed = append(changed, p)
		}
		c.mu.Unlock()
	}
	return changed
}

// Messages returns the current in-memory view without fetching.
func (s *Store) Messages(selfID, otherID string) []Message {
	p, err := pairOf(selfID, otherID)
	if err != nil {
		return nil
	}
	c := s.conv(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Messages()
}

func (s *Store) Watermark(selfID, otherID string) Watermark {
	p, err := pairOf(selfID, otherID)
	if err != nil {
		return Watermark{}
	}
	c := s.conv(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Watermark()
}

// Unread counts messages addressed to self that are not read yet.
func (s *Store) Unread(selfID, otherID string) int {
	p, err := pairOf(selfID, otherID)
	if err != nil {
		return 0
	}
	c := s.conv(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.unreadCount(selfID)
}

// LastIncoming is the newest message in the view addressed to self.
func (s *Store) LastIncoming(selfID, otherID string) (Message, bool) {
	p, err := pairOf(selfID, otherID)
	if err != nil {
		return Message{}, false
	}
	c := s.conv(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.lastIncoming(selfID)
}

// Drop discards the in-memory messages of a conversation. The read watermark
// and unconfirmed sends are kept. Fetches already in flight will not apply.
func (s *Store) Drop(selfID, otherID string) {
	p, err := pairOf(selfID, otherID)
	if err != nil {
		return
	}
	c := s.conv(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	wm := c.view.Watermark()
	c.view = NewView(p)
	c.view.watermark = wm
	c.pushed = make(map[string]stamped)
	c.applied = c.issued
}
