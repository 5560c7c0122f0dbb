// Package memstore is an in-process stand-in for the remote data-access
// collaborator. Every session opened on one Backend sees the same data, which
// lets two users talk to each other inside a single test.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"boomfare/internal/chat"
	"boomfare/internal/contact"
	"boomfare/internal/user"
)

// Op names a collaborator call, for failure injection.
type Op string

const (
	OpMe             Op = "user.me"
	OpListUsers      Op = "user.list"
	OpUpdateUser     Op = "user.update"
	OpFilterMessages Op = "message.filter"
	OpCreateMessage  Op = "message.create"
	OpMarkRead       Op = "message.mark_read"
	OpFilterContacts Op = "contact.filter"
	OpCreateContact  Op = "contact.create"
)

type Backend struct {
	mu       sync.Mutex
	users    []user.User
	contacts []contact.Relationship
	messages []chat.Message
	seq      int
	now      func() time.Time
	fail     map[Op]error
	calls    map[Op]int
	subs     map[int]subscriber
	nextSub  int
}

type subscriber struct {
	userID string
	fn     func(chat.Event)
}

func New() *Backend {
	return &Backend{
		now:   func() time.Time { return time.Now().UTC() },
		fail:  make(map[Op]error),
		calls: make(map[Op]int),
		subs:  make(map[int]subscriber),
	}
}

// SetClock replaces the time source used to stamp new records.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Fail makes every call to op return err until cleared with a nil err.
func (b *Backend) Fail(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, op)
		return
	}
	b.fail[op] = err
}

// Calls reports how many times op reached the backend.
func (b *Backend) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *Backend) enter(op Op) error {
	b.calls[op]++
	return b.fail[op]
}

func (b *Backend) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s%06d", prefix, b.seq)
}

// AddUser registers u, assigning an id when it has none.
func (b *Backend) AddUser(u user.User) user.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.ID == "" {
		u.ID = b.nextID("u")
	}
	u.VerificationTier = user.ParseTier(string(u.VerificationTier))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = b.now()
	}
	b.users = append(b.users, u)
	return u
}

// Accept plays the external party that moves a relationship to accepted.
func (b *Backend) Accept(ownerID, targetID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.contacts {
		if r.OwnerID == ownerID && r.TargetUserID == targetID {
			b.contacts[i].Status = contact.StatusAccepted
			return nil
		}
	}
	return contact.ErrNotFound
}

// Put stores a message verbatim, bypassing validation. Tests use it to seed
// histories with chosen ids and timestamps.
func (b *Backend) Put(msgs ...chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgs...)
}

// Session binds the backend to one logged-in user. An empty id is a
// logged-out session.
func (b *Backend) Session(userID string) *Session {
	return &Session{b: b, self: userID}
}

// publish runs subscriber callbacks outside the lock.
func (b *Backend) publish(ev chat.Event) {
	targets := ev.Targets()
	b.mu.Lock()
	var fns []func(chat.Event)
	for _, s := range b.subs {
		if slices.Contains(targets, s.userID) {
			fns = append(fns, s.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

type Session struct {
	b    *Backend
	self string
}

func (s *Session) Users() user.Source       { return (*userSource)(s) }
func (s *Session) Contacts() contact.Source { return (*contactSource)(s) }
func (s *Session) Messages() chat.Source    { return (*messageSource)(s) }

type userSource Session

func (s *userSource) Me(ctx context.Context) (user.User, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpMe); err != nil {
		return user.User{}, err
	}
	if s.self == "" {
		return user.User{}, user.ErrUnauthenticated
	}
	for _, u := range b.users {
		if u.ID == s.self {
			return u, nil
		}
	}
	return user.User{}, user.ErrUnauthenticated
}

func (s *userSource) List(ctx context.Context) ([]user.User, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpListUsers); err != nil {
		return nil, err
	}
	return slices.Clone(b.users), nil
}

func (s *userSource) UpdateMyUserData(ctx context.Context, upd user.ProfileUpdate) error {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpUpdateUser); err != nil {
		return err
	}
	for i := range b.users {
		if b.users[i].ID != s.self {
			continue
		}
		if upd.FullName != nil {
			b.users[i].FullName = *upd.FullName
		}
		if upd.Bio != nil {
			b.users[i].Bio = *upd.Bio
		}
		if upd.AvatarURL != nil {
			b.users[i].AvatarURL = *upd.AvatarURL
		}
		return nil
	}
	return user.ErrUnauthenticated
}

type contactSource Session

func (s *contactSource) Filter(ctx context.Context, ownerID string) ([]contact.Relationship, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpFilterContacts); err != nil {
		return nil, err
	}
	var out []contact.Relationship
	for _, r := range b.contacts {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *contactSource) Create(ctx context.Context, rel contact.Relationship) (contact.Relationship, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpCreateContact); err != nil {
		return contact.Relationship{}, err
	}
	if rel.OwnerID == rel.TargetUserID {
		return contact.Relationship{}, contact.ErrSelfContact
	}
	for _, r := range b.contacts {
		if r.OwnerID == rel.OwnerID && r.TargetUserID == rel.TargetUserID {
			return contact.Relationship{}, contact.ErrDuplicateContact
		}
	}
	rel.ID = b.nextID("c")
	rel.Status = contact.StatusPending
	rel.CreatedAt = b.now()
	b.contacts = append(b.contacts, rel)
	return rel, nil
}

type messageSource Session

func (s *messageSource) Filter(ctx context.Context, pair chat.Pair) ([]chat.Message, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpFilterMessages); err != nil {
		return nil, err
	}
	var out []chat.Message
	for _, m := range b.messages {
		if pair.Contains(m) {
			out = append(out, m)
		}
	}
	chat.Sort(out)
	return out, nil
}

func (s *messageSource) Create(ctx context.Context, nm chat.NewMessage) (chat.Message, error) {
	b := s.b
	b.mu.Lock()
	if err := b.enter(OpCreateMessage); err != nil {
		b.mu.Unlock()
		return chat.Message{}, err
	}
	if err := nm.Validate(); err != nil {
		b.mu.Unlock()
		return chat.Message{}, err
	}
	if nm.Type == "" {
		nm.Type = chat.TypeText
	}
	msg := chat.Message{
		ID:          b.nextID("m"),
		SenderID:    nm.SenderID,
		RecipientID: nm.RecipientID,
		Content:     nm.Content,
		CreatedAt:   b.now(),
		Type:        nm.Type,
	}
	b.messages = append(b.messages, msg)
	b.mu.Unlock()

	b.publish(chat.Event{Kind: chat.EventMessage, Message: &msg})
	return msg, nil
}

func (s *messageSource) MarkRead(ctx context.Context, readerID string, ids []string) (int, error) {
	b := s.b
	b.mu.Lock()
	if err := b.enter(OpMarkRead); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	bySender := make(map[string][]string)
	n := 0
	for i, m := range b.messages {
		if m.RecipientID != readerID || m.IsRead || !slices.Contains(ids, m.ID) {
			continue
		}
		b.messages[i].IsRead = true
		bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
		n++
	}
	b.mu.Unlock()

	for sender, changed := range bySender {
		b.publish(chat.Event{Kind: chat.EventRead, ReaderID: readerID, PeerID: sender, IDs: changed})
	}
	return n, nil
}

// Subscribe delivers events concerning the session user until ctx ends.
func (s *messageSource) Subscribe(ctx context.Context, fn func(chat.Event)) error {
	b := s.b
	if s.self == "" {
		return user.ErrUnauthenticated
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscriber{userID: s.self, fn: fn}
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	return ctx.Err()
}
