package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

type MessageType string

const TypeText MessageType = "text"

// MaxContentLength bounds a single message body, in bytes.
const MaxContentLength = 5 * 1024

var (
	ErrEmptyContent            = errors.New("chat: message content is empty")
	ErrContentTooLong          = errors.New("chat: message content too long")
	ErrNoActiveConversation    = errors.New("chat: no active conversation")
	ErrConversationFetchFailed = errors.New("chat: conversation fetch failed")
	ErrSendFailed              = errors.New("chat: send failed")
	ErrMarkReadFailed          = errors.New("chat: mark read failed")
	ErrUnknownMessage          = errors.New("chat: message not in conversation")
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_date"`
	IsRead      bool        `json:"is_read"`
	Type        MessageType `json:"message_type"`
}

// NewMessage is what a sender supplies; id and timestamp are assigned remotely.
type NewMessage struct {
	Content     string      `json:"content"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id"`
	Type        MessageType `json:"message_type"`
}

// Validate rejects what must never reach the remote store.
func (m NewMessage) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	if m.RecipientID == "" || m.SenderID == m.RecipientID {
		return ErrNoActiveConversation
	}
	return nil
}

// Pair is the unordered participant pair that identifies a conversation.
// A <= B always holds, so {x,y} and {y,x} compare equal.
type Pair struct {
	A, B string
}

func NewPair(x, y string) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

func (p Pair) Key() string { return p.A + ":" + p.B }

func (p Pair) Contains(m Message) bool {
	return NewPair(m.SenderID, m.RecipientID) == p
}

// Other returns the participant that is not self.
func (p Pair) Other(self string) string {
	if p.A == self {
		return p.B
	}
	return p.A
}

// Compare orders by CreatedAt, then ID. It is the only ordering a
// conversation is ever presented in.
func Compare(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func Sort(msgs []Message) {
	slices.SortStableFunc(msgs, Compare)
}

// ---------------------------------------------
// 🔌 Remote collaborator
// ---------------------------------------------

// Source is the remote message collection.
type Source interface {
	// Filter returns every message exchanged within pair, sorted by created time.
	Filter(ctx context.Context, pair Pair) ([]Message, error)
	Create(ctx context.Context, m NewMessage) (Message, error)
	// MarkRead flips is_read on the given ids that are addressed to readerID
	// and reports how many changed.
	MarkRead(ctx context.Context, readerID string, ids []string) (int, error)
}

// Notifier is implemented by sources that can push events as they happen.
type Notifier interface {
	Subscribe(ctx context.Context, fn func(Event)) error
}

// ---------------------------------------------
// ⚡ Internal Hub Models
// ---------------------------------------------

const (
	EventMessage = "message"
	EventRead    = "read"
)

// Event is the envelope pushed to WebSocket subscribers.
type Event struct {
	Kind     string   `json:"type"`
	Message  *Message `json:"message,omitempty"`
	ReaderID string   `json:"reader_id,omitempty"`
	PeerID   string   `json:"peer_id,omitempty"`
	IDs      []string `json:"ids,omitempty"`
}

// Pair reports which conversation the event belongs to.
func (e Event) Pair() (Pair, bool) {
	switch {
	case e.Kind == EventMessage && e.Message != nil:
		return NewPair(e.Message.SenderID, e.Message.RecipientID), true
	case e.Kind == EventRead && e.ReaderID != "" && e.PeerID != "":
		return NewPair(e.ReaderID, e.PeerID), true
	default:
		return Pair{}, false
	}
}

// Targets lists the users an event must be delivered to.
func (e Event) Targets() []string {
	p, ok := e.Pair()
	if !ok {
		return nil
	}
	if p.A == p.B {
		return []string{p.A}
	}
	return []string{p.A, p.B}
}
