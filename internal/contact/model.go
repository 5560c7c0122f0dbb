package contact

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

var (
	ErrDuplicateContact   = errors.New("contact: relationship already exists")
	ErrSelfContact        = errors.New("contact: cannot add yourself")
	ErrContactFetchFailed = errors.New("contact: fetch failed")
	ErrNotFound           = errors.New("contact: relationship not found")
)

// Relationship is directional: owner added target. It says nothing about the reverse.
type Relationship struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"user_id"`
	TargetUserID string    `json:"contact_user_id"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter selects which users ListContacts shows.
type Filter int

const (
	FilterAll Filter = iota
	FilterVerifiedOnly
)

func ParseFilter(s string) Filter {
	if s == "verified" {
		return FilterVerifiedOnly
	}
	return FilterAll
}

func (f Filter) String() string {
	if f == FilterVerifiedOnly {
		return "verified"
	}
	return "all"
}

// Source is the remote relationship collection.
type Source interface {
	Filter(ctx context.Context, ownerID string) ([]Relationship, error)
	// Create fails with ErrDuplicateContact when (owner, target) already exists.
	Create(ctx context.Context, rel Relationship) (Relationship, error)
}
