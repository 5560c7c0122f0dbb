package contact

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"boomfare/internal/user"
)

// Policy decides whether messaging requires a relationship.
type Policy struct {
	// RequireContact limits CanMessage to users self has added. Off by
	// default: any listed user can be messaged.
	RequireContact bool
}

// Graph is self's view of its outgoing relationships.
type Graph struct {
	src    Source
	dir    *user.Directory
	selfID string
	policy Policy
	log    zerolog.Logger

	mu   sync.RWMutex
	rels map[string]Relationship // by target user id
}

func NewGraph(src Source, dir *user.Directory, selfID string, policy Policy, log zerolog.Logger) *Graph {
	return &Graph{
		src:    src,
		dir:    dir,
		selfID: selfID,
		policy: policy,
		log:    log.With().Str("component", "contact.graph").Logger(),
		rels:   make(map[string]Relationship),
	}
}

// Refresh re-fetches self's relationships. On failure the cached set stays.
func (g *Graph) Refresh(ctx context.Context) error {
	if g.selfID == "" {
		return user.ErrUnauthenticated
	}
	list, err := g.src.Filter(ctx, g.selfID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContactFetchFailed, err)
	}

	rels := make(map[string]Relationship, len(list))
	for _, r := range list {
		if r.OwnerID != g.selfID {
			continue
		}
		// keep the first record if the remote ever returns two for one target
		if _, ok := rels[r.TargetUserID]; !ok {
			rels[r.TargetUserID] = r
		}
	}

	g.mu.Lock()
	g.rels = rels
	g.mu.Unlock()
	return nil
}

// AddContact creates a pending relationship to target. Adding an existing
// contact is accepted and returns the stored record, so at most one
// relationship per pair ever exists. The graph is re-fetched after the write.
func (g *Graph) AddContact(ctx context.Context, targetID string) (Relationship, error) {
	if g.selfID == "" {
		return Relationship{}, user.ErrUnauthenticated
	}
	if targetID == g.selfID {
		return Relationship{}, ErrSelfContact
	}
	if targetID == "" {
		return Relationship{}, user.ErrNotFound
	}
	if rel, ok := g.Relationship(targetID); ok {
		return rel, nil
	}

	rel, err := g.src.Create(ctx, Relationship{OwnerID: g.selfID, TargetUserID: targetID, Status: StatusPending})
	if err != nil && !errors.Is(err, ErrDuplicateContact) {
		return Relationship{}, err
	}
	created := err == nil

	if err := g.Refresh(ctx); err != nil {
		if !created {
			return Relationship{}, err
		}
		g.log.Warn().Err(err).Str("target", targetID).Msg("refresh after add failed")
		g.mu.Lock()
		g.rels[targetID] = rel
		g.mu.Unlock()
		return rel, nil
	}

	stored, ok := g.Relationship(targetID)
	if !ok {
		if !created {
			return Relationship{}, ErrNotFound
		}
		// remote has not caught up; trust the confirmed write
		g.mu.Lock()
		g.rels[targetID] = rel
		g.mu.Unlock()
		return rel, nil
	}
	return stored, nil
}

// IsContact is true for pending and accepted relationships alike.
func (g *Graph) IsContact(userID string) bool {
	_, ok := g.Relationship(userID)
	return ok
}

func (g *Graph) Relationship(userID string) (Relationship, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rels[userID]
	return r, ok
}

// Relationships returns the cached records, oldest first.
func (g *Graph) Relationships() []Relationship {
	g.mu.RLock()
	out := make([]Relationship, 0, len(g.rels))
	for _, r := range g.rels {
		out = append(out, r)
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b Relationship) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// ListContacts returns directory users other than self, in directory order,
// narrowed by filter and an optional search term.
func (g *Graph) ListContacts(filter Filter, term string) []User {
	var out []User
	for _, u := range g.dir.Search(term, g.selfID) {
		if filter == FilterVerifiedOnly && !u.VerificationTier.Verified() {
			continue
		}
		out = append(out, User{User: u, Added: g.IsContact(u.ID)})
	}
	return out
}

// CanMessage applies the messaging policy to a known user.
func (g *Graph) CanMessage(userID string) bool {
	if userID == "" || userID == g.selfID {
		return false
	}
	if _, ok := g.dir.Lookup(userID); !ok {
		return false
	}
	if g.policy.RequireContact {
		return g.IsContact(userID)
	}
	return true
}

// User is a directory entry annotated with whether self already added it.
type User struct {
	user.User
	Added bool `json:"added"`
}
