package user

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnauthenticated      = errors.New("user: not logged in")
	ErrDirectoryUnavailable = errors.New("user: directory unavailable")
	ErrNotFound             = errors.New("user: not found")
)

// Source is the remote user collection as seen by one logged-in session.
type Source interface {
	Me(ctx context.Context) (User, error)
	List(ctx context.Context) ([]User, error)
	UpdateMyUserData(ctx context.Context, upd ProfileUpdate) error
}

// Directory is a read-only, session-scoped snapshot of the known users.
// It keeps the order the remote returned.
type Directory struct {
	src Source

	mu    sync.RWMutex
	users []User
	index map[string]int
}

func NewDirectory(src Source) *Directory {
	return &Directory{src: src, index: make(map[string]int)}
}

// CurrentUser resolves "self". ErrUnauthenticated passes through untouched,
// any other failure is reported as ErrDirectoryUnavailable.
func (d *Directory) CurrentUser(ctx context.Context) (User, error) {
	u, err := d.src.Me(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return User{}, err
		}
		return User{}, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if u.ID == "" {
		return User{}, ErrUnauthenticated
	}
	return u, nil
}

// ListUsers fetches the directory and replaces the cached snapshot.
// On failure the previous snapshot is kept.
func (d *Directory) ListUsers(ctx context.Context) ([]User, error) {
	users, err := d.src.List(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	index := make(map[string]int, len(users))
	for i, u := range users {
		index[u.ID] = i
	}

	d.mu.Lock()
	d.users = users
	d.index = index
	d.mu.Unlock()

	return d.Users(), nil
}

// Users returns a copy of the last fetched snapshot.
func (d *Directory) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, len(d.users))
	copy(out, d.users)
	return out
}

func (d *Directory) Lookup(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[id]
	if !ok {
		return User{}, false
	}
	return d.users[i], true
}

// Search filters the snapshot by term, leaving out excludeID (usually self).
func (d *Directory) Search(term, excludeID string) []User {
	var out []User
	for _, u := range d.Users() {
		if u.ID == excludeID || !Matches(u, term) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// UpdateProfile forwards a self-edit and refreshes the snapshot so the change is visible.
func (d *Directory) UpdateProfile(ctx context.Context, upd ProfileUpdate) error {
	if err := d.src.UpdateMyUserData(ctx, upd); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	_, err := d.ListUsers(ctx)
	return err
}
