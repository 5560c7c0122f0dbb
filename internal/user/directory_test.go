package user

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	me      User
	meErr   error
	users   []User
	listErr error
	updates []ProfileUpdate
}

func (f *fakeSource) Me(context.Context) (User, error) { return f.me, f.meErr }

func (f *fakeSource) List(context.Context) ([]User, error) { return f.users, f.listErr }

func (f *fakeSource) UpdateMyUserData(_ context.Context, upd ProfileUpdate) error {
	f.updates = append(f.updates, upd)
	if upd.Bio != nil {
		for i := range f.users {
			if f.users[i].ID == f.me.ID {
				f.users[i].Bio = *upd.Bio
			}
		}
	}
	return nil
}

func TestCurrentUser(t *testing.T) {
	src := &fakeSource{meErr: ErrUnauthenticated}
	d := NewDirectory(src)

	_, err := d.CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)

	src.meErr = errors.New("connection refused")
	_, err = d.CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrDirectoryUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	src.meErr = nil
	_, err = d.CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated, "empty id means no session")

	src.me = User{ID: "a", Username: "alice"}
	me, err := d.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
}

func TestListUsersKeepsRemoteOrderAndLastGoodSnapshot(t *testing.T) {
	src := &fakeSource{users: []User{{ID: "c", Username: "carol"}, {ID: "a", Username: "alice"}, {ID: "b", Username: "bob"}}}
	d := NewDirectory(src)

	users, err := d.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{users[0].ID, users[1].ID, users[2].ID})

	src.listErr = errors.New("503")
	_, err = d.ListUsers(context.Background())
	require.ErrorIs(t, err, ErrDirectoryUnavailable)
	assert.Len(t, d.Users(), 3)

	u, ok := d.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "alice", u.Username)
	_, ok = d.Lookup("zed")
	assert.False(t, ok)
}

func TestSearchExcludesSelf(t *testing.T) {
	src := &fakeSource{users: []User{{ID: "a", Username: "alice"}, {ID: "b", Username: "albert"}, {ID: "c", Username: "carol"}}}
	d := NewDirectory(src)
	_, err := d.ListUsers(context.Background())
	require.NoError(t, err)

	got := d.Search("al", "a")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestUpdateProfileRefreshes(t *testing.T) {
	src := &fakeSource{me: User{ID: "a"}, users: []User{{ID: "a", Username: "alice"}}}
	d := NewDirectory(src)

	bio := "hello there"
	require.NoError(t, d.UpdateProfile(context.Background(), ProfileUpdate{Bio: &bio}))
	require.Len(t, src.updates, 1)

	u, ok := d.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "hello there", u.Bio)
}
