package contact_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boomfare/internal/contact"
	"boomfare/internal/httputil"
	myMiddleware "boomfare/internal/middleware"
	"boomfare/internal/user"
)

// memRelationships mirrors the contacts table: unique (owner, target) and a
// target that must exist.
type memRelationships struct {
	mu    sync.Mutex
	users map[string]bool
	rels  []contact.Relationship
}

func (m *memRelationships) Filter(ctx context.Context, ownerID string) ([]contact.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []contact.Relationship{}
	for _, r := range m.rels {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRelationships) Create(ctx context.Context, rel contact.Relationship) (contact.Relationship, error) {
	if rel.OwnerID == rel.TargetUserID {
		return contact.Relationship{}, contact.ErrSelfContact
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.users[rel.TargetUserID] {
		return contact.Relationship{}, fmt.Errorf("%w: %s", user.ErrNotFound, rel.TargetUserID)
	}
	for _, r := range m.rels {
		if r.OwnerID == rel.OwnerID && r.TargetUserID == rel.TargetUserID {
			return contact.Relationship{}, contact.ErrDuplicateContact
		}
	}
	rel.ID = fmt.Sprintf("r%d", len(m.rels)+1)
	rel.Status = contact.StatusPending
	m.rels = append(m.rels, rel)
	return rel, nil
}

func (m *memRelationships) Accept(ctx context.Context, id, targetID string) (contact.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rels {
		if r.ID == id && r.TargetUserID == targetID {
			m.rels[i].Status = contact.StatusAccepted
			return m.rels[i], nil
		}
	}
	return contact.Relationship{}, contact.ErrNotFound
}

type tokenIsUserID struct{}

func (tokenIsUserID) ValidateToken(token string) (string, string, error) {
	return token, token, nil
}

func newContactServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := contact.NewHandler(&memRelationships{users: map[string]bool{"alice": true, "bob": true}})

	r := chi.NewRouter()
	r.Use(myMiddleware.NewAuthMiddleware(tokenIsUserID{}).Handle)
	r.Method(http.MethodGet, "/api/contacts", httputil.JSONHandler(h.List))
	r.Method(http.MethodPost, "/api/contacts", httputil.JSONHandler(h.Add))
	r.Method(http.MethodPost, "/api/contacts/{id}/accept", httputil.JSONHandler(h.Accept))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, caller, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+caller)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil && res.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestAddContactStatus(t *testing.T) {
	srv := newContactServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"added", `{"contact_user_id":"bob"}`, http.StatusCreated},
		{"again", `{"contact_user_id":"bob"}`, http.StatusConflict},
		{"self", `{"contact_user_id":"alice"}`, http.StatusBadRequest},
		{"unknown user", `{"contact_user_id":"ghost"}`, http.StatusNotFound},
		{"missing id", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(t, srv, http.MethodPost, "/api/contacts", "alice", tt.body, nil))
		})
	}

	var rels []contact.Relationship
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/contacts", "alice", "", &rels))
	require.Len(t, rels, 1)
	assert.Equal(t, "bob", rels[0].TargetUserID)
	assert.Equal(t, contact.StatusPending, rels[0].Status)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/contacts", "bob", "", &rels))
	assert.Empty(t, rels, "relationships are directional")
}

func TestOnlyTargetCanAccept(t *testing.T) {
	srv := newContactServer(t)
	var rel contact.Relationship
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/contacts", "alice", `{"contact_user_id":"bob"}`, &rel))

	path := "/api/contacts/" + rel.ID + "/accept"
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, path, "alice", "", nil))
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, "/api/contacts/r99/accept", "bob", "", nil))

	var accepted contact.Relationship
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, path, "bob", "", &accepted))
	assert.Equal(t, contact.StatusAccepted, accepted.Status)
	assert.Equal(t, "alice", accepted.OwnerID)
}
