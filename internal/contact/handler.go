package contact

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"boomfare/internal/httputil"
	myMiddleware "boomfare/internal/middleware"
	"boomfare/internal/user"
)

// Store is the persistence the handlers need. Accept only succeeds for the
// target of the relationship.
type Store interface {
	Source
	Accept(ctx context.Context, id, targetID string) (Relationship, error)
}

var _ Store = (*Repository)(nil)

type Handler struct {
	repo Store
}

func NewHandler(repo Store) *Handler {
	return &Handler{repo: repo}
}

type addRequest struct {
	ContactUserID string `json:"contact_user_id"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) error {
	self, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, user.ErrUnauthenticated)
	}
	rels, err := h.repo.Filter(r.Context(), self)
	if err != nil {
		return err
	}
	return httputil.WriteJSON(w, http.StatusOK, rels)
}

// Add answers 409 on an existing pair; clients decide whether that is fine.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) error {
	self, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, user.ErrUnauthenticated)
	}
	var req addRequest
	if err := httputil.Decode(r, &req); err != nil {
		return err
	}
	if req.ContactUserID == "" {
		return httputil.Fail(http.StatusBadRequest, user.ErrNotFound)
	}

	rel, err := h.repo.Create(r.Context(), Relationship{OwnerID: self, TargetUserID: req.ContactUserID})
	switch {
	case errors.Is(err, ErrDuplicateContact):
		return httputil.Fail(http.StatusConflict, err)
	case errors.Is(err, ErrSelfContact):
		return httputil.Fail(http.StatusBadRequest, err)
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(http.StatusNotFound, err)
	case err != nil:
		return err
	}
	return httputil.WriteJSON(w, http.StatusCreated, rel)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) error {
	self, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, user.ErrUnauthenticated)
	}
	rel, err := h.repo.Accept(r.Context(), chi.URLParam(r, "id"), self)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return httputil.Fail(http.StatusNotFound, err)
		}
		return err
	}
	return httputil.WriteJSON(w, http.StatusOK, rel)
}
