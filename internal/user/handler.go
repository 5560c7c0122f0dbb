package user

import (
	"errors"
	"net/http"

	"boomfare/internal/httputil"
	myMiddleware "boomfare/internal/middleware"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := httputil.Decode(r, &req); err != nil {
		return err
	}

	u, err := h.Service.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return httputil.Fail(http.StatusBadRequest, err)
	case errors.Is(err, ErrUsernameTaken):
		return httputil.Fail(http.StatusConflict, err)
	case err != nil:
		return err
	}

	return httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := httputil.Decode(r, &req); err != nil {
		return err
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return httputil.Fail(http.StatusUnauthorized, err)
		}
		return err
	}

	return httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) error {
	id, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, ErrUnauthenticated)
	}
	if err := h.Service.SetPresence(r.Context(), id, false); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) error {
	id, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, ErrUnauthenticated)
	}
	u, err := h.Service.Me(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// token outlived its account
			return httputil.Fail(http.StatusUnauthorized, ErrUnauthenticated)
		}
		return err
	}
	return httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) error {
	id, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, ErrUnauthenticated)
	}
	var upd ProfileUpdate
	if err := httputil.Decode(r, &upd); err != nil {
		return err
	}
	if err := h.Service.UpdateProfile(r.Context(), id, upd); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := h.Service.List(r.Context())
	if err != nil {
		return err
	}
	return httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		return err
	}
	return httputil.WriteJSON(w, http.StatusOK, users)
}
