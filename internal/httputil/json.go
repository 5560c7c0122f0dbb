package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// StatusError carries the HTTP status a handler failure should map to.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

func Fail(status int, err error) error {
	return &StatusError{Status: status, Err: err}
}

// JSONHandler wraps handlers that return error
type JSONHandler func(http.ResponseWriter, *http.Request) error

func (h JSONHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h(w, r); err != nil {
		status := http.StatusInternalServerError
		var se *StatusError
		if errors.As(err, &se) {
			status = se.Status
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(ErrorBody{Error: err.Error()})
	}
}

type ErrorBody struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// Decode reads a JSON body, reporting malformed input as 400.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return Fail(http.StatusBadRequest, err)
	}
	return nil
}
