package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"boomfare/internal/httputil"
	myMiddleware "boomfare/internal/middleware"
	"boomfare/internal/user"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// MessageStore is the persistence the handlers need. MarkReadBySender groups
// the ids it changed by sender so receipts reach the right peer.
type MessageStore interface {
	Source
	MarkReadBySender(ctx context.Context, readerID string, ids []string) (map[string][]string, error)
}

var _ MessageStore = (*Repository)(nil)

type Handler struct {
	hub  *Hub
	repo MessageStore
	log  zerolog.Logger
}

func NewHandler(hub *Hub, repo MessageStore, log zerolog.Logger) *Handler {
	return &Handler{
		hub:  hub,
		repo: repo,
		log:  log.With().Str("component", "chat.handler").Logger(),
	}
}

type sendRequest struct {
	RecipientID string      `json:"recipient_id"`
	Content     string      `json:"content"`
	Type        MessageType `json:"message_type"`
}

type readRequest struct {
	IDs []string `json:"ids"`
}

type readResponse struct {
	Updated int `json:"updated"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrContentTooLong), errors.Is(err, ErrNoActiveConversation):
		return http.StatusBadRequest
	case errors.Is(err, user.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GetConversation returns the full history between the caller and ?with=.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) error {
	self, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, user.ErrUnauthenticated)
	}
	other := r.URL.Query().Get("with")
	if other == "" {
		return httputil.Fail(http.StatusBadRequest, ErrNoActiveConversation)
	}

	msgs, err := h.repo.Filter(r.Context(), NewPair(self, other))
	if err != nil {
		return err
	}
	return httputil.WriteJSON(w, http.StatusOK, msgs)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) error {
	self, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, user.ErrUnauthenticated)
	}
	var req sendRequest
	if err := httputil.Decode(r, &req); err != nil {
		return err
	}

	msg, err := h.repo.Create(r.Context(), NewMessage{
		Content:     req.Content,
		SenderID:    self,
		RecipientID: req.RecipientID,
		Type:        req.Type,
	})
	if err != nil {
		return httputil.Fail(statusFor(err), err)
	}

	h.hub.Notify(Event{Kind: EventMessage, Message: &msg})
	return httputil.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) error {
	self, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		return httputil.Fail(http.StatusUnauthorized, user.ErrUnauthenticated)
	}
	var req readRequest
	if err := httputil.Decode(r, &req); err != nil {
		return err
	}

	bySender, err := h.repo.MarkReadBySender(r.Context(), self, req.IDs)
	if err != nil {
		return err
	}

	n := 0
	for sender, ids := range bySender {
		n += len(ids)
		h.hub.Notify(Event{Kind: EventRead, ReaderID: self, PeerID: sender, IDs: ids})
	}
	return httputil.WriteJSON(w, http.StatusOK, readResponse{Updated: n})
}

// ServeWs upgrades the caller to a push connection scoped to their own events.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	client := &Client{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		UserID: userID,
		log:    h.log,
	}
	if !h.hub.register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
