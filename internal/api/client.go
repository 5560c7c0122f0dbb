// Package api is the client side of the REST and WebSocket surface served by
// cmd/server. A Client implements the user, contact and message sources the
// session layer consumes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"boomfare/internal/chat"
	"boomfare/internal/contact"
	"boomfare/internal/user"
)

// HTTPError is a non-2xx answer. 401s unwrap to user.ErrUnauthenticated.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return user.ErrUnauthenticated
	}
	return nil
}

func statusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
	self  string
}

func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		log:     log.With().Str("component", "api").Logger(),
	}
}

// SetToken installs a previously issued access token for userID.
func (c *Client) SetToken(token, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.self = userID
}

func (c *Client) credentials() (token, self string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.self
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, _ := c.credentials(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var eb struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return &HTTPError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Register(ctx context.Context, username, password, fullName string) (user.User, error) {
	var u user.User
	err := c.call(ctx, http.MethodPost, "/register", nil,
		user.RegisterRequest{Username: username, Password: password, FullName: fullName}, &u)
	if statusOf(err) == http.StatusConflict {
		return user.User{}, user.ErrUsernameTaken
	}
	return u, err
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (user.LoginResponse, error) {
	var res user.LoginResponse
	err := c.call(ctx, http.MethodPost, "/login", nil,
		user.RegisterRequest{Username: username, Password: password}, &res)
	if err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			return res, user.ErrInvalidCredentials
		}
		return res, err
	}
	c.SetToken(res.AccessToken, res.ID)
	c.log.Debug().Str("user", res.Username).Msg("logged in")
	return res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, http.MethodPost, "/api/logout", nil, nil, nil)
	c.SetToken("", "")
	return err
}

// SearchUsers runs the server-side search, which is capped at ten results.
func (c *Client) SearchUsers(ctx context.Context, term string) ([]user.User, error) {
	var out []user.User
	err := c.call(ctx, http.MethodGet, "/api/users/search", url.Values{"q": {term}}, nil, &out)
	return out, err
}

func (c *Client) AcceptContact(ctx context.Context, relationshipID string) (contact.Relationship, error) {
	var rel contact.Relationship
	err := c.call(ctx, http.MethodPost, "/api/contacts/"+url.PathEscape(relationshipID)+"/accept", nil, nil, &rel)
	if statusOf(err) == http.StatusNotFound {
		return rel, contact.ErrNotFound
	}
	return rel, err
}

func (c *Client) Users() user.Source       { return (*users)(c) }
func (c *Client) Contacts() contact.Source { return (*contacts)(c) }
func (c *Client) Messages() chat.Source    { return (*messages)(c) }

type users Client

func (s *users) Me(ctx context.Context) (user.User, error) {
	var u user.User
	err := (*Client)(s).call(ctx, http.MethodGet, "/api/users/me", nil, nil, &u)
	return u, err
}

func (s *users) List(ctx context.Context) ([]user.User, error) {
	var out []user.User
	err := (*Client)(s).call(ctx, http.MethodGet, "/api/users", nil, nil, &out)
	return out, err
}

func (s *users) UpdateMyUserData(ctx context.Context, upd user.ProfileUpdate) error {
	return (*Client)(s).call(ctx, http.MethodPatch, "/api/users/me", nil, upd, nil)
}

type contacts Client

func (s *contacts) Filter(ctx context.Context, ownerID string) ([]contact.Relationship, error) {
	c := (*Client)(s)
	if _, self := c.credentials(); self == "" || self != ownerID {
		return nil, user.ErrUnauthenticated
	}
	var out []contact.Relationship
	err := c.call(ctx, http.MethodGet, "/api/contacts", nil, nil, &out)
	return out, err
}

func (s *contacts) Create(ctx context.Context, rel contact.Relationship) (contact.Relationship, error) {
	if rel.OwnerID == rel.TargetUserID {
		return contact.Relationship{}, contact.ErrSelfContact
	}
	var out contact.Relationship
	err := (*Client)(s).call(ctx, http.MethodPost, "/api/contacts", nil,
		map[string]string{"contact_user_id": rel.TargetUserID}, &out)
	if statusOf(err) == http.StatusConflict {
		return contact.Relationship{}, contact.ErrDuplicateContact
	}
	return out, err
}

type messages Client

var _ chat.Notifier = (*messages)(nil)

func (s *messages) Filter(ctx context.Context, pair chat.Pair) ([]chat.Message, error) {
	c := (*Client)(s)
	_, self := c.credentials()
	if self == "" || (pair.A != self && pair.B != self) {
		return nil, user.ErrUnauthenticated
	}
	var out []chat.Message
	err := c.call(ctx, http.MethodGet, "/api/messages", url.Values{"with": {pair.Other(self)}}, nil, &out)
	return out, err
}

func (s *messages) Create(ctx context.Context, m chat.NewMessage) (chat.Message, error) {
	var out chat.Message
	err := (*Client)(s).call(ctx, http.MethodPost, "/api/messages", nil, map[string]any{
		"recipient_id": m.RecipientID,
		"content":      m.Content,
		"message_type": m.Type,
	}, &out)
	return out, err
}

func (s *messages) MarkRead(ctx context.Context, readerID string, ids []string) (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	err := (*Client)(s).call(ctx, http.MethodPost, "/api/messages/read", nil, map[string][]string{"ids": ids}, &out)
	return out.Updated, err
}

// Subscribe holds a WebSocket open and hands every pushed event to fn until
// ctx ends or the connection drops.
func (s *messages) Subscribe(ctx context.Context, fn func(chat.Event)) error {
	c := (*Client)(s)
	token, _ := c.credentials()
	if token == "" {
		return user.ErrUnauthenticated
	}
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return user.ErrUnauthenticated
		}
		return fmt.Errorf("api: dial push channel: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.log.Debug().Msg("push channel open")
	for {
		var ev chat.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("api: push channel: %w", err)
		}
		fn(ev)
	}
}
