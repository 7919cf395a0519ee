// Package client talks to the wiki REST API.
package client

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
	"time"

	"github.com/kasuganosora/gamewiki/server/entity"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every non-streaming request.
const DefaultTimeout = 15 * time.Second

// ErrTransport wraps failures to reach the server or read its reply.
var ErrTransport = errors.New("client: transport error")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: server returned %d", e.Status)
	}
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

// ServerMessage is the message the server put in the error body.
func (e *APIError) ServerMessage() string { return e.Message }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// Client is safe for concurrent use.
type Client struct {
	base     string
	http     *http.Client
	stream   *http.Client
	adminKey string
	logger   *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for ordinary requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// WithAdminKey sets the X-Admin-Key sent on admin calls.
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = key }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: DefaultTimeout},
		stream: &http.Client{},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string { return c.base }

type request struct {
	method   string
	path     string
	token    string
	adminKey bool
	body     interface{}
}

func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.adminKey {
		req.Header.Set("X-Admin-Key", c.adminKey)
	}
	return req, nil
}

// do sends r and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, r.method, r.path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTransport, r.path, err)
	}
	c.logger.Debug("api call",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, b)
	}
	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransport, r.path, err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	ae := &APIError{Status: status}
	if json.Unmarshal(body, &payload) == nil {
		ae.Message = payload.Message
		if ae.Message == "" {
			ae.Message = payload.Error
		}
	}
	return ae
}

func resourcePath(resource string, id ...string) string {
	p := "/api/" + url.PathEscape(resource)
	for _, s := range id {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// List returns every entity of resource in server order.
func (c *Client) List(ctx context.Context, resource string) ([]entity.Entity, error) {
	var out []entity.Entity
	if err := c.do(ctx, request{method: http.MethodGet, path: resourcePath(resource)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one entity by code.
func (c *Client) Get(ctx context.Context, resource, id string) (entity.Entity, error) {
	var out entity.Entity
	if err := c.do(ctx, request{method: http.MethodGet, path: resourcePath(resource, id)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type messageResponse struct {
	Message string        `json:"message"`
	Entity  entity.Entity `json:"entity,omitempty"`
}

// Upsert stores e, creating or replacing by its id field. It returns the
// server's confirmation message.
func (c *Client) Upsert(ctx context.Context, resource, token string, e entity.Entity) (string, error) {
	var out messageResponse
	err := c.do(ctx, request{method: http.MethodPut, path: resourcePath(resource), token: token, body: e}, &out)
	return out.Message, err
}

// Delete removes the entity with code id.
func (c *Client) Delete(ctx context.Context, resource, id, token string) (string, error) {
	var out messageResponse
	err := c.do(ctx, request{method: http.MethodDelete, path: resourcePath(resource, id), token: token}, &out)
	return out.Message, err
}

// Session is a successful login.
type Session struct {
	Token     string `json:"token"`
	AccountID int64  `json:"account_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var out Session
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/login", body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/logout", token: token}, nil)
}

// Refresh exchanges token for a new one; the old token stops working.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/refresh", token: token}, &out)
	return out.Token, err
}

// Account is the admin view of an editor account.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Status   int    `json:"status"`
}

// CreateAccount registers an account. It needs the admin key.
func (c *Client) CreateAccount(ctx context.Context, username, password, role string) (*Account, error) {
	body := map[string]string{"username": username, "password": password}
	if role != "" {
		body["role"] = role
	}
	var out Account
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/admin/accounts", adminKey: true, body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableAccount blocks an account and ends its sessions.
func (c *Client) DisableAccount(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/admin/accounts/%d/disable", id)
	return c.do(ctx, request{method: http.MethodPost, path: path, adminKey: true}, nil)
}

// Metrics returns the admin metrics document as decoded JSON.
func (c *Client) Metrics(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/admin/metrics", adminKey: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
