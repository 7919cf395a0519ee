package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/gamewiki/server/api/rest"
	"github.com/kasuganosora/gamewiki/server/app"
	"github.com/kasuganosora/gamewiki/server/cache"
	"github.com/kasuganosora/gamewiki/server/client"
	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/model"
	"github.com/kasuganosora/gamewiki/server/store/sqlstore"
	"github.com/kasuganosora/gamewiki/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminKey is the X-Admin-Key of every test server.
const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with every wiki subsystem wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Store  *sqlstore.Store
	App    *app.Server
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	Cfg    *config.Config
}

// NewTestServer creates a fully wired wiki server for integration testing.
// It mirrors the dependency wiring in main.go. Cleanup is registered on t.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	apirest.BcryptCost = bcrypt.MinCost

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	st := sqlstore.New(db)

	cfg := &config.Config{
		Server: config.ServerConfig{AdminKey: AdminKey},
		Cache:  config.CacheConfig{ResponseTTL: time.Minute},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        72 * time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
			AllowedOrigins: []string{}, // allow all origins
		},
		Resources: config.DefaultResources(),
	}

	srv, err := app.New(cfg, app.Deps{DB: db, Cache: c, PubSub: pubsub, Store: st, Logger: zap.NewNop()})
	require.NoError(t, err)

	server := httptest.NewServer(srv.Handler)
	ts := &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Store:  st,
		App:    srv,
		Server: server,
		URL:    server.URL,
		Cfg:    cfg,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the HTTP server and the background workers.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.App.Close()
}

// Client returns an API client for the server carrying the admin key.
func (ts *TestServer) Client() *client.Client {
	return client.New(ts.URL, client.WithAdminKey(AdminKey))
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// CreateAccount inserts an active editor account directly.
func (ts *TestServer) CreateAccount(t *testing.T, username, password string) *model.Account {
	t.Helper()
	hash, err := apirest.HashPassword(password)
	require.NoError(t, err)
	acc := &model.Account{Username: username, PasswordHash: hash, Role: model.RoleEditor, Status: model.StatusActive}
	require.NoError(t, ts.DB.Create(acc).Error)
	return acc
}

// Login logs in and returns the token and account ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, accountID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	token = result["token"].(string)
	accountID = int64(result["account_id"].(float64))
	return
}

// Editor creates a fresh account and returns its token.
func (ts *TestServer) Editor(t *testing.T) string {
	t.Helper()
	name := UniqueID("ed")
	ts.CreateAccount(t, name, name+"pass")
	token, _ := ts.Login(t, name, name+"pass")
	return token
}

// UniqueID returns a short unique string suitable for usernames and codes.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
