package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamewiki/server/app"
	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/hook"
	"github.com/kasuganosora/gamewiki/server/store/sqlstore"
	"github.com/kasuganosora/gamewiki/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{AdminKey: "k"},
		Cache:     config.CacheConfig{ResponseTTL: time.Minute},
		Security:  config.SecurityConfig{JWTSecret: "s", JWTTTLH: time.Hour},
		Audit:     config.AuditConfig{Retention: time.Hour, PurgeInterval: time.Hour},
		Resources: config.DefaultResources(),
	}
}

func newServer(t *testing.T, cfg *config.Config) *app.Server {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	s, err := app.New(cfg, app.Deps{DB: db, Cache: c, PubSub: ps, Store: sqlstore.New(db)})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestHealth(t *testing.T) {
	s := newServer(t, testConfig())
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRoutesPerResource(t *testing.T) {
	s := newServer(t, testConfig())
	for _, res := range config.DefaultResources() {
		w := httptest.NewRecorder()
		s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/"+res.Name, nil))
		assert.Equal(t, http.StatusOK, w.Code, res.Name)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AllowedOrigins = []string{"https://wiki.example"}
	s := newServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
	req.Header.Set("Origin", "https://wiki.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	assert.Equal(t, "https://wiki.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AdminKey = ""
	s := newServer(t, cfg)
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestImagesDisabledWithoutUpstream(t *testing.T) {
	s := newServer(t, testConfig())
	assert.Nil(t, s.Images)
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/images/champions/a.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHooksAndTasksRegistered(t *testing.T) {
	s := newServer(t, testConfig())
	assert.Equal(t, []string{"content"}, s.Hooks.Names(hook.BeforeEntitySave))
	assert.Equal(t, []string{"response_cache", "sse", "audit"}, s.Hooks.Names(hook.AfterEntitySave))
	assert.Equal(t, []string{"audit_retention"}, s.Sched.ListTickers())
}

func TestImageSweepTaskWithUpstream(t *testing.T) {
	cfg := testConfig()
	cfg.Images = config.ImagesConfig{Upstream: "http://assets.invalid", SweepInterval: time.Minute}
	s := newServer(t, cfg)
	require.NotNil(t, s.Images)
	assert.Contains(t, s.Sched.ListTickers(), "image_cache_sweep")
}

func TestOpenStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testConfig()
	st, err := app.OpenStore(context.Background(), cfg, db)
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, st)

	cfg.Store.Backend = "etcd"
	_, err = app.OpenStore(context.Background(), cfg, db)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "etcd"))
}
