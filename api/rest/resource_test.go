package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamewiki/server/api/rest"
	"github.com/kasuganosora/gamewiki/server/cache"
	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/content"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/kasuganosora/gamewiki/server/hook"
	mw "github.com/kasuganosora/gamewiki/server/middleware"
	"github.com/kasuganosora/gamewiki/server/store/sqlstore"
	"github.com/kasuganosora/gamewiki/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testResources = []config.ResourceConfig{
	{Name: "items", IDField: "itemCode"},
	{Name: "guides", IDField: "guideId"},
}

type resourceEnv struct {
	r     *gin.Engine
	st    *sqlstore.Store
	hooks *hook.HookCenter
	rc    *cache.ResponseCache
	token string
}

func newResourceRouter(t *testing.T) *resourceEnv {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	st := sqlstore.New(db)
	hooks := hook.NewHookCenter()
	rc := cache.NewResponseCache(c, time.Minute)
	hooks.Register(hook.AfterEntitySave, 0, "invalidate", rest.InvalidateHook(rc))
	hooks.Register(hook.AfterEntityDelete, 0, "invalidate", rest.InvalidateHook(rc))

	auth := rest.NewAuthHandler(db, c, testSec, nil, nil)
	h := rest.NewResourceHandler(st, hooks, rc, nil, testResources)

	r := gin.New()
	r.Use(mw.TraceID())
	r.POST("/api/auth/login", auth.Login)
	h.Register(r.Group("/api"), mw.Auth(testSec, c))

	createAccount(t, db, "editor", "pass1234")
	token := login(t, r, "editor", "pass1234")
	return &resourceEnv{r: r, st: st, hooks: hooks, rc: rc, token: token}
}

func (env *resourceEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPut || method == http.MethodDelete {
		req.Header.Set("Authorization", "Bearer "+env.token)
	}
	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, req)
	return w
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []entity.Entity {
	t.Helper()
	var out []entity.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestResourceList_EmptyIsArray(t *testing.T) {
	env := newResourceRouter(t)
	w := env.do(http.MethodGet, "/api/items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
}

func TestResourceUpsertAndRead(t *testing.T) {
	env := newResourceRouter(t)

	w := env.do(http.MethodPut, "/api/items", map[string]interface{}{
		"itemCode": "I1", "name": "Sword", "isNew": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Message string        `json:"message"`
		Entity  entity.Entity `json:"entity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Message)
	assert.NotContains(t, resp.Entity, entity.NewMarker)

	stored, err := env.st.Get(context.Background(), "items", "I1")
	require.NoError(t, err)
	assert.NotContains(t, stored, entity.NewMarker)
	assert.Equal(t, "Sword", stored["name"])

	w = env.do(http.MethodGet, "/api/items/I1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"itemCode":"I1","name":"Sword"}`, w.Body.String())

	list := decodeList(t, env.do(http.MethodGet, "/api/items", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "I1", list[0].Key("itemCode"))
}

func TestResourceUpsertReplacesWholeEntity(t *testing.T) {
	env := newResourceRouter(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/items", map[string]interface{}{
		"itemCode": "I1", "name": "Sword", "rarity": "rare",
	}).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/items", map[string]interface{}{
		"itemCode": "I1", "name": "Blade",
	}).Code)

	list := decodeList(t, env.do(http.MethodGet, "/api/items", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "Blade", list[0]["name"])
	assert.NotContains(t, list[0], "rarity")
}

func TestResourceListCacheInvalidatedOnWrite(t *testing.T) {
	env := newResourceRouter(t)

	w := env.do(http.MethodGet, "/api/items", nil)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	w = env.do(http.MethodGet, "/api/items", nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/items", map[string]interface{}{"itemCode": "I2"}).Code)

	w = env.do(http.MethodGet, "/api/items", nil)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Len(t, decodeList(t, w), 1)
}

func TestResourceUpsertValidation(t *testing.T) {
	env := newResourceRouter(t)

	w := env.do(http.MethodPut, "/api/items", map[string]interface{}{"name": "no code"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "itemCode")

	w = env.do(http.MethodPut, "/api/items", []int{1, 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResourceUpsertRequiresAuth(t *testing.T) {
	env := newResourceRouter(t)
	b, _ := json.Marshal(map[string]interface{}{"itemCode": "I1"})
	req := httptest.NewRequest(http.MethodPut, "/api/items", bytes.NewReader(b))
	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResourceBeforeSaveHookRejects(t *testing.T) {
	env := newResourceRouter(t)
	env.hooks.Register(hook.BeforeEntitySave, 0, "no-cursed", func(_ context.Context, _ string, ev *hook.EntityEvent) error {
		if ev.Entity["name"] == "cursed" {
			return errors.New("cursed items are not allowed")
		}
		return nil
	})

	w := env.do(http.MethodPut, "/api/items", map[string]interface{}{"itemCode": "I1", "name": "cursed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cursed items")

	_, err := env.st.Get(context.Background(), "items", "I1")
	assert.Error(t, err)
}

func TestResourceContentNormalized(t *testing.T) {
	env := newResourceRouter(t)
	env.hooks.Register(hook.BeforeEntitySave, 0, "content", content.NormalizeHook("guides"))

	w := env.do(http.MethodPut, "/api/guides", map[string]interface{}{
		"guideId": "G1",
		"content": []interface{}{map[string]interface{}{"type": "paragraph", "data": map[string]interface{}{"text": "hi"}}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := env.st.Get(context.Background(), "guides", "G1")
	require.NoError(t, err)
	blocks, err := content.Parse(stored[content.Field])
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.NotEmpty(t, blocks[0].ID)

	w = env.do(http.MethodPut, "/api/guides", map[string]interface{}{
		"guideId": "G2",
		"content": []interface{}{map[string]interface{}{"type": "marquee"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResourceDelete(t *testing.T) {
	env := newResourceRouter(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/items", map[string]interface{}{"itemCode": "I1"}).Code)

	var deleted []string
	env.hooks.Register(hook.AfterEntityDelete, 10, "probe", func(_ context.Context, _ string, ev *hook.EntityEvent) error {
		deleted = append(deleted, ev.ID)
		return nil
	})

	w := env.do(http.MethodDelete, "/api/items/I1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "message")
	assert.Equal(t, []string{"I1"}, deleted)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/items/I1", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/items/I1", nil).Code)
}

func TestResourceGetNotFound(t *testing.T) {
	env := newResourceRouter(t)
	w := env.do(http.MethodGet, "/api/items/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestResourceUnknownRoute(t *testing.T) {
	env := newResourceRouter(t)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/spells", nil).Code)
}
