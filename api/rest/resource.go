package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamewiki/server/cache"
	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/kasuganosora/gamewiki/server/hook"
	mw "github.com/kasuganosora/gamewiki/server/middleware"
	"github.com/kasuganosora/gamewiki/server/store"
	"go.uber.org/zap"
)

// ResourceHandler serves list/detail/upsert/delete for every configured
// wiki collection.
type ResourceHandler struct {
	store     store.TableStore
	hooks     *hook.HookCenter
	rc        *cache.ResponseCache
	logger    *zap.Logger
	resources []config.ResourceConfig
}

// NewResourceHandler creates a ResourceHandler. hooks and rc may be nil.
func NewResourceHandler(
	st store.TableStore,
	hooks *hook.HookCenter,
	rc *cache.ResponseCache,
	logger *zap.Logger,
	resources []config.ResourceConfig,
) *ResourceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hooks == nil {
		hooks = hook.NewHookCenter()
	}
	return &ResourceHandler{store: st, hooks: hooks, rc: rc, logger: logger, resources: resources}
}

// Register mounts the routes of every resource on api. Writes go through
// auth; reads are public.
func (h *ResourceHandler) Register(api gin.IRoutes, auth gin.HandlerFunc) {
	for _, res := range h.resources {
		base := "/" + res.Name
		api.GET(base, h.List(res))
		api.GET(base+"/:id", h.Get(res))
		api.PUT(base, auth, h.Upsert(res))
		api.DELETE(base+"/:id", auth, h.Delete(res))
	}
}

// List handles GET /api/<resource>.
func (h *ResourceHandler) List(res config.ResourceConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, hit, err := h.cached(c, res.Name, res.Name, func() (interface{}, error) {
			items, err := h.store.List(c.Request.Context(), res.Name)
			if err != nil {
				return nil, err
			}
			if items == nil {
				items = []entity.Entity{}
			}
			return items, nil
		})
		if err != nil {
			h.internalError(c, "list entities", err)
			return
		}
		writeCached(c, body, hit)
	}
}

// Get handles GET /api/<resource>/:id.
func (h *ResourceHandler) Get(res config.ResourceConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		body, hit, err := h.cached(c, res.Name, res.Name+"/"+id, func() (interface{}, error) {
			return h.store.Get(c.Request.Context(), res.Name, id)
		})
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": res.Name + " " + id + " not found"})
			return
		}
		if err != nil {
			h.internalError(c, "get entity", err)
			return
		}
		writeCached(c, body, hit)
	}
}

// Upsert handles PUT /api/<resource>. The body is the whole entity.
func (h *ResourceHandler) Upsert(res config.ResourceConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var e entity.Entity
		if err := c.ShouldBindJSON(&e); err != nil || e == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
			return
		}
		e = e.Without(entity.NewMarker)
		id := e.Key(res.IDField)
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": res.IDField + " is required"})
			return
		}

		ctx := c.Request.Context()
		ev := h.event(c, res, id, e)
		if err := h.hooks.Trigger(ctx, hook.BeforeEntitySave, ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// A before-save hook must not move the entity to another key.
		if ev.Entity.Key(res.IDField) != id {
			c.JSON(http.StatusBadRequest, gin.H{"error": res.IDField + " may not change"})
			return
		}

		start := time.Now()
		if err := h.store.Put(ctx, res.Name, res.IDField, ev.Entity); err != nil {
			if errors.Is(err, store.ErrMissingKey) {
				c.JSON(http.StatusBadRequest, gin.H{"error": res.IDField + " is required"})
				return
			}
			h.internalError(c, "put entity", err)
			return
		}
		h.logger.Debug("entity saved",
			zap.String("resource", res.Name),
			zap.String("id", id),
			zap.Duration("took", time.Since(start)),
		)
		if err := h.hooks.Trigger(ctx, hook.AfterEntitySave, ev); err != nil {
			h.logger.Warn("after-save hook failed", zap.Error(err), zap.String("trace_id", ev.TraceID))
		}

		c.JSON(http.StatusOK, gin.H{
			"message": res.Name + " " + id + " saved",
			"entity":  ev.Entity,
		})
	}
}

// Delete handles DELETE /api/<resource>/:id.
func (h *ResourceHandler) Delete(res config.ResourceConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()
		err := h.store.Delete(ctx, res.Name, id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": res.Name + " " + id + " not found"})
			return
		}
		if err != nil {
			h.internalError(c, "delete entity", err)
			return
		}
		ev := h.event(c, res, id, nil)
		if err := h.hooks.Trigger(ctx, hook.AfterEntityDelete, ev); err != nil {
			h.logger.Warn("after-delete hook failed", zap.Error(err), zap.String("trace_id", ev.TraceID))
		}
		c.JSON(http.StatusOK, gin.H{"message": res.Name + " " + id + " deleted"})
	}
}

// InvalidateHook drops cached responses of the written resource.
func InvalidateHook(rc *cache.ResponseCache) hook.HookFn {
	return func(ctx context.Context, _ string, ev *hook.EntityEvent) error {
		return rc.Invalidate(ctx, ev.Resource)
	}
}

func (h *ResourceHandler) event(c *gin.Context, res config.ResourceConfig, id string, e entity.Entity) *hook.EntityEvent {
	who, _ := mw.GetIdentity(c)
	return &hook.EntityEvent{
		Resource:  res.Name,
		IDField:   res.IDField,
		ID:        id,
		Entity:    e,
		AccountID: who.AccountID,
		Username:  who.Username,
		TraceID:   mw.GetTraceID(c),
		IP:        c.ClientIP(),
	}
}

// cached marshals load's result through the response cache when one is
// configured.
func (h *ResourceHandler) cached(c *gin.Context, resource, key string, load func() (interface{}, error)) ([]byte, bool, error) {
	fill := func(context.Context) ([]byte, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
	if h.rc == nil {
		b, err := fill(c.Request.Context())
		return b, false, err
	}
	return h.rc.Fetch(c.Request.Context(), resource, key, fill)
}

func writeCached(c *gin.Context, body []byte, hit bool) {
	if hit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *ResourceHandler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("trace_id", mw.GetTraceID(c)),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
