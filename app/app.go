// Package app wires the wiki server: storage, caches, hooks, handlers and
// middleware.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	apirest "github.com/kasuganosora/gamewiki/server/api/rest"
	"github.com/kasuganosora/gamewiki/server/api/sse"
	"github.com/kasuganosora/gamewiki/server/audit"
	"github.com/kasuganosora/gamewiki/server/cache"
	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/content"
	"github.com/kasuganosora/gamewiki/server/hook"
	"github.com/kasuganosora/gamewiki/server/imageproxy"
	mw "github.com/kasuganosora/gamewiki/server/middleware"
	"github.com/kasuganosora/gamewiki/server/scheduler"
	"github.com/kasuganosora/gamewiki/server/store"
	"github.com/kasuganosora/gamewiki/server/store/dynamo"
	"github.com/kasuganosora/gamewiki/server/store/sqlstore"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// GuidesResource is the collection whose entities carry block content.
const GuidesResource = "guides"

// Deps are the long-lived connections the server is built on.
type Deps struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Store  store.TableStore
	Logger *zap.Logger
}

// Server is a fully wired wiki backend.
type Server struct {
	Engine  *gin.Engine
	Handler http.Handler

	Hooks  *hook.HookCenter
	Cache  *cache.ResponseCache
	Images *imageproxy.Proxy
	Sched  *scheduler.Scheduler
	Audit  *audit.Service
	Auth   *apirest.AuthHandler

	cancel context.CancelFunc
}

// OpenStore returns the entity store selected by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (store.TableStore, error) {
	switch cfg.Store.Backend {
	case "", "sql":
		return sqlstore.New(db), nil
	case "dynamodb":
		client, err := dynamo.NewClient(ctx, cfg.Store.DynamoRegion, cfg.Store.DynamoEndpoint)
		if err != nil {
			return nil, fmt.Errorf("dynamodb client: %w", err)
		}
		keys := make(map[string]string, len(cfg.Resources))
		for _, r := range cfg.Resources {
			keys[r.Name] = r.IDField
		}
		st := dynamo.New(client, cfg.Store.DynamoPrefix, keys)
		if err := st.EnsureTables(ctx); err != nil {
			return nil, fmt.Errorf("dynamodb tables: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// New builds the server. Call Close to stop its background workers.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Hooks:  hook.NewHookCenter(),
		Cache:  cache.NewResponseCache(deps.Cache, cfg.Cache.ResponseTTL),
		Sched:  scheduler.New(logger),
		Audit:  audit.New(deps.DB, logger),
		cancel: cancel,
	}
	if cfg.Images.Upstream != "" {
		p, err := imageproxy.New(imageproxy.Config{
			Upstream:   cfg.Images.Upstream,
			TTL:        cfg.Images.TTL,
			MaxBytes:   cfg.Images.MaxBytes,
			CacheBytes: cfg.Images.CacheBytes,
			Timeout:    cfg.Images.FetchTimeout,
		}, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Images = p
	}

	sseH := sse.NewHandler(deps.PubSub, logger)
	s.registerHooks(cfg, sseH)
	s.registerTasks(cfg, logger)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/health"), mw.Recovery(logger))
	if cfg.Security.RateLimitRPS > 0 {
		r.Use(mw.NewRateLimiter(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst).Handler())
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.Auth = apirest.NewAuthHandler(deps.DB, deps.Cache, cfg.Security, s.Audit, logger)
	resH := apirest.NewResourceHandler(deps.Store, s.Hooks, s.Cache, logger, cfg.Resources)
	adminH := apirest.NewAdminHandler(apirest.AdminDeps{
		DB:        deps.DB,
		Store:     deps.Store,
		Resources: cfg.Resources,
		Auth:      s.Auth,
		Cache:     s.Cache,
		Images:    s.Images,
		Sched:     s.Sched,
		Audit:     s.Audit,
		Logger:    logger,
	})
	imgH := imageproxy.NewHandler(s.Images, logger)
	authMW := mw.Auth(cfg.Security, deps.Cache)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", s.Auth.Login)
		authG.POST("/logout", authMW, s.Auth.Logout)
		authG.POST("/refresh", authMW, s.Auth.Refresh)

		api.GET("/events", sseH.ServeSSE)
		api.GET("/images/*path", imgH.Serve)

		adminG := api.Group("/admin")
		if len(cfg.Security.AdminIPs) > 0 {
			adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs))
		}
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminH.Register(adminG)

		resH.Register(api, authMW)
	}

	s.Engine = r
	s.Handler = corsHandler(cfg.Security.AllowedOrigins).Handler(r)
	return s, nil
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Admin-Key", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Cache", "X-Trace-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

func (s *Server) registerHooks(cfg *config.Config, sseH *sse.Handler) {
	if _, ok := cfg.Resource(GuidesResource); ok {
		s.Hooks.Register(hook.BeforeEntitySave, 0, "content", content.NormalizeHook(GuidesResource))
	}
	invalidate := apirest.InvalidateHook(s.Cache)
	for _, ev := range []string{hook.AfterEntitySave, hook.AfterEntityDelete} {
		s.Hooks.Register(ev, 0, "response_cache", invalidate)
		s.Hooks.Register(ev, 10, "sse", sseH.PublishHook())
		s.Hooks.Register(ev, 20, "audit", s.Audit.EntityHook())
	}
}

func (s *Server) registerTasks(cfg *config.Config, logger *zap.Logger) {
	if s.Images != nil {
		s.Sched.AddTicker("image_cache_sweep", cfg.Images.SweepInterval, func(context.Context) error {
			if n := s.Images.Sweep(); n > 0 {
				logger.Debug("image cache swept", zap.Int("removed", n))
			}
			return nil
		})
	}
	if cfg.Audit.Retention > 0 {
		s.Sched.AddTicker("audit_retention", cfg.Audit.PurgeInterval, func(ctx context.Context) error {
			n, err := s.Audit.Purge(ctx, time.Now().Add(-cfg.Audit.Retention))
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("audit entries purged", zap.Int64("rows", n))
			}
			return nil
		})
	}
}

// Close stops the scheduler, the rate limiter pruning and the audit worker.
func (s *Server) Close() {
	s.cancel()
	s.Sched.Stop()
	s.Audit.Stop(context.Background())
}
