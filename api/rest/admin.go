package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamewiki/server/audit"
	"github.com/kasuganosora/gamewiki/server/cache"
	"github.com/kasuganosora/gamewiki/server/config"
	"github.com/kasuganosora/gamewiki/server/imageproxy"
	mw "github.com/kasuganosora/gamewiki/server/middleware"
	"github.com/kasuganosora/gamewiki/server/model"
	"github.com/kasuganosora/gamewiki/server/scheduler"
	"github.com/kasuganosora/gamewiki/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminDeps are the services admin endpoints report on or act through.
// Images, Audit and Cache may be nil.
type AdminDeps struct {
	DB        *gorm.DB
	Store     store.TableStore
	Resources []config.ResourceConfig
	Auth      *AuthHandler
	Cache     *cache.ResponseCache
	Images    *imageproxy.Proxy
	Sched     *scheduler.Scheduler
	Audit     *audit.Service
	Logger    *zap.Logger
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	AdminDeps
	started time.Time
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(deps AdminDeps) *AdminHandler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &AdminHandler{AdminDeps: deps, started: time.Now()}
}

// Register mounts the admin routes on g.
func (h *AdminHandler) Register(g gin.IRoutes) {
	g.GET("/metrics", h.Metrics)
	g.POST("/accounts", h.CreateAccount)
	g.POST("/accounts/:id/disable", h.DisableAccount)
	g.POST("/accounts/:id/enable", h.EnableAccount)
	g.GET("/audit", h.ListAudit)
	g.POST("/cache/purge", h.PurgeCache)
	g.GET("/scheduler", h.ListSchedulerTasks)
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	counts := make(map[string]int64, len(h.Resources))
	for _, res := range h.Resources {
		n, err := h.Store.Count(ctx, res.Name)
		if err != nil {
			h.Logger.Warn("count entities failed", zap.String("resource", res.Name), zap.Error(err))
			n = -1
		}
		counts[res.Name] = n
	}
	var accounts int64
	h.DB.WithContext(ctx).Model(&model.Account{}).Count(&accounts)

	resp := gin.H{
		"entities":        counts,
		"accounts":        accounts,
		"uptime_seconds":  int64(time.Since(h.started).Seconds()),
		"scheduler_tasks": h.Sched.ListTickers(),
	}
	if h.Cache != nil {
		resp["response_cache"] = h.Cache.Stats()
	}
	if h.Images != nil {
		resp["image_cache"] = h.Images.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

type createAccountRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
	Role     string `json:"role" binding:"omitempty,oneof=editor admin"`
}

// CreateAccount registers an editor account.
// POST /api/admin/accounts
func (h *AdminHandler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = model.RoleEditor
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	acc := model.Account{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		Status:       model.StatusActive,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&acc).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		h.Logger.Error("create account failed", zap.Error(err), zap.String("trace_id", mw.GetTraceID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	h.Logger.Info("admin created account", zap.Int64("account_id", acc.ID), zap.String("username", acc.Username))
	c.JSON(http.StatusCreated, acc)
}

// DisableAccount blocks login and ends the account's live sessions.
// POST /api/admin/accounts/:id/disable
func (h *AdminHandler) DisableAccount(c *gin.Context) {
	accountID, ok := h.setStatus(c, model.StatusDisabled)
	if !ok {
		return
	}
	revoked := 0
	if h.Auth != nil {
		n, err := h.Auth.RevokeAll(c.Request.Context(), accountID)
		if err != nil {
			h.Logger.Warn("revoke sessions failed", zap.Int64("account_id", accountID), zap.Error(err))
		}
		revoked = n
	}
	if h.Audit != nil {
		id := accountID
		h.Audit.Log(audit.AuditEntry{
			TraceID:   mw.GetTraceID(c),
			AccountID: &id,
			Action:    audit.ActionDisable,
			IP:        c.ClientIP(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": model.StatusDisabled, "revoked_sessions": revoked})
}

// EnableAccount re-allows login.
// POST /api/admin/accounts/:id/enable
func (h *AdminHandler) EnableAccount(c *gin.Context) {
	if _, ok := h.setStatus(c, model.StatusActive); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": model.StatusActive})
}

func (h *AdminHandler) setStatus(c *gin.Context, status int) (int64, bool) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	result := h.DB.WithContext(c.Request.Context()).
		Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return 0, false
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return 0, false
	}
	return accountID, true
}

// ListAudit returns recent audit entries, newest first.
// GET /api/admin/audit?resource=&entity_id=&username=&limit=
func (h *AdminHandler) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []model.AuditLog{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.Audit.List(c.Request.Context(), audit.Query{
		Resource: c.Query("resource"),
		EntityID: c.Query("entity_id"),
		Username: c.Query("username"),
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

// PurgeCache drops every cached API response.
// POST /api/admin/cache/purge
func (h *AdminHandler) PurgeCache(c *gin.Context) {
	if h.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"purged": 0})
		return
	}
	n, err := h.Cache.Purge(c.Request.Context())
	if err != nil {
		h.Logger.Error("purge response cache failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	h.Logger.Info("admin purged response cache", zap.Int("keys", n))
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// ListSchedulerTasks returns every ticker task with its run history.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.Sched.Status()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
