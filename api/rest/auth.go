package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamewiki/server/audit"
	"github.com/kasuganosora/gamewiki/server/cache"
	"github.com/kasuganosora/gamewiki/server/config"
	mw "github.com/kasuganosora/gamewiki/server/middleware"
	"github.com/kasuganosora/gamewiki/server/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// BcryptCost is the work factor for new password hashes.
var BcryptCost = 12

const (
	maxLoginFailures = 5
	loginFailWindow  = 15 * time.Minute
)

func loginFailKey(username string) string { return "login-fail:" + strings.ToLower(username) }

func accountSessionsKey(accountID int64) string {
	return "account-sessions:" + strconv.FormatInt(accountID, 10)
}

// HashPassword returns the bcrypt hash stored on accounts.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	audit  *audit.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. auditSvc may be nil.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, auditSvc *audit.Service, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{db: db, cache: c, sec: sec, audit: auditSvc, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if n, err := h.cache.Get(ctx, loginFailKey(req.Username)); err == nil {
		if fails, _ := strconv.Atoi(n); fails >= maxLoginFailures {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed logins, try again later"})
			return
		}
	}

	var acc model.Account
	err := h.db.WithContext(ctx).Where("username = ?", req.Username).First(&acc).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Error("login lookup failed", zap.Error(err), zap.String("trace_id", mw.GetTraceID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		h.recordFailure(ctx, req.Username)
		h.auditLogin(c, &acc, req.Username, "invalid credentials")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if acc.Status == model.StatusDisabled {
		h.auditLogin(c, &acc, req.Username, "account disabled")
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}
	_ = h.cache.Del(ctx, loginFailKey(req.Username))

	token, err := h.issue(ctx, identityOf(&acc))
	if err != nil {
		h.logger.Error("issue token failed", zap.Error(err), zap.String("trace_id", mw.GetTraceID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	// Update last login (best-effort).
	now := time.Now()
	_ = h.db.WithContext(ctx).Model(&acc).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": c.ClientIP(),
	})
	h.auditLogin(c, &acc, req.Username, "")

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account_id": acc.ID,
		"username":   acc.Username,
		"role":       acc.Role,
	})
}

// Logout handles POST /api/auth/logout. It must run behind mw.Auth.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := mw.GetToken(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(token))
	_ = h.cache.SRem(ctx, accountSessionsKey(mw.GetAccountID(c)), token)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The presented token is revoked and
// a new one with a fresh expiry is returned.
func (h *AuthHandler) Refresh(c *gin.Context) {
	id, ok := mw.GetIdentity(c)
	if !ok || id.AccountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	oldToken := mw.GetToken(c)
	_ = h.cache.Del(ctx, mw.SessionKey(oldToken))
	_ = h.cache.SRem(ctx, accountSessionsKey(id.AccountID), oldToken)

	newToken, err := h.issue(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

// RevokeAll ends every live session of accountID and returns how many there
// were.
func (h *AuthHandler) RevokeAll(ctx context.Context, accountID int64) (int, error) {
	setKey := accountSessionsKey(accountID)
	tokens, err := h.cache.SMembers(ctx, setKey)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, mw.SessionKey(t))
	}
	keys = append(keys, setKey)
	return len(tokens), h.cache.Del(ctx, keys...)
}

func (h *AuthHandler) issue(ctx context.Context, id mw.Identity) (string, error) {
	token, err := mw.GenerateToken(id, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	if err := h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(id.AccountID, 10), h.sec.JWTTTLH); err != nil {
		return "", err
	}
	setKey := accountSessionsKey(id.AccountID)
	if err := h.cache.SAdd(ctx, setKey, token); err == nil {
		_ = h.cache.Expire(ctx, setKey, h.sec.JWTTTLH)
	}
	return token, nil
}

func (h *AuthHandler) recordFailure(ctx context.Context, username string) {
	key := loginFailKey(username)
	n, err := h.cache.Incr(ctx, key)
	if err != nil {
		return
	}
	if n == 1 {
		_ = h.cache.Expire(ctx, key, loginFailWindow)
	}
}

func (h *AuthHandler) auditLogin(c *gin.Context, acc *model.Account, username, reason string) {
	if h.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:  mw.GetTraceID(c),
		Username: username,
		Action:   audit.ActionLogin,
		Error:    reason,
		IP:       c.ClientIP(),
	}
	if acc != nil && acc.ID != 0 {
		id := acc.ID
		entry.AccountID = &id
	}
	h.audit.Log(entry)
}

func identityOf(acc *model.Account) mw.Identity {
	return mw.Identity{AccountID: acc.ID, Username: acc.Username, Role: acc.Role}
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
