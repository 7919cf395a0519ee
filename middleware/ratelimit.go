package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimiter provides per-IP token-bucket rate limiting.
type RateLimiter struct {
	r        rate.Limit
	b        int
	limiters sync.Map // ip → *ipLimiter
}

// NewRateLimiter limits each client IP to r requests per second with burst b.
// Stale per-IP buckets are dropped until ctx is done.
func NewRateLimiter(ctx context.Context, r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{r: r, b: b}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.prune(time.Now().Add(-10 * time.Minute))
			case <-ctx.Done():
				return
			}
		}
	}()
	return rl
}

func (rl *RateLimiter) prune(cutoff time.Time) {
	rl.limiters.Range(func(k, v interface{}) bool {
		il := v.(*ipLimiter)
		il.mu.Lock()
		stale := il.lastSeen.Before(cutoff)
		il.mu.Unlock()
		if stale {
			rl.limiters.Delete(k)
		}
		return true
	})
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	v, _ := rl.limiters.LoadOrStore(ip, &ipLimiter{limiter: rate.NewLimiter(rl.r, rl.b)})
	il := v.(*ipLimiter)
	il.mu.Lock()
	il.lastSeen = time.Now()
	il.mu.Unlock()
	return il.limiter
}

// Handler returns the gin middleware.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
