// internal/middleware/ratelimit_middleware.go
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"winder-service/internal/config"
	"winder-service/internal/utils"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	rejected int
}

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	limit     rate.Limit
	burst     int
	window    time.Duration
	logger    *utils.SecurityLogger
	mutex     sync.Mutex
	clients   map[string]*clientLimiter
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter builds a limiter allowing RateLimitRequests per RateLimitWindow
func NewRateLimiter(cfg *config.SecurityConfig, logger *utils.SecurityLogger) *RateLimiter {
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &RateLimiter{
		limit:   rate.Limit(float64(cfg.RateLimitRequests) / window.Seconds()),
		burst:   burst,
		window:  window,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether the client may make another request
func (rl *RateLimiter) Allow(clientIP string) (bool, int) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	rl.sweep(now)

	client, ok := rl.clients[clientIP]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = client
	}
	client.lastSeen = now

	if client.limiter.AllowN(now, 1) {
		client.rejected = 0
		return true, 0
	}
	client.rejected++
	return false, client.rejected
}

// sweep forgets clients idle for longer than a window
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now

	for ip, client := range rl.clients {
		if now.Sub(client.lastSeen) > rl.window {
			delete(rl.clients, ip)
		}
	}
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		allowed, rejected := rl.Allow(clientIP)
		if !allowed {
			rl.logger.LogRateLimitViolation(clientIP, c.Request.URL.Path, rejected, rl.window.String())
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Too many requests", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
