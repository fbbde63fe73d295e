package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SecurityHeaders adds security-related headers to all responses. The APIs
// served here are JSON only, so the CSP is locked down completely.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	rate    rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing r events per second with burst b.
// Buckets idle for longer than ttl are dropped on the next sweep.
func NewRateLimiter(r rate.Limit, b int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*limiterEntry),
		rate:    r,
		burst:   b,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow reports whether the client may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Sweep removes idle buckets.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, e := range rl.clients {
		if now.Sub(e.lastSeen) > rl.ttl {
			delete(rl.clients, key)
		}
	}
}

// Size returns the number of tracked clients.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware rejects clients that exceed their bucket. Authenticated
// requests are keyed on the user id, anonymous ones on the client IP.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("user_id")
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"kind":    "rate_limited",
					"message": "Rate limit exceeded. Please try again later.",
				},
			})
			return
		}
		c.Next()
	}
}

// CORSMiddleware allows the listed origins; "*" allows any origin. Requests
// from other origins are rejected with 403.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	allowAll := false
	for _, o := range allowedOrigins {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			allowAll = true
		default:
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}
	switch {
	case allowAll:
		// Echo the origin back; a literal "*" is not valid with credentials.
		cfg.AllowOrigins = nil
		cfg.AllowOriginFunc = func(string) bool { return true }
	case len(cfg.AllowOrigins) == 0:
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(cfg)
}
