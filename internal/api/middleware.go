// Package api implements the Airlock REST API: public status routes, the
// Prometheus scrape endpoint and token-protected administration.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/airlock-project/airlock/internal/config"
)

const operatorKey = "operator"

// RequireToken rejects requests without the configured admin bearer token.
// An empty token locks the admin routes entirely.
func RequireToken(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := cfg.GetAPI().AdminToken
		if want == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin API disabled: no admin token configured",
			})
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(operatorKey, "api@"+c.ClientIP())
		c.Next()
	}
}

// operator names the caller for audit fields.
func operator(c *gin.Context) string {
	if v, ok := c.Get(operatorKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "api"
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	rps     int
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter creates a limiter allowing rps requests per second with a
// burst of twice that. rps <= 0 disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	buckets, _ := lru.New[string, *rate.Limiter](4096)
	return &RateLimiter{rps: rps, buckets: buckets}
}

// Allow reports whether ip may make another request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.rps <= 0 {
		return true
	}
	l, ok := rl.buckets.Get(ip)
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.rps), rl.rps*2)
		if prev, loaded, _ := rl.buckets.PeekOrAdd(ip, l); loaded {
			l = prev
		}
	}
	return l.Allow()
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Server", "Airlock")
		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests at debug level.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
