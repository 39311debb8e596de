package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"chatfabric/pkg/config"
	apperrors "chatfabric/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitRecorder counts rejected requests. A nil recorder is allowed.
type RateLimitRecorder interface {
	RecordRateLimited(surface string)
}

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

// clientIP returns the first X-Forwarded-For address when present, else the
// host part of the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware applies per-IP rate limiting and a global
// concurrency cap to the admin HTTP surface.
func NewHTTPRateLimitMiddleware(cfg *config.Config, recorder RateLimitRecorder) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	reject := func(c *gin.Context, appErr *apperrors.AppError) {
		if recorder != nil {
			recorder.RecordRateLimited("http")
		}
		c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		})
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				reject(c, apperrors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		if !store.getLimiter(clientIP(c.Request)).Allow() {
			reject(c, apperrors.NewRateLimitError())
			return
		}
		c.Next()
	}
}

// NewMessageLimiter returns the limiter applied to frames on one websocket
// connection, or nil when rate limiting is disabled.
func NewMessageLimiter(cfg *config.Config) *rate.Limiter {
	if !cfg.RateLimiting.Enabled || cfg.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
		return nil
	}
	burst := cfg.RateLimiting.WebSocket.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond), burst)
}

// ConnectionGate caps concurrent websocket connections. The zero value and a
// nil gate admit everything.
type ConnectionGate struct {
	sem chan struct{}
}

func NewConnectionGate(cfg *config.Config) *ConnectionGate {
	if !cfg.RateLimiting.Enabled || cfg.RateLimiting.WebSocket.MaxConcurrent <= 0 {
		return &ConnectionGate{}
	}
	return &ConnectionGate{sem: make(chan struct{}, cfg.RateLimiting.WebSocket.MaxConcurrent)}
}

// Acquire reports whether a slot was taken; the caller must Release it.
func (g *ConnectionGate) Acquire() bool {
	if g == nil || g.sem == nil {
		return true
	}
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *ConnectionGate) Release() {
	if g == nil || g.sem == nil {
		return
	}
	<-g.sem
}
