package transport

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatfabric/internal/infrastructure/middleware"
	"chatfabric/pkg/config"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	KindCommand = "command"
	KindEvents  = "events"
)

// Metrics receives connection-level measurements. A nil Metrics is
// allowed.
type Metrics interface {
	ConnectionOpened(kind string)
	ConnectionClosed(kind string)
	RecordRateLimited(surface string)
}

// Options holds the websocket settings shared by both servers.
type Options struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string

	// NewLimiter returns a per-connection frame limiter, or nil.
	NewLimiter func() *rate.Limiter
	Gate       *middleware.ConnectionGate
}

// OptionsFromConfig builds Options from the command section and the
// websocket rate limits.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PingInterval:    cfg.Command.PingInterval,
		PongTimeout:     cfg.Command.PongTimeout,
		WriteTimeout:    cfg.Command.WriteTimeout,
		MaxMessageBytes: cfg.Command.MaxMessageBytes,
		AllowedOrigins:  cfg.Command.AllowedOrigins,
		NewLimiter:      func() *rate.Limiter { return middleware.NewMessageLimiter(cfg) },
		Gate:            middleware.NewConnectionGate(cfg),
	}
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= o.PingInterval {
		o.PongTimeout = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.NewLimiter == nil {
		o.NewLimiter = func() *rate.Limiter { return nil }
	}
	return o
}

func (o Options) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(o.AllowedOrigins),
	}
}

// originChecker allows requests without an Origin header, any origin when
// the list is empty or contains "*", and otherwise exact host matches.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}
