package transport

import (
	"context"
	"net/http"
	"time"

	"chatfabric/internal/core/ports"
	"chatfabric/pkg/logger"
	"chatfabric/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CommandServer serves the synchronous request channel. Each websocket
// connection carries one request at a time: a frame is read, processed and
// answered before the next frame is taken.
type CommandServer struct {
	processor ports.CommandProcessor
	opts      Options
	upgrader  websocket.Upgrader
	metrics   Metrics
	logger    *logger.ContextLogger
}

func NewCommandServer(processor ports.CommandProcessor, opts Options, metrics Metrics, log *zap.Logger) *CommandServer {
	opts = opts.withDefaults()
	return &CommandServer{
		processor: processor,
		opts:      opts,
		upgrader:  opts.upgrader(),
		metrics:   metrics,
		logger:    logger.NewContextLogger(log),
	}
}

func (s *CommandServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Gate.Acquire() {
		if s.metrics != nil {
			s.metrics.RecordRateLimited(KindCommand)
		}
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer s.opts.Gate.Release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Sugared(r.Context()).Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(logger.WithConnectionID(context.Background(), connID))
	defer cancel()
	ctx, span := tracing.TraceWebSocketConnection(ctx, KindCommand, connID)
	defer span.End()
	log := s.logger.Sugared(ctx)

	if s.metrics != nil {
		s.metrics.ConnectionOpened(KindCommand)
		defer s.metrics.ConnectionClosed(KindCommand)
	}
	log.Infow("command connection opened", "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(s.opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	frames := make(chan []byte)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	limiter := s.opts.NewLimiter()
	served := 0

	for {
		select {
		case frame := <-frames:
			if limiter != nil && !limiter.Allow() {
				if s.metrics != nil {
					s.metrics.RecordRateLimited(KindCommand)
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}

			resp := s.processor.HandleFrame(ctx, frame)
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
				log.Infow("error writing response", "error", err)
				return
			}
			served++

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Infow("error sending ping", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Infow("command connection read error", "error", err)
			}
			log.Infow("command connection closed", "requests", served)
			return
		}
	}
}
