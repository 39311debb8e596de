package transport

import (
	"context"
	"net/http"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/infrastructure/broadcast"
	"chatfabric/pkg/codec"
	"chatfabric/pkg/logger"
	"chatfabric/pkg/tracing"
	"chatfabric/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventServer serves the asynchronous broadcast channel. A connection names
// its user and initial topics in the query string
// (?user=alice&topic=news&topic=general); the user's private topic is always
// followed. FollowRequest frames change the followed topics later.
type EventServer struct {
	hub      *broadcast.Hub
	opts     Options
	upgrader websocket.Upgrader
	metrics  Metrics
	logger   *logger.ContextLogger
}

func NewEventServer(hub *broadcast.Hub, opts Options, metrics Metrics, log *zap.Logger) *EventServer {
	opts = opts.withDefaults()
	return &EventServer{
		hub:      hub,
		opts:     opts,
		upgrader: opts.upgrader(),
		metrics:  metrics,
		logger:   logger.NewContextLogger(log),
	}
}

func (s *EventServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	user := query.Get("user")
	if err := validation.ValidateName(user); err != nil {
		http.Error(w, "invalid user: "+err.Error(), http.StatusBadRequest)
		return
	}
	topics := []string{user}
	for _, topic := range query["topic"] {
		if err := validation.ValidateName(topic); err != nil {
			http.Error(w, "invalid topic: "+err.Error(), http.StatusBadRequest)
			return
		}
		topics = append(topics, topic)
	}

	if !s.opts.Gate.Acquire() {
		if s.metrics != nil {
			s.metrics.RecordRateLimited(KindEvents)
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

	ep := s.hub.Attach(user, topics...)
	defer s.hub.Detach(ep)

	ctx, cancel := context.WithCancel(logger.WithUser(logger.WithConnectionID(context.Background(), ep.ID()), user))
	defer cancel()
	ctx, span := tracing.TraceWebSocketConnection(ctx, KindEvents, ep.ID())
	defer span.End()
	log := s.logger.Sugared(ctx)

	if s.metrics != nil {
		s.metrics.ConnectionOpened(KindEvents)
		defer s.metrics.ConnectionClosed(KindEvents)
	}
	log.Infow("event connection opened", "topics", topics)

	conn.SetReadLimit(s.opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	errorChan := make(chan error, 1)
	go s.readControl(ctx, conn, ep, errorChan)

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-ep.Events():
			if !ok {
				return
			}
			data, err := codec.Marshal(event)
			if err != nil {
				log.Errorw("failed to encode event", "topic", event.Topic, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Infow("error writing event", "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Infow("error sending ping", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Infow("event connection read error", "error", err)
			}
			log.Infow("event connection closed", "dropped", ep.Dropped())
			return
		}
	}
}

// readControl applies FollowRequest frames until the connection fails.
func (s *EventServer) readControl(ctx context.Context, conn *websocket.Conn, ep *broadcast.Endpoint, errorChan chan<- error) {
	log := s.logger.Sugared(ctx)
	limiter := s.opts.NewLimiter()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			errorChan <- err
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if limiter != nil && !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.RecordRateLimited(KindEvents)
			}
			continue
		}

		var req domain.FollowRequest
		if err := codec.Unmarshal(frame, &req); err != nil {
			log.Warnw("undecodable control frame", "error", err)
			continue
		}
		if err := validation.ValidateName(req.Topic); err != nil {
			log.Warnw("invalid topic in control frame", "topic", req.Topic, "error", err)
			continue
		}

		switch req.Action {
		case domain.ActionFollow:
			ep.Follow(req.Topic)
		case domain.ActionUnfollow:
			ep.Unfollow(req.Topic)
		default:
			log.Warnw("unknown control action", "action", req.Action)
			continue
		}
		log.Debugw("endpoint topics changed", "action", req.Action, "topic", req.Topic)
	}
}
