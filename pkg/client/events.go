package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/pkg/codec"
	"chatfabric/pkg/lamport"

	"github.com/gorilla/websocket"
)

// EventStream receives broadcast events for one user.
type EventStream struct {
	conn   *websocket.Conn
	clock  *lamport.Clock
	events chan domain.BroadcastEvent

	writeMu   sync.Mutex
	errMu     sync.Mutex
	err       error
	quit      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Listen opens the event channel for user. The user's private topic is
// always followed; topics adds channels to follow from the start.
func (c *Client) Listen(ctx context.Context, user string, topics ...string) (*EventStream, error) {
	query := url.Values{"user": {user}}
	for _, t := range topics {
		query.Add("topic", t)
	}
	conn, err := c.dial(ctx, EventsPath, query)
	if err != nil {
		return nil, err
	}

	s := &EventStream{
		conn:   conn,
		clock:  c.clock,
		events: make(chan domain.BroadcastEvent, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *EventStream) readLoop() {
	defer close(s.events)
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				s.setErr(err)
			}
			return
		}
		var event domain.BroadcastEvent
		if err := codec.Unmarshal(data, &event); err != nil {
			s.setErr(fmt.Errorf("decode event: %w", err))
			return
		}
		s.clock.Observe(event.Clock)
		select {
		case s.events <- event:
		case <-s.quit:
			return
		}
	}
}

func (s *EventStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Events is closed when the stream ends; Err then reports why.
func (s *EventStream) Events() <-chan domain.BroadcastEvent {
	return s.events
}

func (s *EventStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Next waits for the next event.
func (s *EventStream) Next(ctx context.Context) (domain.BroadcastEvent, error) {
	select {
	case event, ok := <-s.events:
		if !ok {
			if err := s.Err(); err != nil {
				return domain.BroadcastEvent{}, err
			}
			return domain.BroadcastEvent{}, ErrClosed
		}
		return event, nil
	case <-ctx.Done():
		return domain.BroadcastEvent{}, ctx.Err()
	}
}

func (s *EventStream) Follow(topic string) error {
	return s.send(domain.FollowRequest{Action: domain.ActionFollow, Topic: topic})
}

func (s *EventStream) Unfollow(topic string) error {
	return s.send(domain.FollowRequest{Action: domain.ActionUnfollow, Topic: topic})
}

func (s *EventStream) send(req domain.FollowRequest) error {
	frame, err := codec.Marshal(req)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	<-s.done
	return err
}
