// Package client is a Go client for the chatfabric websocket API. A Client
// owns one command connection and its own Lamport clock: every request
// carries the next local timestamp and every response and event clock is
// merged back into it.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/pkg/codec"
	"chatfabric/pkg/lamport"
	"chatfabric/pkg/retry"
	"chatfabric/pkg/validation"

	"github.com/gorilla/websocket"
)

const (
	CommandPath = "/ws/command"
	EventsPath  = "/ws/events"
)

var ErrClosed = errors.New("client: closed")

// ResponseError is an ERROR response from the server.
type ResponseError struct {
	Code    string
	Message string
	Clock   int64
	Data    map[string]any
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a ResponseError with the given code.
func IsCode(err error, code string) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.Code == code
}

type Options struct {
	// Timeout bounds a single request/response exchange.
	Timeout time.Duration
	Retry   retry.Config
	Header  http.Header
}

func DefaultOptions() Options {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 3
	return Options{Timeout: 10 * time.Second, Retry: cfg}
}

type Client struct {
	baseURL *url.URL
	opts    Options
	clock   *lamport.Clock
	dialer  *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Dial connects to the command channel of the server at baseURL
// (ws://host:port or http://host:port).
func Dial(ctx context.Context, baseURL string, opts Options) (*Client, error) {
	u, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultOptions().Retry
	}

	c := &Client{
		baseURL: u,
		opts:    opts,
		clock:   lamport.NewClock(),
		dialer:  websocket.DefaultDialer,
	}

	conn, err := c.dial(ctx, CommandPath, nil)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	if err := validation.ValidateURL(raw); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

func (c *Client) dial(ctx context.Context, path string, query url.Values) (*websocket.Conn, error) {
	target := *c.baseURL
	target.Path += path
	target.RawQuery = query.Encode()

	return retry.Do(ctx, c.opts.Retry, func() (*websocket.Conn, error) {
		conn, resp, err := c.dialer.DialContext(ctx, target.String(), c.opts.Header)
		if err != nil {
			// 4xx answers will not change on retry.
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, retry.Permanent(fmt.Errorf("dial %s: %s", path, resp.Status))
			}
			return nil, fmt.Errorf("dial %s: %w", path, err)
		}
		return conn, nil
	})
}

// Clock returns the client's current logical clock.
func (c *Client) Clock() int64 {
	return c.clock.Value()
}

// Do sends one request and waits for its response. The request timestamp is
// set from the client clock. An ERROR response is returned together with a
// *ResponseError.
func (c *Client) Do(ctx context.Context, req domain.Request) (domain.ResponseEnvelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ResponseEnvelope{}, ErrClosed
	}

	req.Timestamp = c.clock.Tick()
	frame, err := codec.Marshal(req)
	if err != nil {
		return domain.ResponseEnvelope{}, fmt.Errorf("encode request: %w", err)
	}

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return domain.ResponseEnvelope{}, fmt.Errorf("send %s: %w", req.Command, err)
	}

	c.conn.SetReadDeadline(deadline)
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return domain.ResponseEnvelope{}, fmt.Errorf("read %s response: %w", req.Command, err)
	}

	var resp domain.ResponseEnvelope
	if err := codec.Unmarshal(data, &resp); err != nil {
		return domain.ResponseEnvelope{}, fmt.Errorf("decode %s response: %w", req.Command, err)
	}
	c.clock.Observe(resp.Clock)

	if !resp.OK() {
		respErr := &ResponseError{Clock: resp.Clock, Data: resp.Data}
		respErr.Code, _ = resp.Data["code"].(string)
		respErr.Message, _ = resp.Data["message"].(string)
		return resp, respErr
	}
	return resp, nil
}

// Close closes the command connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// decodeData converts response data into a typed value.
func decodeData(data map[string]any, out any) error {
	raw, err := codec.Marshal(data)
	if err != nil {
		return err
	}
	return codec.Unmarshal(raw, out)
}
