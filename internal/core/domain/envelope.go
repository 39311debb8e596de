package domain

import "time"

// Status is the outcome of a processed command.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Request is the wire form of a command frame. Only the fields used by the
// named command are set; Timestamp carries the sender's logical clock.
type Request struct {
	Command   string `cbor:"command" json:"command"`
	Username  string `cbor:"username,omitempty" json:"username,omitempty"`
	User      string `cbor:"user,omitempty" json:"user,omitempty"`
	Channel   string `cbor:"channel,omitempty" json:"channel,omitempty"`
	Topic     string `cbor:"topic,omitempty" json:"topic,omitempty"`
	Payload   string `cbor:"payload,omitempty" json:"payload,omitempty"`
	Timestamp int64  `cbor:"timestamp" json:"timestamp"`
}

// CommandEnvelope is a decoded request: one command variant plus the clock
// value the sender attached to it.
type CommandEnvelope struct {
	Command     Command
	SenderClock int64
}

// ResponseEnvelope answers exactly one CommandEnvelope. Clock is the
// server's logical clock after processing.
type ResponseEnvelope struct {
	Status Status         `cbor:"status" json:"status"`
	Data   map[string]any `cbor:"data,omitempty" json:"data,omitempty"`
	Clock  int64          `cbor:"clock" json:"clock"`
}

// OK reports whether the response carries StatusOK.
func (r ResponseEnvelope) OK() bool {
	return r.Status == StatusOK
}

// BroadcastEvent is published once on the asynchronous channel and consumed
// independently by every endpoint entitled to Topic.
type BroadcastEvent struct {
	ID      string `cbor:"id,omitempty" json:"id,omitempty"`
	Topic   string `cbor:"topic" json:"topic"`
	Sender  string `cbor:"sender,omitempty" json:"sender,omitempty"`
	Message string `cbor:"message" json:"message"`
	Clock   int64  `cbor:"timestamp" json:"timestamp"`
}

// WireMap renders the event as the generic map the codec decodes it to.
// Empty optional fields are left out, matching omitempty.
func (e BroadcastEvent) WireMap() map[string]any {
	m := map[string]any{
		"topic":     e.Topic,
		"message":   e.Message,
		"timestamp": e.Clock,
	}
	if e.ID != "" {
		m["id"] = e.ID
	}
	if e.Sender != "" {
		m["sender"] = e.Sender
	}
	return m
}

// AuditEntry is one record handed to the audit log for every processed
// command.
type AuditEntry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Command string    `json:"command"`
	Topic   string    `json:"topic,omitempty"`
	Payload string    `json:"payload,omitempty"`
	Sender  string    `json:"sender,omitempty"`
	Status  Status    `json:"status"`
	Clock   int64     `json:"clock"`
}

// FollowAction is sent by event endpoints to change the topics they follow.
type FollowAction string

const (
	ActionFollow   FollowAction = "follow"
	ActionUnfollow FollowAction = "unfollow"
)

// FollowRequest is the only frame an event endpoint sends upstream.
type FollowRequest struct {
	Action FollowAction `cbor:"action" json:"action"`
	Topic  string       `cbor:"topic" json:"topic"`
}
