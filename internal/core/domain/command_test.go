package domain_test

import (
	"errors"
	"strings"
	"testing"

	"chatfabric/internal/core/domain"
	"chatfabric/pkg/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_Variants(t *testing.T) {
	tests := []struct {
		name string
		req  domain.Request
		want domain.Command
	}{
		{"login", domain.Request{Command: "login", Username: "alice"}, domain.Login{Username: "alice"}},
		{"users", domain.Request{Command: "users"}, domain.ListUsers{}},
		{"channels", domain.Request{Command: "channels"}, domain.ListChannels{}},
		{"create channel", domain.Request{Command: "channel", Channel: "news"}, domain.CreateChannel{Channel: "news"}},
		{"subscribe", domain.Request{Command: "subscribe", User: "bob", Channel: "news"}, domain.Subscribe{User: "bob", Channel: "news"}},
		{"private", domain.Request{Command: "message", User: "alice", Topic: "bob", Payload: "hey"}, domain.PrivateMessage{From: "alice", To: "bob", Payload: "hey"}},
		{"publish", domain.Request{Command: "publish", User: "alice", Topic: "news", Payload: "hi"}, domain.Publish{From: "alice", Channel: "news", Payload: "hi"}},
		{"publish empty payload", domain.Request{Command: "publish", User: "alice", Topic: "news"}, domain.Publish{From: "alice", Channel: "news"}},
		{"history", domain.Request{Command: "history", User: "bob", Topic: "news"}, domain.History{User: "bob", Topic: "news"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Timestamp = 7
			env, err := domain.ParseRequest(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Command)
			assert.Equal(t, int64(7), env.SenderClock)
		})
	}
}

func TestParseRequest_Malformed(t *testing.T) {
	tests := []struct {
		name string
		req  domain.Request
	}{
		{"empty command", domain.Request{}},
		{"login without username", domain.Request{Command: "login"}},
		{"channel without name", domain.Request{Command: "channel"}},
		{"subscribe without channel", domain.Request{Command: "subscribe", User: "bob"}},
		{"message without topic", domain.Request{Command: "message", User: "alice", Payload: "x"}},
		{"publish without user", domain.Request{Command: "publish", Topic: "news", Payload: "x"}},
		{"publish oversized payload", domain.Request{Command: "publish", User: "a", Topic: "news", Payload: strings.Repeat("x", 20000)}},
		{"username with newline", domain.Request{Command: "login", Username: "al\nice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Timestamp = 3
			env, err := domain.ParseRequest(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedRequest), "got %v", err)
			assert.Nil(t, env.Command)
			assert.Equal(t, int64(3), env.SenderClock)
		})
	}
}

func TestParseRequest_UnknownCommand(t *testing.T) {
	_, err := domain.ParseRequest(domain.Request{Command: "election", Timestamp: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownCommand))
	assert.Contains(t, err.Error(), "election")
}

func TestCommandEnvelope_WireRoundTrip(t *testing.T) {
	envelopes := []domain.CommandEnvelope{
		{Command: domain.Login{Username: "alice"}, SenderClock: 1},
		{Command: domain.ListUsers{}, SenderClock: 2},
		{Command: domain.ListChannels{}, SenderClock: 3},
		{Command: domain.CreateChannel{Channel: "news"}, SenderClock: 4},
		{Command: domain.Subscribe{User: "bob", Channel: "news"}, SenderClock: 5},
		{Command: domain.PrivateMessage{From: "alice", To: "bob", Payload: "psst"}, SenderClock: 6},
		{Command: domain.Publish{From: "alice", Channel: "news", Payload: "hi"}, SenderClock: 7},
		{Command: domain.History{User: "bob", Topic: "news"}, SenderClock: 8},
	}

	for _, env := range envelopes {
		t.Run(string(env.Command.Name()), func(t *testing.T) {
			data, err := codec.Marshal(env.Request())
			require.NoError(t, err)

			var req domain.Request
			require.NoError(t, codec.Unmarshal(data, &req))

			got, err := domain.ParseRequest(req)
			require.NoError(t, err)
			assert.Equal(t, env, got)
		})
	}
}

func TestResponseEnvelope_WireRoundTrip(t *testing.T) {
	responses := []domain.ResponseEnvelope{
		{Status: domain.StatusOK, Clock: 3},
		{Status: domain.StatusOK, Data: map[string]any{"users": []any{"alice", "bob"}}, Clock: 10},
		{Status: domain.StatusOK, Data: map[string]any{"user": "alice", "created": true}, Clock: 11},
		{Status: domain.StatusError, Data: map[string]any{"code": "CHANNEL_NOT_FOUND", "message": "channel not found: x", "event_clock": int64(4)}, Clock: 12},
	}

	for _, resp := range responses {
		data, err := codec.Marshal(resp)
		require.NoError(t, err)

		var got domain.ResponseEnvelope
		require.NoError(t, codec.Unmarshal(data, &got))
		assert.Equal(t, resp, got)
	}
}

func TestBroadcastEvent_WireRoundTrip(t *testing.T) {
	events := []domain.BroadcastEvent{
		{Topic: "news", Message: "[news] hi", Clock: 9},
		{ID: "e-1", Topic: "bob", Sender: "alice", Message: "[alice] psst", Clock: 1 << 40},
	}

	for _, ev := range events {
		data, err := codec.Marshal(ev)
		require.NoError(t, err)

		var got domain.BroadcastEvent
		require.NoError(t, codec.Unmarshal(data, &got))
		assert.Equal(t, ev, got)
	}
}

func TestBroadcastEvent_UsesTimestampKey(t *testing.T) {
	data, err := codec.Marshal(domain.BroadcastEvent{Topic: "news", Message: "m", Clock: 5})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, codec.Unmarshal(data, &raw))
	assert.Equal(t, int64(5), raw["timestamp"])
	assert.Equal(t, "m", raw["message"])
}

func TestChannel_HasSubscriber(t *testing.T) {
	ch := domain.Channel{Name: "news", Subscribers: []string{"alice", "bob"}}
	assert.True(t, ch.HasSubscriber("bob"))
	assert.False(t, ch.HasSubscriber("Bob"))
}
