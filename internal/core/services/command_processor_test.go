package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/infrastructure/monitoring"
	"chatfabric/internal/infrastructure/repositories/memory"
	"chatfabric/pkg/codec"
	"chatfabric/pkg/lamport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.BroadcastEvent
	err    error
}

func (b *recordingBroadcaster) Publish(ctx context.Context, event domain.BroadcastEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return b.err
}

func (b *recordingBroadcaster) Events() []domain.BroadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.BroadcastEvent(nil), b.events...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Record(entry domain.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAudit) Entries() []domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...)
}

type MockCommandMetrics struct {
	mock.Mock
}

func (m *MockCommandMetrics) RecordCommand(command string, status domain.Status, d time.Duration) {
	m.Called(command, status, d)
}

func (m *MockCommandMetrics) RecordClock(value int64) {
	m.Called(value)
}

func (m *MockCommandMetrics) RecordBroadcast(kind string) {
	m.Called(kind)
}

type fixture struct {
	processor   *commandProcessor
	clock       *lamport.Clock
	broadcaster *recordingBroadcaster
	audit       *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := lamport.NewClock()
	broadcaster := &recordingBroadcaster{}
	audit := &recordingAudit{}
	p := NewCommandProcessor(
		memory.NewMemoryDirectoryRepository(),
		clock,
		broadcaster,
		audit,
		nil,
		NewHistory(10),
		zap.NewNop(),
	)
	return &fixture{
		processor:   p.(*commandProcessor),
		clock:       clock,
		broadcaster: broadcaster,
		audit:       audit,
	}
}

func (f *fixture) run(t *testing.T, req domain.Request) domain.ResponseEnvelope {
	t.Helper()
	frame, err := codec.Marshal(req)
	require.NoError(t, err)

	var resp domain.ResponseEnvelope
	require.NoError(t, codec.Unmarshal(f.processor.HandleFrame(context.Background(), frame), &resp))
	return resp
}

func TestProcessor_Scenario(t *testing.T) {
	f := newFixture(t)

	resp := f.run(t, domain.Request{Command: "login", Username: "alice", Timestamp: 1})
	require.True(t, resp.OK())
	assert.Equal(t, int64(3), resp.Clock, "observe(1)=2 then tick")

	resp = f.run(t, domain.Request{Command: "login", Username: "bob", Timestamp: resp.Clock})
	require.True(t, resp.OK())

	resp = f.run(t, domain.Request{Command: "channel", Channel: "news", Timestamp: 2})
	require.True(t, resp.OK())

	resp = f.run(t, domain.Request{Command: "subscribe", User: "bob", Channel: "news", Timestamp: 3})
	require.True(t, resp.OK())

	before := f.clock.Value()
	resp = f.run(t, domain.Request{Command: "publish", User: "alice", Topic: "news", Payload: "hi", Timestamp: 4})
	require.True(t, resp.OK())
	assert.Equal(t, domain.StatusOK, resp.Status)

	events := f.broadcaster.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "news", events[0].Topic)
	assert.Equal(t, "[news] hi", events[0].Message)
	assert.Equal(t, "alice", events[0].Sender)
	assert.NotEmpty(t, events[0].ID)
	assert.Greater(t, events[0].Clock, before)
	assert.Greater(t, resp.Clock, events[0].Clock)
	assert.Equal(t, events[0].ID, resp.Data["id"])
}

func TestProcessor_ResponseClockExceedsSenderClock(t *testing.T) {
	f := newFixture(t)

	for _, ts := range []int64{0, 100, 5, 1000, 3} {
		before := f.clock.Value()
		resp := f.run(t, domain.Request{Command: "users", Timestamp: ts})
		assert.Greater(t, resp.Clock, ts)
		assert.Greater(t, resp.Clock, before)
	}
	assert.Equal(t, int64(1004), f.clock.Value())
}

func TestProcessor_LoginIdempotent(t *testing.T) {
	f := newFixture(t)

	first := f.run(t, domain.Request{Command: "login", Username: "alice", Timestamp: 1})
	second := f.run(t, domain.Request{Command: "login", Username: "alice", Timestamp: 1})
	require.True(t, first.OK())
	require.True(t, second.OK())
	assert.Equal(t, true, first.Data["created"])
	assert.Equal(t, false, second.Data["created"])

	resp := f.run(t, domain.Request{Command: "users"})
	assert.Equal(t, []any{"alice"}, resp.Data["users"])
}

func TestProcessor_ListChannels(t *testing.T) {
	f := newFixture(t)
	f.run(t, domain.Request{Command: "channel", Channel: "b"})
	f.run(t, domain.Request{Command: "channel", Channel: "a"})

	resp := f.run(t, domain.Request{Command: "channels"})
	require.True(t, resp.OK())
	assert.Equal(t, []any{"b", "a"}, resp.Data["channels"])
}

func TestProcessor_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup []domain.Request
		req   domain.Request
		code  string
		key   string
		value any
	}{
		{
			name:  "channel already exists",
			setup: []domain.Request{{Command: "channel", Channel: "x"}},
			req:   domain.Request{Command: "channel", Channel: "x"},
			code:  "CHANNEL_ALREADY_EXISTS",
			key:   "channel",
			value: "x",
		},
		{
			name:  "subscribe to missing channel",
			req:   domain.Request{Command: "subscribe", User: "userA", Channel: "x"},
			code:  "CHANNEL_NOT_FOUND",
			key:   "channel",
			value: "x",
		},
		{
			name: "already subscribed",
			setup: []domain.Request{
				{Command: "channel", Channel: "x"},
				{Command: "subscribe", User: "bob", Channel: "x"},
			},
			req:   domain.Request{Command: "subscribe", User: "bob", Channel: "x"},
			code:  "ALREADY_SUBSCRIBED",
			key:   "channel",
			value: "x",
		},
		{
			name:  "publish to missing channel",
			req:   domain.Request{Command: "publish", User: "alice", Topic: "void", Payload: "hi"},
			code:  "CHANNEL_NOT_FOUND",
			key:   "channel",
			value: "void",
		},
		{
			name:  "unknown command",
			req:   domain.Request{Command: "dance"},
			code:  "UNKNOWN_COMMAND",
			key:   "command",
			value: "dance",
		},
		{
			name:  "missing field",
			req:   domain.Request{Command: "login"},
			code:  "MALFORMED_REQUEST",
			key:   "description",
			value: "malformed request",
		},
		{
			name:  "history without entitlement",
			setup: []domain.Request{{Command: "channel", Channel: "x"}},
			req:   domain.Request{Command: "history", User: "eve", Topic: "x"},
			code:  "NOT_SUBSCRIBED",
			key:   "topic",
			value: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for _, req := range tt.setup {
				require.True(t, f.run(t, req).OK())
			}

			resp := f.run(t, tt.req)
			assert.Equal(t, domain.StatusError, resp.Status)
			assert.Equal(t, tt.code, resp.Data["code"])
			assert.Equal(t, tt.value, resp.Data[tt.key])
			assert.NotEmpty(t, resp.Data["message"])
			assert.Empty(t, f.broadcaster.Events())

			// The connection stays usable.
			assert.True(t, f.run(t, domain.Request{Command: "users"}).OK())
		})
	}
}

func TestProcessor_SubscribeMissingChannelLeavesDirectoryUnchanged(t *testing.T) {
	f := newFixture(t)
	f.run(t, domain.Request{Command: "subscribe", User: "userA", Channel: "x"})

	subs, err := f.processor.directory.Subscribers(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, subs)
	channels, _ := f.processor.directory.ListChannels(context.Background())
	assert.Empty(t, channels)
}

func TestProcessor_UndecodableFrame(t *testing.T) {
	f := newFixture(t)
	f.clock.Observe(10)

	out := f.processor.HandleFrame(context.Background(), []byte{0xff, 0x00, 0x13})
	var resp domain.ResponseEnvelope
	require.NoError(t, codec.Unmarshal(out, &resp))

	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, "MALFORMED_REQUEST", resp.Data["code"])
	assert.Equal(t, "malformed request", resp.Data["description"])
	assert.Equal(t, int64(12), resp.Clock)
	assert.Empty(t, f.audit.Entries())
}

func TestProcessor_PrivateMessage(t *testing.T) {
	f := newFixture(t)
	f.run(t, domain.Request{Command: "login", Username: "bob"})

	resp := f.run(t, domain.Request{Command: "message", User: "alice", Topic: "bob", Payload: "psst"})
	require.True(t, resp.OK())

	events := f.broadcaster.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].Topic)
	assert.Equal(t, "[alice] psst", events[0].Message)

	// Unknown recipients are accepted; the broadcaster finds nobody entitled.
	resp = f.run(t, domain.Request{Command: "message", User: "alice", Topic: "nobody", Payload: "hello?"})
	assert.True(t, resp.OK())
}

func TestProcessor_BroadcastFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture(t)
	f.broadcaster.err = errors.New("redis down")
	f.run(t, domain.Request{Command: "channel", Channel: "news"})

	resp := f.run(t, domain.Request{Command: "publish", User: "alice", Topic: "news", Payload: "hi"})
	assert.True(t, resp.OK())
}

func TestProcessor_History(t *testing.T) {
	f := newFixture(t)
	f.run(t, domain.Request{Command: "channel", Channel: "news"})
	f.run(t, domain.Request{Command: "subscribe", User: "bob", Channel: "news"})
	f.run(t, domain.Request{Command: "publish", User: "alice", Topic: "news", Payload: "one"})
	f.run(t, domain.Request{Command: "publish", User: "alice", Topic: "news", Payload: "two"})

	resp := f.run(t, domain.Request{Command: "history", User: "bob", Topic: "news"})
	require.True(t, resp.OK())

	raw, err := codec.Marshal(resp.Data["messages"])
	require.NoError(t, err)
	var messages []domain.BroadcastEvent
	require.NoError(t, codec.Unmarshal(raw, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "[news] one", messages[0].Message)
	assert.Equal(t, "[news] two", messages[1].Message)
	assert.Less(t, messages[0].Clock, messages[1].Clock)
}

func TestProcessor_AuditEntries(t *testing.T) {
	f := newFixture(t)
	f.run(t, domain.Request{Command: "channel", Channel: "news"})
	resp := f.run(t, domain.Request{Command: "publish", User: "alice", Topic: "news", Payload: "hi"})
	f.run(t, domain.Request{Command: "dance"})

	entries := f.audit.Entries()
	require.Len(t, entries, 3)

	pub := entries[1]
	assert.Equal(t, "publish", pub.Command)
	assert.Equal(t, "news", pub.Topic)
	assert.Equal(t, "hi", pub.Payload)
	assert.Equal(t, "alice", pub.Sender)
	assert.Equal(t, domain.StatusOK, pub.Status)
	assert.Equal(t, resp.Clock, pub.Clock)
	assert.NotEmpty(t, pub.ID)
	assert.Equal(t, time.UTC, pub.Time.Location())

	assert.Equal(t, "dance", entries[2].Command)
	assert.Equal(t, domain.StatusError, entries[2].Status)
}

func TestProcessor_Metrics(t *testing.T) {
	metrics := new(MockCommandMetrics)
	metrics.On("RecordCommand", "channel", domain.StatusOK, mock.Anything).Once()
	metrics.On("RecordCommand", "publish", domain.StatusOK, mock.Anything).Once()
	metrics.On("RecordBroadcast", "channel").Once()
	metrics.On("RecordClock", mock.AnythingOfType("int64")).Twice()

	p := NewCommandProcessor(
		memory.NewMemoryDirectoryRepository(),
		lamport.NewClock(),
		&recordingBroadcaster{},
		nil,
		metrics,
		nil,
		zap.NewNop(),
	)

	ctx := context.Background()
	p.Process(ctx, domain.CommandEnvelope{Command: domain.CreateChannel{Channel: "news"}})
	p.Process(ctx, domain.CommandEnvelope{Command: domain.Publish{From: "alice", Channel: "news", Payload: "hi"}})

	metrics.AssertExpectations(t)
}

func TestProcessor_ConcurrentPublishKeepsClockOrder(t *testing.T) {
	f := newFixture(t)
	f.run(t, domain.Request{Command: "channel", Channel: "general"})

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.run(t, domain.Request{Command: "publish", User: "alice", Topic: "general", Payload: "m", Timestamp: int64(i)})
		}(i)
	}
	wg.Wait()

	events := f.broadcaster.Events()
	require.Len(t, events, workers)
	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].Clock, events[i].Clock)
	}
}

func commandLabels(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	labels := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "chatfabric_commands_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "command" {
					labels[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return labels
}

func TestProcessor_RejectedCommandNamesDoNotBecomeLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	audit := &recordingAudit{}
	p := NewCommandProcessor(
		memory.NewMemoryDirectoryRepository(),
		lamport.NewClock(),
		&recordingBroadcaster{},
		audit,
		monitoring.NewPrometheusCollector(reg),
		nil,
		zap.NewNop(),
	).(*commandProcessor)
	f := &fixture{processor: p}

	const junk = 500
	for i := 0; i < junk; i++ {
		resp := f.run(t, domain.Request{Command: fmt.Sprintf("junk-%d", i)})
		require.Equal(t, domain.StatusError, resp.Status)
	}
	f.run(t, domain.Request{Command: "login"})
	f.run(t, domain.Request{Command: "channel", Channel: "news"})

	labels := commandLabels(t, reg)
	assert.Equal(t, map[string]float64{
		"unknown":   junk,
		"malformed": 1,
		"channel":   1,
	}, labels)

	// The audit trail still names what the client actually sent.
	entries := audit.Entries()
	require.Len(t, entries, junk+2)
	assert.Equal(t, "junk-0", entries[0].Command)
	assert.Equal(t, "login", entries[junk].Command)
}

func TestProcessor_ResponseDataSurvivesWireRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	responses := []domain.ResponseEnvelope{
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.Login{Username: "alice"}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.CreateChannel{Channel: "news"}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.Subscribe{User: "alice", Channel: "news"}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.Publish{From: "alice", Channel: "news", Payload: "hi"}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.ListUsers{}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.ListChannels{}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.History{User: "alice", Topic: "news"}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.History{User: "alice", Topic: "alice"}}),
		f.processor.Process(ctx, domain.CommandEnvelope{Command: domain.CreateChannel{Channel: "news"}}),
	}

	for _, resp := range responses {
		raw, err := codec.Marshal(resp)
		require.NoError(t, err)

		var decoded domain.ResponseEnvelope
		require.NoError(t, codec.Unmarshal(raw, &decoded))
		assert.Equal(t, resp, decoded)
	}

	history := responses[6]
	require.True(t, history.OK())
	messages, ok := history.Data["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "[news] hi", messages[0].(map[string]any)["message"])
}
