package ports

import (
	"context"
	"time"

	"chatfabric/internal/core/domain"
)

// CommandProcessor answers one command request.
type CommandProcessor interface {
	Process(ctx context.Context, env domain.CommandEnvelope) domain.ResponseEnvelope
	// HandleFrame decodes a wire frame, processes it and encodes the
	// response. It never fails: undecodable frames get an error response.
	HandleFrame(ctx context.Context, frame []byte) []byte
}

// Broadcaster fans an accepted event out to every endpoint entitled to its
// topic.
type Broadcaster interface {
	Publish(ctx context.Context, event domain.BroadcastEvent) error
}

// AuditSink records processed commands. Record must not block on I/O;
// failures are counted and reported by the sink itself.
type AuditSink interface {
	Record(entry domain.AuditEntry)
}

// CommandMetrics receives per-command measurements.
type CommandMetrics interface {
	RecordCommand(command string, status domain.Status, duration time.Duration)
	RecordClock(value int64)
	RecordBroadcast(kind string)
}
