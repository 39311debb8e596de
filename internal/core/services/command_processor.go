package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/core/ports"
	"chatfabric/pkg/codec"
	apperrors "chatfabric/pkg/errors"
	"chatfabric/pkg/lamport"
	"chatfabric/pkg/logger"
	"chatfabric/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metric labels for frames that never resolve to a known command.
const (
	labelUndecodable = "undecodable"
	labelMalformed   = "malformed"
	labelUnknown     = "unknown"
)

type commandProcessor struct {
	directory   ports.DirectoryRepository
	clock       *lamport.Clock
	broadcaster ports.Broadcaster
	audit       ports.AuditSink
	metrics     ports.CommandMetrics
	history     *History
	logger      *logger.ContextLogger

	// publishMu orders event clock assignment, history and fan-out so that
	// events on a topic are delivered in clock order.
	publishMu sync.Mutex

	now func() time.Time
}

// NewCommandProcessor wires the processor. audit and metrics may be nil.
func NewCommandProcessor(
	directory ports.DirectoryRepository,
	clock *lamport.Clock,
	broadcaster ports.Broadcaster,
	audit ports.AuditSink,
	metrics ports.CommandMetrics,
	history *History,
	log *zap.Logger,
) ports.CommandProcessor {
	if history == nil {
		history = NewHistory(0)
	}
	return &commandProcessor{
		directory:   directory,
		clock:       clock,
		broadcaster: broadcaster,
		audit:       audit,
		metrics:     metrics,
		history:     history,
		logger:      logger.NewContextLogger(log),
		now:         time.Now,
	}
}

func (p *commandProcessor) HandleFrame(ctx context.Context, frame []byte) []byte {
	var req domain.Request
	var resp domain.ResponseEnvelope

	if err := codec.Unmarshal(frame, &req); err != nil {
		// Nothing trustworthy to observe; only the local tick applies.
		p.logger.Sugared(ctx).Warnw("undecodable command frame", "error", err, "size", len(frame))
		resp = errorResponse(apperrors.NewMalformedRequestError(err), p.clock.Tick())
		if p.metrics != nil {
			p.metrics.RecordCommand(labelUndecodable, resp.Status, 0)
			p.metrics.RecordClock(resp.Clock)
		}
	} else {
		resp = p.handleRequest(ctx, req)
	}

	out, err := codec.Marshal(resp)
	if err != nil {
		p.logger.Sugared(ctx).Errorw("failed to encode response", "error", err, "clock", resp.Clock)
		out, _ = codec.Marshal(errorResponse(apperrors.NewInternalError("response encoding failed"), resp.Clock))
	}
	return out
}

// handleRequest processes a decoded frame whose fields may still be invalid.
func (p *commandProcessor) handleRequest(ctx context.Context, req domain.Request) domain.ResponseEnvelope {
	env, err := domain.ParseRequest(req)
	if err == nil {
		return p.Process(ctx, env)
	}

	start := time.Now()
	p.clock.Observe(req.Timestamp)

	// Client-chosen names never become metric labels.
	var appErr *apperrors.AppError
	label := labelMalformed
	if errors.Is(err, domain.ErrUnknownCommand) {
		appErr = apperrors.NewUnknownCommandError(req.Command)
		label = labelUnknown
	} else {
		appErr = apperrors.NewMalformedRequestError(err)
	}

	resp := errorResponse(appErr, p.clock.Tick())
	p.finish(ctx, label, domain.AuditEntry{
		Command: req.Command,
		Topic:   req.Topic,
		Payload: req.Payload,
		Sender:  firstNonEmpty(req.User, req.Username),
	}, resp, start)
	return resp
}

func (p *commandProcessor) Process(ctx context.Context, env domain.CommandEnvelope) domain.ResponseEnvelope {
	start := time.Now()
	if env.Command == nil {
		p.clock.Observe(env.SenderClock)
		resp := errorResponse(apperrors.NewMalformedRequestError(errors.New("command is required")), p.clock.Tick())
		p.finish(ctx, labelMalformed, domain.AuditEntry{}, resp, start)
		return resp
	}

	name := string(env.Command.Name())
	ctx, span := tracing.TraceCommand(ctx, name, env.SenderClock)
	defer span.End()

	observed := p.clock.Observe(env.SenderClock)

	data, err := p.dispatch(ctx, env.Command)

	var resp domain.ResponseEnvelope
	if err != nil {
		tracing.RecordError(ctx, err)
		tracing.AddSpanAttributes(ctx, tracing.ErrorCodeKey.String(string(apperrors.CodeOf(err))))
		resp = errorResponse(err, p.clock.Tick())
	} else {
		resp = domain.ResponseEnvelope{Status: domain.StatusOK, Data: data, Clock: p.clock.Tick()}
	}

	tracing.AddSpanAttributes(ctx,
		tracing.ObservedKey.Int64(observed),
		tracing.ClockKey.Int64(resp.Clock),
		tracing.StatusKey.String(string(resp.Status)),
	)

	p.finish(ctx, name, auditEntryFor(env.Command), resp, start)
	return resp
}

func (p *commandProcessor) dispatch(ctx context.Context, cmd domain.Command) (map[string]any, error) {
	switch c := cmd.(type) {
	case domain.Login:
		created, err := p.directory.RegisterUser(ctx, c.Username, p.clock.Value())
		if err != nil {
			return nil, internalError(err, "failed to register user")
		}
		return map[string]any{"username": c.Username, "created": created}, nil

	case domain.ListUsers:
		users, err := p.directory.ListUsers(ctx)
		if err != nil {
			return nil, internalError(err, "failed to list users")
		}
		return map[string]any{"users": wireStrings(users)}, nil

	case domain.ListChannels:
		channels, err := p.directory.ListChannels(ctx)
		if err != nil {
			return nil, internalError(err, "failed to list channels")
		}
		return map[string]any{"channels": wireStrings(channels)}, nil

	case domain.CreateChannel:
		if err := p.directory.CreateChannel(ctx, c.Channel, p.clock.Value()); err != nil {
			if errors.Is(err, domain.ErrChannelAlreadyExists) {
				return nil, apperrors.NewChannelAlreadyExistsError(c.Channel)
			}
			return nil, internalError(err, "failed to create channel")
		}
		return map[string]any{"channel": c.Channel}, nil

	case domain.Subscribe:
		if err := p.directory.Subscribe(ctx, c.User, c.Channel); err != nil {
			switch {
			case errors.Is(err, domain.ErrChannelNotFound):
				return nil, apperrors.NewChannelNotFoundError(c.Channel)
			case errors.Is(err, domain.ErrAlreadySubscribed):
				return nil, apperrors.NewAlreadySubscribedError(c.User, c.Channel)
			}
			return nil, internalError(err, "failed to subscribe")
		}
		return map[string]any{"channel": c.Channel}, nil

	case domain.PrivateMessage:
		// Private topics need no directory object; an unknown recipient
		// simply has no entitled endpoint.
		event := p.emit(ctx, c.To, c.From, fmt.Sprintf("[%s] %s", c.From, c.Payload), "private")
		return map[string]any{"topic": c.To, "id": event.ID}, nil

	case domain.Publish:
		if _, err := p.directory.GetChannel(ctx, c.Channel); err != nil {
			if errors.Is(err, domain.ErrChannelNotFound) {
				return nil, apperrors.NewChannelNotFoundError(c.Channel)
			}
			return nil, internalError(err, "failed to resolve channel")
		}
		event := p.emit(ctx, c.Channel, c.From, fmt.Sprintf("[%s] %s", c.Channel, c.Payload), "channel")
		return map[string]any{"topic": c.Channel, "id": event.ID}, nil

	case domain.History:
		entitled, err := p.directory.IsSubscribed(ctx, c.User, c.Topic)
		if err != nil {
			return nil, internalError(err, "failed to check subscription")
		}
		if !entitled {
			return nil, apperrors.NewNotSubscribedError(c.User, c.Topic)
		}
		recent := p.history.Recent(c.Topic)
		messages := make([]any, 0, len(recent))
		for _, event := range recent {
			messages = append(messages, event.WireMap())
		}
		return map[string]any{"topic": c.Topic, "messages": messages}, nil
	}

	return nil, apperrors.NewUnknownCommandError(string(cmd.Name()))
}

// emit stamps a new event with its own clock value and hands it to the
// broadcaster. Fan-out failures are logged; the command still succeeds.
func (p *commandProcessor) emit(ctx context.Context, topic, sender, message, kind string) domain.BroadcastEvent {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	event := domain.BroadcastEvent{
		ID:      uuid.NewString(),
		Topic:   topic,
		Sender:  sender,
		Message: message,
		Clock:   p.clock.Tick(),
	}
	p.history.Append(event)

	if err := p.broadcaster.Publish(ctx, event); err != nil {
		p.logger.Sugared(ctx).Warnw("broadcast failed",
			"topic", topic,
			"clock", event.Clock,
			"error", err,
		)
	}
	if p.metrics != nil {
		p.metrics.RecordBroadcast(kind)
	}
	return event
}

// finish records the outcome. label is the bounded metrics label; the audit
// entry keeps its own Command when the caller set one.
func (p *commandProcessor) finish(ctx context.Context, label string, entry domain.AuditEntry, resp domain.ResponseEnvelope, start time.Time) {
	elapsed := time.Since(start)
	if entry.Command == "" {
		entry.Command = label
	}

	if p.audit != nil {
		entry.ID = uuid.NewString()
		entry.Time = p.now().UTC()
		entry.Status = resp.Status
		entry.Clock = resp.Clock
		p.audit.Record(entry)
	}

	if p.metrics != nil {
		p.metrics.RecordCommand(label, resp.Status, elapsed)
		p.metrics.RecordClock(resp.Clock)
	}

	p.logger.Sugared(ctx).Debugw("command processed",
		"command", entry.Command,
		"status", resp.Status,
		"clock", resp.Clock,
		"duration", elapsed,
	)
}

func auditEntryFor(cmd domain.Command) domain.AuditEntry {
	switch c := cmd.(type) {
	case domain.Login:
		return domain.AuditEntry{Sender: c.Username}
	case domain.CreateChannel:
		return domain.AuditEntry{Topic: c.Channel}
	case domain.Subscribe:
		return domain.AuditEntry{Sender: c.User, Topic: c.Channel}
	case domain.PrivateMessage:
		return domain.AuditEntry{Sender: c.From, Topic: c.To, Payload: c.Payload}
	case domain.Publish:
		return domain.AuditEntry{Sender: c.From, Topic: c.Channel, Payload: c.Payload}
	case domain.History:
		return domain.AuditEntry{Sender: c.User, Topic: c.Topic}
	}
	return domain.AuditEntry{}
}

func errorResponse(err error, clock int64) domain.ResponseEnvelope {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = internalError(err, "internal error")
	}
	return domain.ResponseEnvelope{Status: domain.StatusError, Data: appErr.Data(), Clock: clock}
}

func internalError(err error, message string) *apperrors.AppError {
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, message, http.StatusInternalServerError)
}

// wireStrings returns values in the shape the codec decodes them to, so a
// response Data map survives an encode/decode cycle unchanged.
func wireStrings(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
