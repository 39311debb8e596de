package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatfabric/internal/core/domain"
	"chatfabric/pkg/batch"
	apperrors "chatfabric/pkg/errors"

	"go.uber.org/zap"
)

// Writer persists batches of audit entries.
type Writer interface {
	Write(ctx context.Context, entries []domain.AuditEntry) error
	Close() error
}

// Metrics receives sink loss counters. A nil Metrics is allowed.
type Metrics interface {
	RecordAuditDropped()
	RecordAuditFailed(entries int)
}

type SinkConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Sink is the asynchronous front of the audit log. Record enqueues and
// returns immediately; a background loop writes batches. Entries that do
// not fit in the buffer and batches the writer rejects are counted, not
// retried.
type Sink struct {
	batcher *batch.Batcher[domain.AuditEntry]
	writer  Writer
	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewSink(writer Writer, cfg SinkConfig, metrics Metrics, logger *zap.SugaredLogger) *Sink {
	s := &Sink{
		writer:  writer,
		metrics: metrics,
		logger:  logger,
	}
	s.batcher = batch.NewBatcher[domain.AuditEntry](
		cfg.BufferSize,
		cfg.BatchSize,
		cfg.FlushInterval,
		writer.Write,
		batch.WithErrorHandler[domain.AuditEntry](s.onWriteError),
	)
	return s
}

func (s *Sink) Record(entry domain.AuditEntry) {
	if s.batcher.Offer(entry) {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordAuditDropped()
	}
	s.logger.Warnw("audit buffer full, entry dropped",
		"command", entry.Command,
		"clock", entry.Clock,
	)
}

func (s *Sink) onWriteError(err error, entries int) {
	if s.metrics != nil {
		s.metrics.RecordAuditFailed(entries)
	}
	appErr := apperrors.NewAuditWriteError(err).WithContext("entries", entries)
	s.logger.Errorw("audit write failed",
		"code", appErr.Code,
		"entries", entries,
		"error", err,
	)
}

// Stats reports the sink's lifetime counters.
func (s *Sink) Stats() (written, dropped, failed int64) {
	return s.batcher.Flushed(), s.batcher.Dropped(), s.batcher.Failed()
}

// Close flushes buffered entries and closes the writer.
func (s *Sink) Close(ctx context.Context) error {
	flushErr := s.batcher.Close(ctx)
	if errors.Is(flushErr, batch.ErrClosed) {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("failed to close audit writer: %w", err))
	}
	return flushErr
}

// MultiWriter writes every batch to all writers and reports the joined
// errors.
type MultiWriter []Writer

func (m MultiWriter) Write(ctx context.Context, entries []domain.AuditEntry) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
