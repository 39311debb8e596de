package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"chatfabric/internal/core/domain"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileWriter appends one JSON object per entry to a file.
type FileWriter struct {
	file   *os.File
	logger *zap.Logger
}

// NewFileWriter opens path for appending, creating parent directories.
func NewFileWriter(path string) (*FileWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(file),
		zapcore.InfoLevel,
	)

	return &FileWriter{file: file, logger: zap.New(core)}, nil
}

func (w *FileWriter) Write(ctx context.Context, entries []domain.AuditEntry) error {
	for _, e := range entries {
		w.logger.Info("command",
			zap.String("id", e.ID),
			zap.Time("time", e.Time),
			zap.String("command", e.Command),
			zap.String("topic", e.Topic),
			zap.String("payload", e.Payload),
			zap.String("sender", e.Sender),
			zap.String("status", string(e.Status)),
			zap.Int64("clock", e.Clock),
		)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

func (w *FileWriter) Close() error {
	_ = w.logger.Sync()
	return w.file.Close()
}
