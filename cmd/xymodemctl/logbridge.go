package main

import (
	"context"
	"log/slog"

	log "github.com/sirupsen/logrus"
)

// logrusHandler forwards slog records into a logrus.Logger, so the
// engine's Debug/Warn trace and the CLI's own Info/Fatal lines share one
// -v flag and one output stream.
type logrusHandler struct {
	logger *log.Logger
	attrs  []slog.Attr
}

func newLogrusHandler(logger *log.Logger) *logrusHandler {
	return &logrusHandler{logger: logger}
}

func (h *logrusHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelDebug
}

func (h *logrusHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make(log.Fields, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	entry := h.logger.WithFields(fields)
	switch {
	case record.Level >= slog.LevelError:
		entry.Error(record.Message)
	case record.Level >= slog.LevelWarn:
		entry.Warn(record.Message)
	case record.Level >= slog.LevelInfo:
		entry.Info(record.Message)
	default:
		entry.Debug(record.Message)
	}
	return nil
}

func (h *logrusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &logrusHandler{logger: h.logger, attrs: merged}
}

func (h *logrusHandler) WithGroup(_ string) slog.Handler {
	return h
}
