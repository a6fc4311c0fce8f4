package xymodem

import "log/slog"

// loggerOrDefault mirrors the teacher's Session.logger field: a nil
// *slog.Logger on a Config falls back to slog.Default() rather than
// forcing every caller to wire one up.
func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
