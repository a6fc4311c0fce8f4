// Package progress publishes xymodem.Event notifications to Redis so a
// supervising process can observe an in-flight transfer without being on
// the critical path of the transfer itself.
package progress

import (
	"context"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/modemkit/xymodem"
)

// RedisReporter publishes each Event as a CBOR-encoded message on a
// fixed Redis channel. It implements xymodem.Reporter.
type RedisReporter struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisReporter wraps an existing Redis client. logger may be nil, in
// which case slog.Default() is used for publish-failure diagnostics.
func NewRedisReporter(client *redis.Client, channel string, logger *slog.Logger) *RedisReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisReporter{client: client, channel: channel, logger: logger}
}

// Report CBOR-encodes ev and publishes it. Publish failures are logged
// and swallowed — a transfer must never fail because its progress
// channel is unavailable.
func (r *RedisReporter) Report(ev xymodem.Event) {
	data, err := cbor.Marshal(ev)
	if err != nil {
		r.logger.Warn("progress: cbor marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(context.Background(), r.channel, data).Err(); err != nil {
		r.logger.Warn("progress: redis publish failed", "channel", r.channel, "error", err)
	}
}

// Close releases the underlying Redis client.
func (r *RedisReporter) Close() error {
	return r.client.Close()
}
