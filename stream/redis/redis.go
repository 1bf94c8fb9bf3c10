// Package redis provides a stream log backed by Redis Streams. Consumer
// groups, pending lists, and stale-entry claiming map directly onto
// XREADGROUP, XACK, and XAUTOCLAIM.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/logging"
	"github.com/platformkit/eventstream/stream"
)

// BackendName is the name used to register this backend.
const BackendName = "redis"

// eventField is the stream entry field carrying the JSON envelope.
const eventField = "event"

func init() {
	stream.Register(BackendName, Build, stream.RedisCapabilities)
}

// Build creates a new Redis stream log from config.
func Build(ctx context.Context, cfg stream.Config, logger logging.ServiceLogger) (stream.Log, error) {
	return New(ctx, Config{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	}, logger)
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.RedisCapabilities
}

// Config holds Redis-specific configuration.
type Config struct {
	Addr     string
	Password string // optional
	DB       int    // optional
}

// Log implements stream.Log on Redis Streams.
type Log struct {
	client *redis.Client
	logger logging.ServiceLogger

	mu sync.Mutex
	// groups tracks which (stream, group) pairs have been created.
	groups map[string]bool
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger logging.ServiceLogger) (*Log, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Log{
		client: client,
		logger: logger,
		groups: make(map[string]bool),
	}, nil
}

// Append persists the event with XADD and returns the Redis stream id.
func (l *Log) Append(ctx context.Context, streamName string, event envelope.Event) (string, error) {
	payload, err := event.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]any{eventField: string(payload)},
	}).Result()
	if err != nil {
		return "", stream.Unavailable("append", err)
	}
	return id, nil
}

func (l *Log) ensureGroup(ctx context.Context, streamName, group string) error {
	key := streamName + "\x00" + group

	l.mu.Lock()
	created := l.groups[key]
	l.mu.Unlock()
	if created {
		return nil
	}

	err := l.client.XGroupCreateMkStream(ctx, streamName, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return stream.Unavailable("group_create", err)
	}

	l.mu.Lock()
	l.groups[key] = true
	l.mu.Unlock()
	return nil
}

// ReadGroup redelivers this consumer's own pending entries before reading
// new ones, so unacked deliveries come back on the next poll with the same
// id. The pending check does not block; only the read for new entries
// blocks server-side up to block.
func (l *Log) ReadGroup(ctx context.Context, streamName, group, consumer string, count int, block time.Duration) ([]stream.Entry, error) {
	if count <= 0 {
		count = 1
	}
	if err := l.ensureGroup(ctx, streamName, group); err != nil {
		return nil, err
	}

	entries, err := l.read(ctx, streamName, group, consumer, "0", count, -1)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		return entries, nil
	}

	if block <= 0 {
		block = -1
	}
	return l.read(ctx, streamName, group, consumer, ">", count, block)
}

func (l *Log) read(ctx context.Context, streamName, group, consumer, id string, count int, block time.Duration) ([]stream.Entry, error) {
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamName, id},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, stream.Unavailable("read_group", err)
	}

	var entries []stream.Entry
	for _, xs := range res {
		for _, msg := range xs.Messages {
			entry, err := l.decode(msg)
			if err != nil {
				l.logger.Error("dropping undecodable stream entry", err, logging.LogFields{
					"stream":      streamName,
					"delivery_id": msg.ID,
				})
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (l *Log) decode(msg redis.XMessage) (stream.Entry, error) {
	raw, ok := msg.Values[eventField].(string)
	if !ok {
		return stream.Entry{}, fmt.Errorf("entry %s has no %q field", msg.ID, eventField)
	}
	event, err := envelope.Unmarshal([]byte(raw))
	if err != nil {
		return stream.Entry{}, fmt.Errorf("decode entry %s: %w", msg.ID, err)
	}
	return stream.Entry{DeliveryID: msg.ID, Event: event}, nil
}

// Ack acknowledges the delivery with XACK. Acknowledging an unknown id is a
// no-op on the Redis side as well.
func (l *Log) Ack(ctx context.Context, streamName, group, deliveryID string) error {
	if err := l.client.XAck(ctx, streamName, group, deliveryID).Err(); err != nil {
		return stream.Unavailable("ack", err)
	}
	return nil
}

// ClaimStale reassigns entries idle longer than minIdle using XAUTOCLAIM.
func (l *Log) ClaimStale(ctx context.Context, streamName, group, consumer string, minIdle time.Duration, count int) ([]stream.Entry, error) {
	if count <= 0 {
		count = 1
	}
	if err := l.ensureGroup(ctx, streamName, group); err != nil {
		return nil, err
	}

	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamName,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, stream.Unavailable("claim_stale", err)
	}

	var entries []stream.Entry
	for _, msg := range msgs {
		entry, err := l.decode(msg)
		if err != nil {
			l.logger.Error("dropping undecodable claimed entry", err, logging.LogFields{
				"stream":      streamName,
				"delivery_id": msg.ID,
			})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PendingCount reports the group's pending-list depth via XPENDING.
func (l *Log) PendingCount(ctx context.Context, streamName, group string) (int64, error) {
	if err := l.ensureGroup(ctx, streamName, group); err != nil {
		return 0, err
	}

	pending, err := l.client.XPending(ctx, streamName, group).Result()
	if err != nil {
		return 0, stream.Unavailable("pending_count", err)
	}
	return pending.Count, nil
}

// DeliveryCount reports the delivery counter Redis keeps per pending entry.
func (l *Log) DeliveryCount(ctx context.Context, streamName, group, deliveryID string) (int64, error) {
	ext, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  group,
		Start:  deliveryID,
		End:    deliveryID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, stream.Unavailable("delivery_count", err)
	}
	if len(ext) == 0 {
		return 0, nil
	}
	return ext[0].RetryCount, nil
}

// Trim caps the stream length with XTRIM MAXLEN.
func (l *Log) Trim(ctx context.Context, streamName string, maxLen int64) (int64, error) {
	removed, err := l.client.XTrimMaxLen(ctx, streamName, maxLen).Result()
	if err != nil {
		return 0, stream.Unavailable("trim", err)
	}
	return removed, nil
}

// Close closes the Redis client.
func (l *Log) Close() error {
	return l.client.Close()
}

// Client returns the underlying Redis client for advanced use cases.
func (l *Log) Client() *redis.Client {
	return l.client
}
