package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// payloadField is the stream entry field carrying the JSON payload.
	payloadField = "payload"

	// defaultBlock bounds how long a single XREADGROUP call blocks before
	// the receive loop re-checks for reclaimable entries.
	defaultBlock = 5 * time.Second

	// defaultMinIdle is how long a pending entry must sit unacknowledged
	// before another consumer may claim it.
	defaultMinIdle = 30 * time.Second
)

// RedisConfig holds the connection and consumer group parameters for a
// Redis stream source.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Stream is the stream key the SMTP gateway publishes to.
	Stream string

	// Group is the consumer group name shared by all daemon instances.
	Group string

	// Consumer is this instance's consumer name within the group.
	Consumer string

	// Block bounds each blocking read. Zero selects the default.
	Block time.Duration

	// MinIdle is how long an unacknowledged entry must idle before it is
	// claimed from a dead consumer. Zero selects the default.
	MinIdle time.Duration
}

// RedisSource consumes inbound emails from a Redis stream via a consumer
// group, giving at-least-once delivery: entries stay in the pending list
// until acked, and idle pending entries are reclaimed on later reads.
type RedisSource struct {
	cfg RedisConfig
	rdb *redis.Client
}

// NewRedisSource connects to Redis and ensures the consumer group exists,
// creating the stream alongside it if needed.
func NewRedisSource(ctx context.Context,
	cfg RedisConfig) (*RedisSource, error) {

	if cfg.Block == 0 {
		cfg.Block = defaultBlock
	}
	if cfg.MinIdle == 0 {
		cfg.MinIdle = defaultMinIdle
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	err := rdb.XGroupCreateMkStream(
		ctx, cfg.Stream, cfg.Group, "0",
	).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		rdb.Close()
		return nil, fmt.Errorf("unable to create consumer "+
			"group %s: %w", cfg.Group, err)
	}

	return &RedisSource{cfg: cfg, rdb: rdb}, nil
}

// Compile time check that RedisSource implements Source.
var _ Source = (*RedisSource)(nil)

// Receive blocks until a stream entry is available. Entries abandoned by
// crashed consumers are claimed before new entries are read.
func (s *RedisSource) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}

		msg, ok, err := s.claimStale(ctx)
		if err != nil {
			return Delivery{}, err
		}
		if ok {
			return s.delivery(msg), nil
		}

		msg, ok, err = s.readNew(ctx)
		if err != nil {
			return Delivery{}, err
		}
		if ok {
			return s.delivery(msg), nil
		}
	}
}

// claimStale transfers ownership of one sufficiently idle pending entry from
// any consumer in the group.
func (s *RedisSource) claimStale(
	ctx context.Context) (redis.XMessage, bool, error) {

	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  s.cfg.MinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("unable to claim "+
			"pending entries: %w", err)
	}

	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	return msgs[0], true, nil
}

// readNew performs one bounded blocking read for entries not yet delivered
// to any consumer.
func (s *RedisSource) readNew(
	ctx context.Context) (redis.XMessage, bool, error) {

	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    1,
		Block:    s.cfg.Block,
	}).Result()
	switch {
	case err == redis.Nil:
		return redis.XMessage{}, false, nil

	case err != nil:
		// Context cancellation surfaces through the client here.
		if ctx.Err() != nil {
			return redis.XMessage{}, false, ctx.Err()
		}
		return redis.XMessage{}, false, fmt.Errorf("unable to read "+
			"stream %s: %w", s.cfg.Stream, err)
	}

	for _, stream := range streams {
		if len(stream.Messages) > 0 {
			return stream.Messages[0], true, nil
		}
	}

	return redis.XMessage{}, false, nil
}

// delivery wraps a stream entry with its ack callbacks. A nack is
// deliberately a no-op: the entry stays in the pending list and is reclaimed
// by a later claimStale pass once it has idled long enough.
func (s *RedisSource) delivery(msg redis.XMessage) Delivery {
	var payload []byte
	if raw, ok := msg.Values[payloadField].(string); ok {
		payload = []byte(raw)
	}

	return Delivery{
		Payload: payload,
		ack: func(ctx context.Context) error {
			return s.rdb.XAck(
				ctx, s.cfg.Stream, s.cfg.Group, msg.ID,
			).Err()
		},
		nack: func(ctx context.Context) error {
			return nil
		},
	}
}

// Close tears down the Redis connection.
func (s *RedisSource) Close() error {
	return s.rdb.Close()
}
