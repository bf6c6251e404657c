package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// firehoseSuffix is the stream receiving a copy of every event, serving
// wildcard subscriptions.
const firehoseSuffix = "all"

// RedisBus is a distributed event bus backed by Redis Streams. Each event
// type gets its own stream plus a copy on the firehose stream; consumers
// read through consumer groups so multiple bizy nodes share the load.
type RedisBus struct {
	client   *redis.Client
	logger   zerolog.Logger
	prefix   string
	group    string
	consumer string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// RedisBusConfig configures the Redis Streams backend.
type RedisBusConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password authenticates against the server, empty for none.
	Password string

	// DB selects the Redis logical database.
	DB int

	// Prefix namespaces the stream keys. Defaults to "bizy".
	Prefix string

	// Group is the consumer group name. Defaults to "bizy-consumers".
	Group string
}

// NewRedisBus connects to Redis and returns a streams-backed bus.
func NewRedisBus(logger zerolog.Logger, cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "bizy"
	}
	if cfg.Group == "" {
		cfg.Group = "bizy-consumers"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ctx, busCancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:   client,
		logger:   logger.With().Str("component", "redis-event-bus").Logger(),
		prefix:   cfg.Prefix,
		group:    cfg.Group,
		consumer: "consumer-" + uuid.New().String()[:8],
		ctx:      ctx,
		cancel:   busCancel,
	}, nil
}

// streamKey builds the stream name for a type: <prefix>:events:<type>.
func (b *RedisBus) streamKey(eventType string) string {
	name := strings.ReplaceAll(eventType, ".", ":")
	return fmt.Sprintf("%s:events:%s", b.prefix, name)
}

// Publish appends the event to its typed stream and the firehose stream.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streams := []string{
		b.streamKey(string(event.Type)),
		b.streamKey(firehoseSuffix),
	}
	for _, stream := range streams {
		if err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{"data": data},
		}).Err(); err != nil {
			return fmt.Errorf("failed to publish event to stream %s: %w", stream, err)
		}
	}

	b.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Msg("Event published to redis streams")

	return nil
}

// Subscribe starts a consumer group reader for the event type and returns
// a channel of events. Use Wildcard to read the firehose stream.
func (b *RedisBus) Subscribe(eventType string) (<-chan Event, func()) {
	stream := b.streamKey(firehoseSuffix)
	if eventType != Wildcard {
		stream = b.streamKey(eventType)
	}

	ch := make(chan Event, defaultSubscriberBuffer)
	subCtx, cancel := context.WithCancel(b.ctx)

	// Create the consumer group; BUSYGROUP means it already exists.
	if err := b.client.XGroupCreateMkStream(subCtx, stream, b.group, "0").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		b.logger.Error().Err(err).Str("stream", stream).Msg("Failed to create consumer group")
	}

	b.wg.Add(1)
	go b.consume(subCtx, stream, ch)

	return ch, cancel
}

// consume reads the stream until the subscription context is cancelled.
func (b *RedisBus) consume(ctx context.Context, stream string, ch chan<- Event) {
	defer b.wg.Done()
	defer close(ch)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Error().Err(err).Str("stream", stream).Msg("Failed to read from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, res := range result {
			for _, msg := range res.Messages {
				raw, ok := msg.Values["data"].(string)
				if !ok {
					b.logger.Warn().Str("message_id", msg.ID).Msg("Stream message without data field")
					_ = b.client.XAck(ctx, stream, b.group, msg.ID).Err()
					continue
				}

				var event Event
				if err := json.Unmarshal([]byte(raw), &event); err != nil {
					b.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to unmarshal event")
					_ = b.client.XAck(ctx, stream, b.group, msg.ID).Err()
					continue
				}

				select {
				case ch <- event:
					_ = b.client.XAck(ctx, stream, b.group, msg.ID).Err()
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Close stops all consumers and closes the Redis connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}
