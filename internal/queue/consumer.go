package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"eventvax.app/relay/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

// IntakeMessage is an issuance request delivered over the intake stream by an
// upstream check-in service.
type IntakeMessage struct {
	ID            string
	EventID       int64
	WalletAddress string
	Source        string
	Attempt       int
	TraceID       string
	Raw           redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg IntakeMessage) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) Config() ConsumerConfig {
	return c.cfg
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so check-ins written before the group existed are not lost.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]IntakeMessage, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" reads only messages never delivered to this group.
		// Unacked messages are picked up by the reclaimer.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []IntakeMessage{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []IntakeMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseIntakeMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				if dlqErr := c.SendDLQ(ctx, IntakeMessage{ID: msg.ID, Raw: msg}, parseErr.Error()); dlqErr != nil {
					slog.ErrorContext(ctx, "failed to dead-letter unparseable message", "error", dlqErr)
				}
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg IntakeMessage) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg IntakeMessage, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	nextAttempt := msg.Attempt + 1
	values := messageValues(msg, nextAttempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", nextAttempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg IntakeMessage, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := map[string]any{}
	for k, v := range msg.Raw.Values {
		values[k] = v
	}
	values["error"] = errMsg
	values["source_id"] = msg.ID

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// ParseIntakeMessage decodes a stream entry. Both snake_case and the camelCase
// keys used by the web client are accepted.
func ParseIntakeMessage(msg redis.XMessage) (IntakeMessage, error) {
	eventID, err := parseInt64(msg.Values, "event_id", "eventId")
	if err != nil {
		return IntakeMessage{}, err
	}
	if eventID < 0 {
		return IntakeMessage{}, fmt.Errorf("event_id must not be negative")
	}

	wallet, err := parseString(msg.Values, "wallet_address", "walletAddress")
	if err != nil {
		return IntakeMessage{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return IntakeMessage{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	source := parseOptionalString(msg.Values, "source")
	if source == "" {
		source = "stream"
	}

	return IntakeMessage{
		ID:            msg.ID,
		EventID:       eventID,
		WalletAddress: wallet,
		Source:        source,
		Attempt:       attempt,
		TraceID:       parseOptionalString(msg.Values, "trace_id"),
		Raw:           msg,
	}, nil
}

func lookup(values map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if raw, ok := values[key]; ok {
			return raw, true
		}
	}
	return nil, false
}

func parseInt64(values map[string]any, keys ...string) (int64, error) {
	raw, ok := lookup(values, keys...)
	if !ok {
		return 0, fmt.Errorf("missing %s", keys[0])
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", keys[0], err)
	}
	return num, nil
}

func parseString(values map[string]any, keys ...string) (string, error) {
	raw, ok := lookup(values, keys...)
	if !ok {
		return "", fmt.Errorf("missing %s", keys[0])
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func messageValues(msg IntakeMessage, attempt int) map[string]any {
	values := map[string]any{
		"event_id":       msg.EventID,
		"wallet_address": msg.WalletAddress,
		"source":         msg.Source,
		"attempt":        attempt,
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}
