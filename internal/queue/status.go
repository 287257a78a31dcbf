package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"eventvax.app/relay/internal/model"
)

const (
	statusStreamMaxLen = 50
	statusStreamTTL    = 24 * time.Hour
)

// StatusPublisher fans issuance status transitions out to listeners.
type StatusPublisher interface {
	Publish(ctx context.Context, req *model.IssuanceRequest) error
}

// StatusStreamName is the per-pair stream the SSE endpoint tails.
func StatusStreamName(prefix string, eventID int64, wallet string) string {
	return fmt.Sprintf("%s:event-%d:wallet-%s", prefix, eventID, wallet)
}

type redisStatusPublisher struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisStatusPublisher(client *redis.Client, prefix string, logger *slog.Logger) StatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisStatusPublisher{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (p *redisStatusPublisher) Publish(ctx context.Context, req *model.IssuanceRequest) error {
	stream := StatusStreamName(p.prefix, req.EventID, req.WalletAddress)

	fields := map[string]any{
		"request_id":  req.ID,
		"event_id":    req.EventID,
		"wallet":      req.WalletAddress,
		"status":      string(req.Status),
		"retry_count": req.RetryCount,
		"at":          time.Now().UTC().Format(time.RFC3339Nano),
	}
	if req.TxHash != nil {
		fields["tx_hash"] = *req.TxHash
	}
	if req.LastError != nil {
		fields["last_error"] = *req.LastError
	}

	pipe := p.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: statusStreamMaxLen,
		Approx: true,
		Values: fields,
	})
	pipe.Expire(ctx, stream, statusStreamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish status (stream=%s): %w", stream, err)
	}

	p.logger.DebugContext(ctx, "published status event", "stream", stream, "status", req.Status)
	return nil
}

type noopStatusPublisher struct{}

// NewNoopStatusPublisher is used when Redis is not configured.
func NewNoopStatusPublisher() StatusPublisher {
	return noopStatusPublisher{}
}

func (noopStatusPublisher) Publish(context.Context, *model.IssuanceRequest) error {
	return nil
}
