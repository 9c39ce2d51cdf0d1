package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
)

// RedisStreamPublisher appends events to a Redis stream for indexers and
// stores the relay cursor in the same MULTI block.
type RedisStreamPublisher struct {
	client    *redis.Client
	stream    string
	cursorKey string
	maxLen    int64
}

func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{
		client:    client,
		stream:    stream,
		cursorKey: stream + ":cursor",
		maxLen:    maxLen,
	}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event domain.Event) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: p.maxLen > 0,
			Values: map[string]any{
				"seq":         event.Seq,
				"id":          event.ID,
				"kind":        string(event.Kind),
				"collection":  event.Key.Collection,
				"token_id":    event.Key.TokenID,
				"price":       event.Price,
				"seller":      event.Seller,
				"buyer":       event.Buyer,
				"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
			},
		})
		pipe.Set(ctx, p.cursorKey, event.Seq, 0)
		return nil
	})
	return err
}

func (p *RedisStreamPublisher) LastPublished(ctx context.Context) (uint64, error) {
	seq, err := p.client.Get(ctx, p.cursorKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}
