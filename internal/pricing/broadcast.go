package pricing

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const invalidationChannel = "coin_config:invalidate"

// RedisBroadcaster publishes and receives coin config invalidations over Redis pub/sub.
type RedisBroadcaster struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisBroadcaster(rdb *redis.Client, log *slog.Logger) *RedisBroadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroadcaster{rdb: rdb, log: log}
}

func (b *RedisBroadcaster) PublishInvalidation(ctx context.Context, version int) error {
	return b.rdb.Publish(ctx, invalidationChannel, strconv.Itoa(version)).Err()
}

// Listen calls onInvalidate for every published invalidation until ctx is done.
func (b *RedisBroadcaster) Listen(ctx context.Context, onInvalidate func()) {
	sub := b.rdb.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.log.Debug("coin config invalidation received", "version", msg.Payload)
			onInvalidate()
		}
	}
}
