package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// RedisSessionFeed turns messages on a Redis channel into identity events. The
// payload is the owner id; an empty payload or "guest" means the session ended.
type RedisSessionFeed struct {
	pubsub *redis.PubSub
	logger *zap.Logger
	out    chan domain.Owner
	done   chan struct{}
	once   sync.Once
}

func NewRedisSessionFeed(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) (*RedisSessionFeed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	f := &RedisSessionFeed{
		pubsub: pubsub,
		logger: logger,
		out:    make(chan domain.Owner),
		done:   make(chan struct{}),
	}
	go f.run(channel)
	return f, nil
}

func (f *RedisSessionFeed) Sessions() <-chan domain.Owner {
	return f.out
}

func (f *RedisSessionFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.pubsub.Close()
	})
	return err
}

func (f *RedisSessionFeed) run(channel string) {
	defer close(f.out)
	messages := f.pubsub.Channel()
	for {
		select {
		case <-f.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			f.logger.Debug("session event", zap.String("channel", channel), zap.String("owner", msg.Payload))
			select {
			case f.out <- domain.Owner(msg.Payload):
			case <-f.done:
				return
			}
		}
	}
}
