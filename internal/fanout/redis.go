package fanout

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

// RedisTransport uses Redis pub/sub on a single channel.
type RedisTransport struct {
	rdb     *redis.Client
	channel string
}

func NewRedisTransport(rdb *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{rdb: rdb, channel: channel}
}

func (r *RedisTransport) Publish(ctx context.Context, _ string, payload []byte) error {
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errs.Unavailable(err, "redis publish")
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed so nothing published
// after it returns is missed.
func (r *RedisTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errs.Unavailable(err, "redis subscribe")
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *RedisTransport) Close() error { return nil }
