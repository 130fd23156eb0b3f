package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus publishes engine events to the local Hub and, when configured,
// mirrors them onto a Redis pub/sub channel.
type Bus struct {
	hub     *Hub
	rdb     *redis.Client
	channel string
	log     *slog.Logger
	now     func() time.Time
}

func NewBus(hub *Hub, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{hub: hub, log: log, now: time.Now}
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// WithRedis mirrors every published event to channel on rdb.
func (b *Bus) WithRedis(rdb *redis.Client, channel string) *Bus {
	b.rdb = rdb
	b.channel = channel
	return b
}

func (b *Bus) Hub() *Hub {
	if b == nil {
		return nil
	}
	return b.hub
}

// Publish never fails the caller. Redis errors are logged and dropped.
func (b *Bus) Publish(ctx context.Context, reqID, typ string, data any) {
	if b == nil {
		return
	}
	evt := makeEventAt(b.now(), reqID, typ, 1, data)
	if b.hub != nil {
		b.hub.Publish(evt)
	}
	if b.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.channel, evt).Err(); err != nil {
		b.log.Warn("redis publish failed", "type", typ, "channel", b.channel, "err", err)
	}
}

func (b *Bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
