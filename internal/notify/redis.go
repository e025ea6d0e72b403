package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel updates are published on.
const DefaultChannel = "inbox:messages-updated"

// publisher is the part of a go-redis client RedisPublisher needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes updates as JSON on a Redis channel so that other
// processes of the host can react to them.
type RedisPublisher struct {
	client  publisher
	closer  func() error
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher connects to the Redis server at url and verifies the
// connection with a ping.
func NewRedisPublisher(ctx context.Context, url, channel string, logger *zap.Logger) (*RedisPublisher, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	p := newRedisPublisher(c, channel, logger)
	p.closer = c.Close
	return p, nil
}

func newRedisPublisher(client publisher, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Ensure interface compliance at compile time
var _ Receiver = (*RedisPublisher)(nil)

// Publish sends u on the channel and returns the number of receivers.
func (p *RedisPublisher) Publish(ctx context.Context, u Update) (int64, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return 0, fmt.Errorf("redis: encode update: %w", err)
	}
	n, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: publish: %w", err)
	}
	return n, nil
}

// MessagesUpdated publishes u and logs failures.
func (p *RedisPublisher) MessagesUpdated(ctx context.Context, u Update) {
	if _, err := p.Publish(ctx, u); err != nil {
		p.logger.Warn("publish update",
			zap.String("channel", p.channel),
			zap.String("reason", u.Reason),
			zap.Error(err))
	}
}

// Channel returns the channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
