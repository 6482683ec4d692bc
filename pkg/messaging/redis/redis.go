package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jwalitptl/medilink-api/pkg/circuitbreaker"
	"github.com/jwalitptl/medilink-api/pkg/messaging"
)

// client is the slice of *redis.Client the broker needs.
type client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

type RedisBroker struct {
	client client
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	// Breaker trips after this many consecutive publish failures.
	MaxFailures  uint32
	OpenDuration time.Duration
}

func NewRedisBroker(ctx context.Context, config Config, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.MaxRetries = config.MaxRetries
	if config.RetryBackoff > 0 {
		opts.MinRetryBackoff = config.RetryBackoff
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}

	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newBroker(c, config, logger), nil
}

func newBroker(c client, config Config, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "redis-broker",
		MaxFailures: config.MaxFailures,
		Interval:    time.Minute,
		Timeout:     config.OpenDuration,
		OnStateChange: func(name, from, to string) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from), zap.String("to", to))
		},
	})
	return &RedisBroker{client: c, cb: cb, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, msg messaging.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.cb.Execute(func() error {
		return b.client.Publish(ctx, channel, payload).Err()
	})
}

// State reports the publish breaker state: closed, half-open or open.
func (b *RedisBroker) State() string {
	return b.cb.State()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
