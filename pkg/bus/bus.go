// Package bus carries enveloped messages between pipeline stages. Every
// subscriber group receives every published message (fan-out); within a
// group each message is delivered to one consumer at least once.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
)

const (
	DriverRedis = "redis"
	DriverAMQP  = "amqp"

	defaultTopic = "mindcast:events"
)

// Delivery handles one raw transport body. Returning an error asks the bus to
// redeliver (retryable) or dead-letter (non-retryable or out of attempts).
type Delivery func(ctx context.Context, body []byte) error

// SubscribeConfig describes one consumer group.
type SubscribeConfig struct {
	Group       string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	Retryable   func(error) bool
}

// Bus publishes and subscribes.
type Bus interface {
	messages.Publisher
	Subscribe(ctx context.Context, cfg SubscribeConfig, handle Delivery) error
	Close() error
}

// Config selects and configures a Bus implementation.
type Config struct {
	Driver        string
	Topic         string
	RedisAddr     string
	RedisPassword string
	AMQPURL       string
}

// New builds the Bus selected by cfg.Driver (redis by default).
func New(cfg Config) (Bus, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverRedis
	}
	switch driver {
	case DriverRedis:
		return NewRedisBus(RedisBusConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.Topic,
		})
	case DriverAMQP:
		return NewAMQPBus(AMQPBusConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.Topic,
		})
	default:
		return nil, fmt.Errorf("unknown bus driver: %s", driver)
	}
}

func normalizeSubscribe(cfg SubscribeConfig) (SubscribeConfig, error) {
	cfg.Group = strings.TrimSpace(cfg.Group)
	if cfg.Group == "" {
		return cfg, errors.New("consumer group required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.Retryable == nil {
		cfg.Retryable = domain.IsRetryable
	}
	return cfg, nil
}

// shouldRetry decides between redelivery and dead-lettering after a failed attempt.
func shouldRetry(cfg SubscribeConfig, attempts int, err error) bool {
	return cfg.Retryable(err) && attempts < cfg.MaxRetries
}
