package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"

	"mindcast/internal/util"
	"mindcast/pkg/messages"
	"mindcast/pkg/metrics"
)

const (
	fieldEnvelope = "envelope"
	fieldType     = "type"

	publishAttempts = 3
)

// RedisBusConfig configures a Redis Streams bus.
type RedisBusConfig struct {
	Addr       string
	Password   string
	Client     *redis.Client
	Stream     string
	MaxLen     int64
	Block      time.Duration
	ReadCount  int64
	ClaimCount int64
}

// RedisBus publishes to one stream; each subscriber group is a Redis consumer group
// on that stream. Failed deliveries stay pending and are reclaimed after RetryDelay.
type RedisBus struct {
	client     *redis.Client
	stream     string
	deadLetter string
	maxLen     int64
	block      time.Duration
	readCount  int64
	claimCount int64

	mu     sync.Mutex
	groups map[string]bool
}

// NewRedisBus builds a RedisBus. Either Client or Addr is required.
func NewRedisBus(cfg RedisBusConfig) (*RedisBus, error) {
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultTopic
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	return &RedisBus{
		client:     client,
		stream:     stream,
		deadLetter: stream + ":dead",
		maxLen:     maxLen,
		block:      block,
		readCount:  readCount,
		claimCount: claimCount,
		groups:     make(map[string]bool),
	}, nil
}

// Publish wraps msg in an envelope and appends it to the stream, retrying with backoff.
func (b *RedisBus) Publish(ctx context.Context, msg messages.Message) error {
	body, err := messages.Wrap(msg, util.NewID())
	if err != nil {
		return err
	}
	err = retry.Do(
		func() error {
			return b.client.XAdd(ctx, &redis.XAddArgs{
				Stream: b.stream,
				MaxLen: b.maxLen,
				Approx: true,
				Values: map[string]any{
					fieldEnvelope: string(body),
					fieldType:     msg.MessageType(),
				},
			}).Err()
		},
		retry.Context(ctx),
		retry.Attempts(publishAttempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			util.LoggerFromContext(ctx).Warn("retrying publish", "attempt", n+1, "type", msg.MessageType(), "err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.MessageType(), err)
	}
	metrics.MessagesPublished.WithLabelValues(msg.MessageType()).Inc()
	return nil
}

// Subscribe ensures the consumer group exists and starts cfg.Concurrency consumers.
// It returns once the group is ready; consumers stop when ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, cfg SubscribeConfig, handle Delivery) error {
	cfg, err := normalizeSubscribe(cfg)
	if err != nil {
		return err
	}
	if err := b.ensureGroup(ctx, cfg.Group); err != nil {
		return err
	}
	base := util.NewID()
	for i := 0; i < cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%s-%d", cfg.Group, base, i)
		go b.consumeLoop(ctx, cfg, consumer, handle)
	}
	return nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (b *RedisBus) ensureGroup(ctx context.Context, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[group] {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, b.stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", group, err)
	}
	b.groups[group] = true
	return nil
}

func (b *RedisBus) consumeLoop(ctx context.Context, cfg SubscribeConfig, consumer string, handle Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := b.claimPending(ctx, cfg, consumer); err == nil {
			for _, msg := range msgs {
				b.handleMessage(ctx, cfg, msg, handle)
			}
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cfg.Group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    b.readCount,
			Block:    b.block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				slog.Warn("bus read failed", "group", cfg.Group, "err", err)
				b.sleep(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleMessage(ctx, cfg, msg, handle)
			}
		}
	}
}

func (b *RedisBus) claimPending(ctx context.Context, cfg SubscribeConfig, consumer string) ([]redis.XMessage, error) {
	res, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.stream,
		Group:    cfg.Group,
		Consumer: consumer,
		MinIdle:  cfg.RetryDelay,
		Start:    "0-0",
		Count:    b.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *RedisBus) handleMessage(ctx context.Context, cfg SubscribeConfig, msg redis.XMessage, handle Delivery) {
	body, _ := msg.Values[fieldEnvelope].(string)
	if body == "" {
		b.ack(ctx, cfg.Group, msg.ID)
		return
	}
	attempts, err := b.client.HIncrBy(ctx, b.attemptsKey(cfg.Group), msg.ID, 1).Result()
	if err != nil {
		// Leave pending; it will be reclaimed.
		return
	}
	msgCtx := util.WithRequestIDContext(ctx, msg.ID)
	logger := util.LoggerFromContext(msgCtx).With("group", cfg.Group, "attempt", attempts)

	herr := handle(msgCtx, []byte(body))
	if herr == nil {
		b.ack(ctx, cfg.Group, msg.ID)
		metrics.MessagesConsumed.WithLabelValues(cfg.Group, metrics.OutcomeAcked).Inc()
		return
	}
	if shouldRetry(cfg, int(attempts), herr) {
		logger.Warn("delivery failed, will retry", "err", herr)
		metrics.MessagesConsumed.WithLabelValues(cfg.Group, metrics.OutcomeRetried).Inc()
		return
	}
	logger.Error("delivery failed, dead-lettering", "err", herr)
	if err := b.deadLetterAndAck(ctx, cfg.Group, msg, body, int(attempts), herr); err != nil {
		logger.Error("dead-letter failed", "err", err)
		return
	}
	metrics.MessagesConsumed.WithLabelValues(cfg.Group, metrics.OutcomeDeadLetter).Inc()
}

func (b *RedisBus) ack(ctx context.Context, group, msgID string) {
	pipe := b.client.TxPipeline()
	pipe.XAck(ctx, b.stream, group, msgID)
	pipe.HDel(ctx, b.attemptsKey(group), msgID)
	_, _ = pipe.Exec(ctx)
}

func (b *RedisBus) deadLetterAndAck(ctx context.Context, group string, msg redis.XMessage, body string, attempts int, cause error) error {
	pipe := b.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: b.deadLetter,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldEnvelope: body,
			"group":       group,
			"source_id":   msg.ID,
			"attempts":    strconv.Itoa(attempts),
			"error":       cause.Error(),
		},
	})
	pipe.XAck(ctx, b.stream, group, msg.ID)
	pipe.HDel(ctx, b.attemptsKey(group), msg.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBus) attemptsKey(group string) string {
	return fmt.Sprintf("%s:attempts:%s", b.stream, group)
}

func (b *RedisBus) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
