package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"mindcast/internal/util"
	"mindcast/pkg/messages"
	"mindcast/pkg/metrics"
)

const headerAttempts = "x-attempts"

// AMQPBusConfig configures a RabbitMQ bus.
type AMQPBusConfig struct {
	URL      string
	Exchange string
}

// AMQPBus publishes to a fanout exchange. Each subscriber group owns a durable
// queue bound to it, plus a TTL retry queue and a dead-letter queue.
type AMQPBus struct {
	conn     *amqp.Connection
	exchange string

	mu  sync.Mutex
	pub *amqp.Channel
	// send publishes on the shared channel.
	send func(ctx context.Context, exchange, key string, p amqp.Publishing) error
}

// NewAMQPBus dials the broker and declares the fanout exchange.
func NewAMQPBus(cfg AMQPBusConfig) (*AMQPBus, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = defaultTopic
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	b := &AMQPBus{conn: conn, exchange: exchange, pub: ch}
	b.send = b.publish
	return b, nil
}

// Publish wraps msg in an envelope and publishes it to the exchange.
func (b *AMQPBus) Publish(ctx context.Context, msg messages.Message) error {
	id := util.NewID()
	body, err := messages.Wrap(msg, id)
	if err != nil {
		return err
	}
	err = retry.Do(
		func() error {
			return b.send(ctx, b.exchange, "", amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    id,
				Type:         msg.MessageType(),
				Timestamp:    time.Now().UTC(),
				Body:         body,
			})
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

func (b *AMQPBus) publish(ctx context.Context, exchange, key string, p amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pub.PublishWithContext(ctx, exchange, key, false, false, p)
}

// Subscribe declares the group's queues and starts cfg.Concurrency workers.
func (b *AMQPBus) Subscribe(ctx context.Context, cfg SubscribeConfig, handle Delivery) error {
	cfg, err := normalizeSubscribe(cfg)
	if err != nil {
		return err
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	queue := b.exchange + "." + cfg.Group
	if err := declareGroupQueues(ch, b.exchange, queue, cfg.RetryDelay); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					b.handleDelivery(ctx, cfg, queue, d, handle)
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		_ = ch.Close()
	}()
	return nil
}

func declareGroupQueues(ch *amqp.Channel, exchange, queue string, retryDelay time.Duration) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	retryArgs := amqp.Table{
		"x-message-ttl":             retryDelay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue+".retry", true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}
	if _, err := ch.QueueDeclare(queue+".dead", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	return nil
}

func (b *AMQPBus) handleDelivery(ctx context.Context, cfg SubscribeConfig, queue string, d amqp.Delivery, handle Delivery) {
	attempts := attemptsFromHeaders(d.Headers) + 1
	msgCtx := util.WithRequestIDContext(ctx, d.MessageId)
	logger := util.LoggerFromContext(msgCtx).With("group", cfg.Group, "attempt", attempts)

	herr := handle(msgCtx, d.Body)
	if herr == nil {
		_ = d.Ack(false)
		metrics.MessagesConsumed.WithLabelValues(cfg.Group, metrics.OutcomeAcked).Inc()
		return
	}

	target, outcome := queue+".dead", metrics.OutcomeDeadLetter
	if shouldRetry(cfg, attempts, herr) {
		target, outcome = queue+".retry", metrics.OutcomeRetried
		logger.Warn("delivery failed, will retry", "err", herr)
	} else {
		logger.Error("delivery failed, dead-lettering", "err", herr)
	}
	headers := amqp.Table{headerAttempts: int32(attempts), "x-error": herr.Error()}
	err := b.send(ctx, "", target, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		slog.Error("requeue failed", "queue", target, "err", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	metrics.MessagesConsumed.WithLabelValues(cfg.Group, outcome).Inc()
}

func attemptsFromHeaders(h amqp.Table) int {
	switch v := h[headerAttempts].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Close closes the publish channel and the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	_ = b.pub.Close()
	b.mu.Unlock()
	return b.conn.Close()
}
