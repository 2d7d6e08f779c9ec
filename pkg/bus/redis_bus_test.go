package bus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
)

func newTestBus(t *testing.T) (*RedisBus, context.Context) {
	t.Helper()
	srv := miniredis.RunT(t)
	b, err := NewRedisBus(RedisBusConfig{
		Addr:   srv.Addr(),
		Stream: "test:events",
		Block:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, context.Background()
}

func readOne(t *testing.T, b *RedisBus, ctx context.Context, group string) redis.XMessage {
	t.Helper()
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: group + "-test",
		Streams:  []string{b.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		t.Fatalf("xreadgroup %s: %v", group, err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one message for %s, got %+v", group, streams)
	}
	return streams[0].Messages[0]
}

func pendingCount(t *testing.T, b *RedisBus, ctx context.Context, group string) int64 {
	t.Helper()
	pending, err := b.client.XPending(ctx, b.stream, group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	return pending.Count
}

func TestRedisBusFanOutToEveryGroup(t *testing.T) {
	b, ctx := newTestBus(t)
	for _, g := range []string{"files", "assistant"} {
		if err := b.ensureGroup(ctx, g); err != nil {
			t.Fatalf("ensure group: %v", err)
		}
	}
	if err := b.Publish(ctx, messages.ConversionStarted{JobID: "job-1", FileID: "f1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, g := range []string{"files", "assistant"} {
		msg := readOne(t, b, ctx, g)
		body, _ := msg.Values[fieldEnvelope].(string)
		decoded, env, err := messages.Unwrap([]byte(body))
		if err != nil {
			t.Fatalf("unwrap: %v", err)
		}
		if env.MessageID == "" {
			t.Fatalf("expected envelope message id")
		}
		started, ok := decoded.(messages.ConversionStarted)
		if !ok || started.JobID != "job-1" {
			t.Fatalf("group %s got %#v", g, decoded)
		}
	}
}

func TestRedisBusAckOnSuccess(t *testing.T) {
	b, ctx := newTestBus(t)
	cfg, _ := normalizeSubscribe(SubscribeConfig{Group: "files"})
	if err := b.ensureGroup(ctx, cfg.Group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := b.Publish(ctx, messages.ConversionFailed{JobID: "job-1", Error: "boom"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := readOne(t, b, ctx, cfg.Group)

	called := 0
	b.handleMessage(ctx, cfg, msg, func(ctx context.Context, body []byte) error {
		called++
		return nil
	})
	if called != 1 {
		t.Fatalf("expected handler once, got %d", called)
	}
	if n := pendingCount(t, b, ctx, cfg.Group); n != 0 {
		t.Fatalf("expected no pending, got %d", n)
	}
	if n := b.client.HLen(ctx, b.attemptsKey(cfg.Group)).Val(); n != 0 {
		t.Fatalf("expected attempts cleared, got %d", n)
	}
}

func TestRedisBusRetryableFailureStaysPendingThenDeadLetters(t *testing.T) {
	b, ctx := newTestBus(t)
	cfg, _ := normalizeSubscribe(SubscribeConfig{Group: "assistant", MaxRetries: 2})
	if err := b.ensureGroup(ctx, cfg.Group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := b.Publish(ctx, messages.FileDeleted{File: &domain.FileArtifact{ID: "f1"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := readOne(t, b, ctx, cfg.Group)
	fail := func(ctx context.Context, body []byte) error { return errors.New("provider unavailable") }

	b.handleMessage(ctx, cfg, msg, fail)
	if n := pendingCount(t, b, ctx, cfg.Group); n != 1 {
		t.Fatalf("expected message to stay pending after first failure, got %d", n)
	}
	if n := b.client.XLen(ctx, b.deadLetter).Val(); n != 0 {
		t.Fatalf("expected empty dead-letter stream, got %d", n)
	}

	b.handleMessage(ctx, cfg, msg, fail)
	if n := pendingCount(t, b, ctx, cfg.Group); n != 0 {
		t.Fatalf("expected message acked after exhausting retries, got %d pending", n)
	}
	dead, err := b.client.XRange(ctx, b.deadLetter, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(dead))
	}
	if dead[0].Values["group"] != cfg.Group || dead[0].Values["attempts"] != "2" {
		t.Fatalf("unexpected dead letter: %+v", dead[0].Values)
	}
}

func TestRedisBusNonRetryableDeadLettersImmediately(t *testing.T) {
	b, ctx := newTestBus(t)
	cfg, _ := normalizeSubscribe(SubscribeConfig{Group: "assistant", MaxRetries: 5})
	if err := b.ensureGroup(ctx, cfg.Group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := b.Publish(ctx, messages.FileCreated{File: &domain.FileArtifact{ID: "f1"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := readOne(t, b, ctx, cfg.Group)

	b.handleMessage(ctx, cfg, msg, func(ctx context.Context, body []byte) error {
		return fmt.Errorf("decode: %w", domain.ErrMalformedMessage)
	})
	if n := pendingCount(t, b, ctx, cfg.Group); n != 0 {
		t.Fatalf("expected no pending, got %d", n)
	}
	if n := b.client.XLen(ctx, b.deadLetter).Val(); n != 1 {
		t.Fatalf("expected one dead letter, got %d", n)
	}
}

func TestRedisBusSubscribeDelivers(t *testing.T) {
	b, ctx := newTestBus(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	got := make(chan messages.Message, 1)
	err := b.Subscribe(ctx, SubscribeConfig{Group: "episodes", Concurrency: 2}, func(ctx context.Context, body []byte) error {
		msg, _, err := messages.Unwrap(body)
		if err != nil {
			return err
		}
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish(ctx, messages.FeedCreated{Feed: &domain.Feed{ID: "feed-1", UserID: "u1", URL: "http://example.com/rss"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-got:
		feed, ok := msg.(messages.FeedCreated)
		if !ok || feed.Feed == nil || feed.Feed.ID != "feed-1" {
			t.Fatalf("unexpected message %#v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(Config{Driver: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
