package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterBlocksOverLimit(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(Config{Addr: srv.Addr(), Prefix: "test:ratelimit", Limit: 2, Window: time.Minute})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	ctx := context.Background()

	for i, wantRemaining := range []int{1, 0} {
		d, err := limiter.Allow(ctx, "u1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v %v", i+1, d, err)
		}
		if d.Remaining != wantRemaining {
			t.Fatalf("request %d remaining = %d, want %d", i+1, d.Remaining, wantRemaining)
		}
	}
	d, err := limiter.Allow(ctx, "u1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("third request should be blocked with a retry hint, got %+v", d)
	}
	if d, _ := limiter.Allow(ctx, "u2"); !d.Allowed {
		t.Fatalf("keys are counted separately")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(Config{Addr: srv.Addr(), Limit: 1, Window: time.Second})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv.Close()
	d, err := limiter.Allow(context.Background(), "u1")
	if err == nil || d.Allowed {
		t.Fatalf("limiter should fail closed on redis errors, got %+v %v", d, err)
	}
}

func TestFixedWindowLimiterValidatesConfig(t *testing.T) {
	if _, err := NewFixedWindowLimiter(Config{Limit: 1, Window: time.Second}); err == nil {
		t.Fatalf("expected error for empty redis addr")
	}
	if _, err := NewFixedWindowLimiter(Config{Addr: "localhost:6379", Window: time.Second}); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
