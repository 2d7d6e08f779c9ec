package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"mindcast/pkg/domain"
)

type sentMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (c *fakeChannel) send(_ context.Context, exchange, key string, p amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, sentMessage{exchange: exchange, key: key, msg: p})
	return nil
}

type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeued bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func newBrokerlessBus(ch *fakeChannel) *AMQPBus {
	return &AMQPBus{exchange: "events", send: ch.send}
}

func TestAttemptsFromHeaders(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{name: "int32", headers: amqp.Table{headerAttempts: int32(2)}, want: 2},
		{name: "int64", headers: amqp.Table{headerAttempts: int64(4)}, want: 4},
		{name: "missing", headers: amqp.Table{}, want: 0},
		{name: "nil table", headers: nil, want: 0},
		{name: "wrong type", headers: amqp.Table{headerAttempts: "3"}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := attemptsFromHeaders(tc.headers); got != tc.want {
				t.Fatalf("attemptsFromHeaders = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAMQPHandleDeliveryRoutesFailures(t *testing.T) {
	cases := []struct {
		name        string
		attempts    int32
		handleErr   error
		wantKey     string
		wantAttempt int32
		wantSent    bool
	}{
		{name: "success acks only", handleErr: nil},
		{name: "retryable goes to retry", attempts: 0, handleErr: errors.New("timeout"), wantKey: "events.assistant.retry", wantAttempt: 1, wantSent: true},
		{name: "retries exhausted", attempts: 2, handleErr: errors.New("timeout"), wantKey: "events.assistant.dead", wantAttempt: 3, wantSent: true},
		{name: "not retryable", attempts: 0, handleErr: fmt.Errorf("payload: %w", domain.ErrNotFound), wantKey: "events.assistant.dead", wantAttempt: 1, wantSent: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := &fakeChannel{}
			b := newBrokerlessBus(ch)
			cfg, err := normalizeSubscribe(SubscribeConfig{Group: "assistant", MaxRetries: 3})
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			ack := &fakeAcknowledger{}
			d := amqp.Delivery{
				Acknowledger: ack,
				MessageId:    "m1",
				Body:         []byte(`{}`),
				Headers:      amqp.Table{headerAttempts: tc.attempts},
			}

			b.handleDelivery(context.Background(), cfg, "events.assistant", d, func(context.Context, []byte) error {
				return tc.handleErr
			})

			if ack.acks != 1 || ack.nacks != 0 {
				t.Fatalf("expected a single ack, got acks=%d nacks=%d", ack.acks, ack.nacks)
			}
			if !tc.wantSent {
				if len(ch.sent) != 0 {
					t.Fatalf("success must not republish, got %+v", ch.sent)
				}
				return
			}
			if len(ch.sent) != 1 {
				t.Fatalf("expected one republish, got %d", len(ch.sent))
			}
			got := ch.sent[0]
			if got.exchange != "" || got.key != tc.wantKey {
				t.Fatalf("republished to %q/%q, want default exchange/%q", got.exchange, got.key, tc.wantKey)
			}
			if got.msg.Headers[headerAttempts] != tc.wantAttempt {
				t.Fatalf("attempts header = %v, want %d", got.msg.Headers[headerAttempts], tc.wantAttempt)
			}
			if string(got.msg.Body) != `{}` || got.msg.MessageId != "m1" {
				t.Fatalf("republish must carry the original body and id: %+v", got.msg)
			}
		})
	}
}

func TestAMQPHandleDeliveryNacksWhenRequeueFails(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	b := newBrokerlessBus(ch)
	cfg, _ := normalizeSubscribe(SubscribeConfig{Group: "assistant"})
	ack := &fakeAcknowledger{}
	d := amqp.Delivery{Acknowledger: ack, MessageId: "m1", Body: []byte(`{}`)}

	b.handleDelivery(context.Background(), cfg, "events.assistant", d, func(context.Context, []byte) error {
		return errors.New("timeout")
	})

	if ack.acks != 0 || ack.nacks != 1 || !ack.requeued {
		t.Fatalf("expected nack with requeue, got acks=%d nacks=%d requeued=%v", ack.acks, ack.nacks, ack.requeued)
	}
}
