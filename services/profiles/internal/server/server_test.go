package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mindcast/services/profiles/internal/app"
)

type fakeWebhooks struct {
	payload   string
	signature string
	outcome   string
	err       error
}

func (f *fakeWebhooks) HandleStripeWebhook(_ context.Context, payload []byte, signature string) (string, error) {
	f.payload = string(payload)
	f.signature = signature
	return f.outcome, f.err
}

func TestHealthAndMetrics(t *testing.T) {
	h := New(&fakeWebhooks{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mindcast_") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestStripeWebhookPassesBodyAndSignature(t *testing.T) {
	f := &fakeWebhooks{outcome: "recorded"}
	h := New(f)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"recorded"`) {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	if f.payload != `{"id":"evt_1"}` || f.signature != "t=1,v1=abc" {
		t.Fatalf("handler got payload=%q signature=%q", f.payload, f.signature)
	}
}

func TestStripeWebhookErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("%w: bad", app.ErrInvalidSignature), status: http.StatusBadRequest, code: "WEBHOOK_INVALID_SIGNATURE"},
		{err: fmt.Errorf("%w: bad", app.ErrInvalidEvent), status: http.StatusBadRequest, code: "WEBHOOK_INVALID_EVENT"},
		{err: app.ErrWebhookDisabled, status: http.StatusServiceUnavailable, code: "WEBHOOK_DISABLED"},
		{err: errors.New("db down"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		h := New(&fakeWebhooks{err: tc.err})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
		if rec.Code != tc.status || !strings.Contains(rec.Body.String(), tc.code) {
			t.Fatalf("%v: got %d %s", tc.err, rec.Code, rec.Body.String())
		}
	}
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	f := &fakeWebhooks{outcome: "recorded"}
	h := New(f)
	body := strings.Repeat("x", maxWebhookBytes+1)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if f.payload != "" {
		t.Fatalf("oversized body must not reach the handler")
	}
}
