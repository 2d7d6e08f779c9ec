package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mindcast/internal/util"
	"mindcast/pkg/metrics"
	"mindcast/services/profiles/internal/app"
)

// maxWebhookBytes caps an event body.
const maxWebhookBytes = 65536

// WebhookHandler processes verified payment provider events.
type WebhookHandler interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (string, error)
}

// New returns the profiles router: health, metrics and the payment webhook.
func New(webhooks WebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Post("/webhooks/stripe", stripeWebhook(webhooks))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return util.WithRequestID(util.WithRequestLog("profiles", r))
}

func stripeWebhook(webhooks WebhookHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		outcome, err := webhooks.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
		case errors.Is(err, app.ErrWebhookDisabled):
			writeError(w, http.StatusServiceUnavailable, "webhook disabled")
		case errors.Is(err, app.ErrInvalidSignature):
			writeError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, app.ErrInvalidEvent):
			writeError(w, http.StatusBadRequest, "invalid event")
		default:
			util.LoggerFromContext(r.Context()).Error("webhook processing failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForWebhook(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForWebhook(status int, msg string) string {
	switch msg {
	case "invalid signature":
		return "WEBHOOK_INVALID_SIGNATURE"
	case "invalid event":
		return "WEBHOOK_INVALID_EVENT"
	case "webhook disabled":
		return "WEBHOOK_DISABLED"
	case "payload too large":
		return "WEBHOOK_PAYLOAD_TOO_LARGE"
	}
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}
