package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
)

// clientReferenceKey is the subscription metadata key carrying the checkout's
// client reference when the subscription is created outside checkout.
const clientReferenceKey = "client_reference_id"

// HandleStripeWebhook verifies a payment provider event and turns subscription
// changes into bus messages. The returned outcome is informational.
func (a *App) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	if a.webhookSecret == "" {
		return "", ErrWebhookDisabled
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return "", fmt.Errorf("%w: %s has no data", ErrInvalidEvent, event.ID)
	}
	logger := util.LoggerFromContext(ctx).With("stripe_event_id", event.ID, "stripe_event_type", string(event.Type))
	ctx = util.ContextWithLogger(ctx, logger)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", fmt.Errorf("%w: decode checkout session: %v", ErrInvalidEvent, err)
		}
		var subID, customerID string
		if session.Subscription != nil {
			subID = session.Subscription.ID
		}
		if session.Customer != nil {
			customerID = session.Customer.ID
		}
		return a.recordSubscription(ctx, session.ClientReferenceID, subID, customerID)
	case stripe.EventTypeCustomerSubscriptionCreated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("%w: decode subscription: %v", ErrInvalidEvent, err)
		}
		var customerID string
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
		return a.recordSubscription(ctx, sub.Metadata[clientReferenceKey], sub.ID, customerID)
	case stripe.EventTypeCustomerSubscriptionDeleted, stripe.EventTypeCustomerSubscriptionPaused:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("%w: decode subscription: %v", ErrInvalidEvent, err)
		}
		return a.endSubscription(ctx, sub.ID)
	default:
		logger.Info("webhook event ignored")
		return "ignored", nil
	}
}

// recordSubscription stores the subscription under the decoded user id and
// announces it. Events without a client reference did not come from our checkout.
func (a *App) recordSubscription(ctx context.Context, clientReference, subscriptionID, customerID string) (string, error) {
	logger := util.LoggerFromContext(ctx)
	if clientReference == "" || subscriptionID == "" || customerID == "" {
		logger.Warn("webhook event missing client reference, subscription or customer")
		return "ignored", nil
	}
	userID, err := decodeClientReference(clientReference)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	sub := domain.Subscription{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		CustomerID:     customerID,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := a.store.SaveSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("save subscription: %w", err)
	}
	if err := a.bus.Publish(ctx, messages.SubscriptionCreated{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		CustomerID:     customerID,
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	logger.Info("subscription recorded", "user_id", userID, "subscription_id", subscriptionID)
	return "recorded", nil
}

// endSubscription resolves the owner of subscriptionID and announces the
// deletion. The profiles consumer removes the record once metadata is cleared.
func (a *App) endSubscription(ctx context.Context, subscriptionID string) (string, error) {
	logger := util.LoggerFromContext(ctx)
	if subscriptionID == "" {
		return "", fmt.Errorf("%w: subscription id missing", ErrInvalidEvent)
	}
	sub, ok, err := a.store.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("find subscription: %w", err)
	}
	if !ok {
		logger.Warn("webhook for unknown subscription", "subscription_id", subscriptionID)
		return "ignored", nil
	}
	if err := a.bus.Publish(ctx, messages.SubscriptionDeleted{
		UserID:         sub.UserID,
		SubscriptionID: sub.SubscriptionID,
		CustomerID:     sub.CustomerID,
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	logger.Info("subscription ended", "user_id", sub.UserID, "subscription_id", subscriptionID)
	return "ended", nil
}

// decodeClientReference reverses the checkout link's base64 user id, which is
// sent without padding.
func decodeClientReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if rem := len(ref) % 4; rem != 0 {
		ref += strings.Repeat("=", 4-rem)
	}
	raw, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return "", fmt.Errorf("decode client reference: %w", err)
	}
	userID := strings.TrimSpace(string(raw))
	if userID == "" {
		return "", fmt.Errorf("decode client reference: empty user id")
	}
	return userID, nil
}
