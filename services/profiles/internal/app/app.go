package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindcast/internal/util"
	"mindcast/pkg/bus"
	"mindcast/pkg/domain"
	"mindcast/pkg/messages"
	"mindcast/pkg/store"
	"mindcast/services/profiles/internal/identityclient"
)

const (
	stageName           = "profiles"
	metaSubscriptionKey = "stripe_subscription_id"
	metaCustomerKey     = "stripe_customer_id"
)

// MetadataUpdater writes a user's app metadata at the identity provider.
type MetadataUpdater interface {
	UpdateAppMetadata(ctx context.Context, userID string, metadata map[string]any) error
}

// Config holds runtime configuration. Injected collaborators take precedence
// over the connection settings.
type Config struct {
	DatabaseURL string
	Store       store.SubscriptionStore

	Bus           bus.Bus
	BusDriver     string
	BusTopic      string
	RedisAddr     string
	RedisPassword string
	AMQPURL       string

	QueueGroup             string
	QueueConcurrency       int
	QueueMaxRetries        int
	QueueRetryDelaySeconds int

	Identity             MetadataUpdater
	IdentityDomain       string
	IdentityClientID     string
	IdentityClientSecret string
	IdentityAudience     string

	// StripeWebhookSecret enables HandleStripeWebhook.
	StripeWebhookSecret string
}

// App links billing subscriptions to user identities.
type App struct {
	store    store.SubscriptionStore
	bus      bus.Bus
	identity MetadataUpdater

	webhookSecret string

	group       string
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	closers     []func() error
}

// New wires the profiles stage from cfg.
func New(cfg Config) (*App, error) {
	a := &App{
		group:       strings.TrimSpace(cfg.QueueGroup),
		concurrency: cfg.QueueConcurrency,
		maxRetries:  cfg.QueueMaxRetries,
		retryDelay:  time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,

		webhookSecret: strings.TrimSpace(cfg.StripeWebhookSecret),
	}
	if a.group == "" {
		a.group = stageName
	}

	a.store = cfg.Store
	if a.store == nil {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("database URL required")
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = gs
		a.closers = append(a.closers, gs.Close)
	}

	a.identity = cfg.Identity
	if a.identity == nil {
		c, err := identityclient.NewClient(identityclient.Config{
			Domain:       cfg.IdentityDomain,
			ClientID:     cfg.IdentityClientID,
			ClientSecret: cfg.IdentityClientSecret,
			Audience:     cfg.IdentityAudience,
		})
		if err != nil {
			return nil, fmt.Errorf("init identity client: %w", err)
		}
		a.identity = c
	}

	a.bus = cfg.Bus
	if a.bus == nil {
		b, err := bus.New(bus.Config{
			Driver:        cfg.BusDriver,
			Topic:         cfg.BusTopic,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			AMQPURL:       cfg.AMQPURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init bus: %w", err)
		}
		a.bus = b
		a.closers = append(a.closers, b.Close)
	}
	return a, nil
}

// Start subscribes the stage router.
func (a *App) Start(ctx context.Context) error {
	return a.bus.Subscribe(ctx, bus.SubscribeConfig{
		Group:       a.group,
		Concurrency: a.concurrency,
		MaxRetries:  a.maxRetries,
		RetryDelay:  a.retryDelay,
	}, bus.Dispatch(stageName, a.Handle))
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Handle routes one decoded message for the profiles stage.
func (a *App) Handle(ctx context.Context, msg messages.Message) (messages.Result, error) {
	switch m := msg.(type) {
	case messages.SubscriptionCreated:
		return a.linkSubscription(ctx, m)
	case messages.SubscriptionDeleted:
		return a.unlinkSubscription(ctx, m)
	default:
		return messages.NotHandled(), nil
	}
}

func (a *App) linkSubscription(ctx context.Context, m messages.SubscriptionCreated) (messages.Result, error) {
	if m.UserID == "" || m.SubscriptionID == "" {
		return messages.Result{}, fmt.Errorf("subscription.created missing user or subscription: %w", domain.ErrNotFound)
	}
	sub := domain.Subscription{
		UserID:         m.UserID,
		SubscriptionID: m.SubscriptionID,
		CustomerID:     m.CustomerID,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := a.store.SaveSubscription(ctx, sub); err != nil {
		return messages.Result{}, fmt.Errorf("save subscription: %w", err)
	}
	if err := a.identity.UpdateAppMetadata(ctx, m.UserID, map[string]any{
		metaSubscriptionKey: m.SubscriptionID,
		metaCustomerKey:     m.CustomerID,
	}); err != nil {
		return messages.Result{}, err
	}
	util.LoggerFromContext(ctx).Info("subscription linked", "user_id", m.UserID, "subscription_id", m.SubscriptionID)
	return messages.Handled("linked"), nil
}

// unlinkSubscription clears the metadata unless a newer subscription has
// replaced the one being deleted.
func (a *App) unlinkSubscription(ctx context.Context, m messages.SubscriptionDeleted) (messages.Result, error) {
	if m.UserID == "" {
		return messages.Result{}, fmt.Errorf("subscription.deleted missing user: %w", domain.ErrNotFound)
	}
	current, ok, err := a.store.GetSubscription(ctx, m.UserID)
	if err != nil {
		return messages.Result{}, err
	}
	if ok && m.SubscriptionID != "" && current.SubscriptionID != m.SubscriptionID {
		return messages.Handled("superseded"), nil
	}
	if err := a.identity.UpdateAppMetadata(ctx, m.UserID, map[string]any{
		metaSubscriptionKey: nil,
		metaCustomerKey:     nil,
	}); err != nil {
		return messages.Result{}, err
	}
	if err := a.store.DeleteSubscription(ctx, m.UserID); err != nil {
		return messages.Result{}, err
	}
	util.LoggerFromContext(ctx).Info("subscription unlinked", "user_id", m.UserID, "subscription_id", m.SubscriptionID)
	return messages.Handled("unlinked"), nil
}
