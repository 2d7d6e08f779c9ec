package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindcast/pkg/assistant"
	"mindcast/pkg/bus"
	"mindcast/pkg/lock"
	"mindcast/pkg/messages"
	"mindcast/pkg/storage"
	"mindcast/pkg/store"
)

const stageName = "assistant"

// Config holds runtime configuration. Injected collaborators take precedence
// over the connection settings.
type Config struct {
	DatabaseURL string
	Store       store.Store

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

	Locker         lock.Locker
	LockTTLSeconds int

	API                   assistant.Client
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	AssistantModel        string
	AssistantInstructions string

	Objects         storage.Presigner
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
	SyncConcurrency int
}

// App is the assistant-sync stage.
type App struct {
	store     store.Store
	bus       bus.Bus
	publisher messages.Publisher
	locker    lock.Locker
	api       assistant.Client
	objects   storage.Presigner

	group           string
	concurrency     int
	maxRetries      int
	retryDelay      time.Duration
	syncConcurrency int
	closers         []func() error
}

// New wires the stage from cfg.
func New(cfg Config) (*App, error) {
	a := &App{
		group:           defaultString(cfg.QueueGroup, stageName),
		concurrency:     cfg.QueueConcurrency,
		maxRetries:      cfg.QueueMaxRetries,
		retryDelay:      time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		syncConcurrency: cfg.SyncConcurrency,
	}
	if a.syncConcurrency <= 0 {
		a.syncConcurrency = 4
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
	a.publisher = a.bus

	a.locker = cfg.Locker
	if a.locker == nil {
		l, err := lock.NewRedisLocker(lock.RedisLockerConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      time.Duration(cfg.LockTTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init locker: %w", err)
		}
		a.locker = l
		a.closers = append(a.closers, l.Close)
	}

	a.api = cfg.API
	if a.api == nil {
		c, err := assistant.NewOpenAIClient(assistant.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.AssistantModel,
			Instructions: cfg.AssistantInstructions,
		})
		if err != nil {
			return nil, fmt.Errorf("init assistant client: %w", err)
		}
		a.api = c
	}

	a.objects = cfg.Objects
	if a.objects == nil && strings.TrimSpace(cfg.MinioEndpoint) != "" {
		m, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		a.objects = m
	}
	return a, nil
}

// Start subscribes the stage's consumer group. Consumers stop when ctx is done.
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
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
