package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"mindcast/pkg/bus"
	"mindcast/pkg/lifecycle"
	"mindcast/pkg/store"
)

const (
	stageName                 = "episodes"
	defaultPublishConcurrency = 8
	defaultFeedTimeout        = 20 * time.Second
)

// Config holds runtime configuration. Injected collaborators take precedence
// over the connection settings.
type Config struct {
	DatabaseURL string
	Store       store.EpisodeStore

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

	// HTTPClient fetches feeds. Defaults to a client with FeedTimeoutSeconds.
	HTTPClient         *http.Client
	FeedTimeoutSeconds int
	PublishConcurrency int
}

// App runs the episode stage and serves the episode API.
type App struct {
	store   store.EpisodeStore
	bus     bus.Bus
	parser  *gofeed.Parser
	tracker *lifecycle.EpisodeTracker

	group              string
	concurrency        int
	maxRetries         int
	retryDelay         time.Duration
	publishConcurrency int
	closers            []func() error
}

// New wires the episode stage from cfg.
func New(cfg Config) (*App, error) {
	a := &App{
		group:              strings.TrimSpace(cfg.QueueGroup),
		concurrency:        cfg.QueueConcurrency,
		maxRetries:         cfg.QueueMaxRetries,
		retryDelay:         time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		publishConcurrency: cfg.PublishConcurrency,
	}
	if a.group == "" {
		a.group = stageName
	}
	if a.publishConcurrency <= 0 {
		a.publishConcurrency = defaultPublishConcurrency
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

	client := cfg.HTTPClient
	if client == nil {
		timeout := defaultFeedTimeout
		if cfg.FeedTimeoutSeconds > 0 {
			timeout = time.Duration(cfg.FeedTimeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	a.parser = gofeed.NewParser()
	a.parser.Client = client
	a.parser.UserAgent = "mindcast-episodes/1.0"

	a.tracker = lifecycle.NewEpisodeTracker(a.store)
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
