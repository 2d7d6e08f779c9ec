package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindcast/internal/ratelimit"
	"mindcast/internal/util"
	"mindcast/services/files/internal/app"
	"mindcast/services/files/internal/config"
	"mindcast/services/files/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel, "files")

	appCore, err := app.New(app.Config{
		DatabaseURL:            cfg.DatabaseURL,
		BusDriver:              cfg.BusDriver,
		BusTopic:               cfg.BusTopic,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		AMQPURL:                cfg.AMQPURL,
		QueueGroup:             cfg.QueueGroup,
		QueueConcurrency:       cfg.QueueConcurrency,
		QueueMaxRetries:        cfg.QueueMaxRetries,
		QueueRetryDelaySeconds: cfg.QueueRetryDelaySeconds,
		MinioEndpoint:          cfg.MinioEndpoint,
		MinioAccessKey:         cfg.MinioAccessKey,
		MinioSecretKey:         cfg.MinioSecretKey,
		MinioBucket:            cfg.MinioBucket,
		MinioUseSSL:            cfg.MinioUseSSL,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	defer appCore.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := appCore.Start(ctx); err != nil {
		util.Fatal("failed to start consumers", "err", err)
	}

	serverCfg := server.Config{App: appCore, MaxUploadBytes: cfg.MaxUploadBytes}
	if cfg.UploadRateLimit > 0 {
		window := time.Duration(cfg.UploadRateWindowSecs) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "mindcast:ratelimit:uploads",
			Limit:    cfg.UploadRateLimit,
			Window:   window,
		})
		if err != nil {
			util.Fatal("failed to init upload limiter", "err", err)
		}
		defer limiter.Close()
		serverCfg.UploadLimiter = limiter
	}
	srv := server.New(serverCfg)
	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("files service listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
