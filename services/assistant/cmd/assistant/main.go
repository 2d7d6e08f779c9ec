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

	"mindcast/internal/util"
	"mindcast/services/assistant/internal/app"
	"mindcast/services/assistant/internal/config"
	"mindcast/services/assistant/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel, "assistant")

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
		LockTTLSeconds:         cfg.LockTTLSeconds,
		OpenAIAPIKey:           cfg.OpenAIAPIKey,
		OpenAIBaseURL:          cfg.OpenAIBaseURL,
		AssistantModel:         cfg.AssistantModel,
		AssistantInstructions:  cfg.AssistantInstructions,
		MinioEndpoint:          cfg.MinioEndpoint,
		MinioAccessKey:         cfg.MinioAccessKey,
		MinioSecretKey:         cfg.MinioSecretKey,
		MinioBucket:            cfg.MinioBucket,
		MinioUseSSL:            cfg.MinioUseSSL,
		SyncConcurrency:        cfg.SyncConcurrency,
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

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("assistant stage listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
