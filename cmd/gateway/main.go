// chatwarden gateway
//
// Entry point for the moderation gateway. It:
//  1. Loads configuration and validates the policy label table
//  2. Connects to PostgreSQL (running migrations), Redis, and NATS
//  3. Builds the capability adapters and the moderation pipeline
//  4. Serves the provider webhook, the owner read/review API, and metrics
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/chatwarden/chatwarden/internal/account"
	"github.com/chatwarden/chatwarden/internal/api"
	"github.com/chatwarden/chatwarden/internal/classify"
	"github.com/chatwarden/chatwarden/internal/config"
	"github.com/chatwarden/chatwarden/internal/db"
	"github.com/chatwarden/chatwarden/internal/dedup"
	"github.com/chatwarden/chatwarden/internal/media"
	"github.com/chatwarden/chatwarden/internal/message"
	"github.com/chatwarden/chatwarden/internal/messaging"
	"github.com/chatwarden/chatwarden/internal/metrics"
	"github.com/chatwarden/chatwarden/internal/outbound"
	"github.com/chatwarden/chatwarden/internal/pipeline"
	"github.com/chatwarden/chatwarden/internal/policy"
	"github.com/chatwarden/chatwarden/internal/ratelimit"
	"github.com/chatwarden/chatwarden/internal/vocab"
	"github.com/chatwarden/chatwarden/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting chatwarden gateway")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// A gateway with a broken label table must not come up at all.
	if err := policy.ValidateLabels(); err != nil {
		slog.Error("policy label table invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL, schema current")

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to Redis")

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = "chatwarden-gateway"
	natsClient, err := messaging.NewNATSClient(natsCfg)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	slog.Info("connected to NATS", "url", natsCfg.URL)

	messages := message.NewStore(database)

	// The media classifier authenticates with OAuth2 client credentials;
	// the oauth2 client refreshes tokens behind the http.Client.
	creds := &clientcredentials.Config{
		ClientID:     cfg.MediaClassifier.ClientID,
		ClientSecret: cfg.MediaClassifier.ClientSecret,
		TokenURL:     cfg.MediaClassifier.TokenURL,
	}

	pipe := pipeline.New(pipeline.Deps{
		Accounts: account.NewStore(database),
		Store:    messages,
		Dedup:    dedup.NewFilter(rdb),
		Transcriber: classify.NewTranscriber(classify.TranscriberConfig{
			BaseURL: cfg.Transcriber.BaseURL,
			APIKey:  cfg.Transcriber.APIKey,
			Model:   cfg.Transcriber.Model,
		}),
		TextClassifier: classify.NewTextClassifier(classify.TextClassifierConfig{
			BaseURL: cfg.TextClassifier.BaseURL,
			APIKey:  cfg.TextClassifier.APIKey,
		}),
		MediaClassifier: classify.NewMediaClassifier(classify.MediaClassifierConfig{
			Client:  creds.Client(ctx),
			BaseURL: cfg.MediaClassifier.BaseURL,
		}),
		MediaFetcher: media.NewOrigin(media.OriginConfig{
			BaseURL: cfg.MediaOrigin.BaseURL,
			APIKey:  cfg.MediaOrigin.APIKey,
		}),
		Sender: outbound.NewSender(outbound.SenderConfig{
			BaseURL: cfg.Outbound.BaseURL,
			APIKey:  cfg.Outbound.APIKey,
		}),
		Notifier: natsClient,
		Observer: natsClient,
		Logger:   logger.With("component", "pipeline"),
	})

	limiter := ratelimit.NewLimiter(rdb)

	mux := http.NewServeMux()
	webhook.NewHandler(cfg.Webhook.VerifyToken, cfg.Webhook.AppSecret, pipe, limiter,
		logger.With("component", "webhook")).Register(mux)
	api.NewHandler(messages, vocab.NewStore(database), limiter,
		logger.With("component", "api")).Register(mux)
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// The webhook holds its response until every verdict in a delivery
		// is durable, which can span several adapter timeouts.
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("gateway listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}
