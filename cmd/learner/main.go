package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatwarden/chatwarden/internal/config"
	"github.com/chatwarden/chatwarden/internal/db"
	"github.com/chatwarden/chatwarden/internal/message"
	"github.com/chatwarden/chatwarden/internal/messaging"
	"github.com/chatwarden/chatwarden/internal/vocab"
)

func main() {
	log.Println("Starting chatwarden learner...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Postgres setup. Migrations are idempotent, so the learner can come up
	// first on a fresh database.
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// NATS setup.
	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = "chatwarden-learner"

	natsClient, err := messaging.NewNATSClient(natsCfg)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	learner := vocab.NewLearner(vocab.NewStore(database), message.NewStore(database), natsClient)

	// Queue subscription: tasks are load-balanced across learner replicas.
	err = natsClient.QueueSubscribeObserve(cfg.LearnerQueue, func(data []byte) {
		var task vocab.ObserveTask
		if err := json.Unmarshal(data, &task); err != nil {
			log.Printf("[learner] failed to unmarshal task: %v", err)
			return
		}

		log.Printf("[learner] observing message=%s owner=%s from_blocked=%v",
			task.MessageID, task.OwnerID, task.FromBlocked)
		learner.ObserveText(context.Background(), task.OwnerID, task.Text, task.FromBlocked)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to observe tasks: %v", err)
	}

	log.Printf("chatwarden learner running")
	log.Printf("  nats_url: %s", natsCfg.URL)
	log.Printf("  queue:    %s", cfg.LearnerQueue)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)
}
