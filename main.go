package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/21tmccauley/stat-tracker/config"
	"github.com/21tmccauley/stat-tracker/habits"
	"github.com/21tmccauley/stat-tracker/queue"
	"github.com/21tmccauley/stat-tracker/server"
	"github.com/21tmccauley/stat-tracker/storage"
	"github.com/21tmccauley/stat-tracker/storage/cache"
)

func main() {
	// Load the .env file. A missing file is fine in deployed environments
	// where the variables are set directly.
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx := context.Background()

	// Initialize the storage gateway.
	store, err := storage.NewStorage(cfg.DBName, cfg.MongoURI, storage.Tables{
		Habits:        cfg.HabitsTable,
		Completions:   cfg.CompletionsTable,
		Users:         cfg.UsersTable,
		Notifications: cfg.NotificationsTable,
	})
	if err != nil {
		log.Fatalf("error initializing storage: %v", err)
	}

	// The Redis cache serves progress reads and deduplicates queue messages.
	var progressCache cache.CacheInterface
	if cfg.RedisURL != "" {
		progressCache, err = cache.NewCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("error connecting to cache: %v", err)
		}
	}

	// Build the level-up notification queue and start its consumers.
	var levelUpQueue *queue.Queue
	if cfg.RabbitMQURL != "" {
		numProducers := 1
		numConsumers := 2
		levelUpQueue, err = queue.BuildLevelUpQueue(cfg.RabbitMQURL, numProducers, numConsumers, progressCache, store)
		if err != nil {
			log.Fatalf("error building level-up queue: %v", err)
		}
		if _, err := levelUpQueue.StartConsumers(ctx); err != nil {
			log.Fatalf("error starting queue consumers: %v", err)
		}
	}

	svc := habits.NewService(store, progressCache, levelUpQueue)
	srv := server.New(svc, cfg.JWTSigningKey)

	// Start the core server.
	go func() {
		if err := srv.Start(cfg.ServerURL); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Setting up the signal interrupt handler to gracefully shut down.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	fmt.Println()
	fmt.Println(sig)

	if err := store.Disconnect(); err != nil {
		log.Printf("error disconnecting storage: %v", err)
	}
	if progressCache != nil {
		if err := progressCache.Disconnect(); err != nil {
			log.Printf("error disconnecting cache: %v", err)
		}
	}
}
