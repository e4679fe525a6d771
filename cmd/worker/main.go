package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/newsletter-engine/internal/config"
	"github.com/ignite/newsletter-engine/internal/delivery"
	"github.com/ignite/newsletter-engine/internal/idempotency"
	"github.com/ignite/newsletter-engine/internal/mailing"
	"github.com/ignite/newsletter-engine/internal/pkg/distlock"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("Starting Newsletter Engine delivery worker...")

	cfg, err := config.LoadFromEnv("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		log.Printf("Redis configured at %s", cfg.Redis.Addr)
	}

	sender := mailing.NewSESSender(cfg.SES)
	log.Println("SES sender initialized")

	deliveryStore := delivery.NewStore(db)
	idemStore := idempotency.NewStore(db)

	worker := delivery.NewWorkerWithConfig(deliveryStore, sender,
		cfg.Worker.IdleSleep(), cfg.SES.Timeout(), cfg.Worker.MaxRetries)

	sweepLock := distlock.New(redisClient, db, "newsletter:retention-sweep", 2*time.Hour)
	sweeper := delivery.NewSweeper(deliveryStore, idemStore, sweepLock,
		cfg.Retention.SweepInterval(), cfg.Retention.IdempotencyWindow(), cfg.Retention.IssueWindow())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx)
	go sweeper.Run(ctx)

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	// Give the in-flight task time to commit or roll back.
	time.Sleep(2 * time.Second)

	log.Println("Worker stopped")
}
