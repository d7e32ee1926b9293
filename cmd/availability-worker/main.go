package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/radzio23/gigster/internal/adapters/crdb"
	"github.com/radzio23/gigster/internal/adapters/rabbit"
	redisadapter "github.com/radzio23/gigster/internal/adapters/redis"
	"github.com/radzio23/gigster/internal/booking"
	"github.com/radzio23/gigster/internal/config"
	"github.com/radzio23/gigster/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "gigster-availability-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cache := redisadapter.NewAvailability(redisadapter.NewCache(redisClient), cfg.AvailabilityTTL)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, rabbit.QueueAvailability, crdb.EventOrderCreated)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	worker := NewAvailabilityWorker(booking.NewAvailability(repo, cache, logger), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", rabbit.QueueAvailability, err)
	}

	go worker.Run(ctx, cfg.ReconcileInterval)
	worker.Consume(ctx, deliveries)
	logger.Info("Shutdown availability worker")
}
