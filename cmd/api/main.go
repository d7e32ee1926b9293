package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/radzio23/gigster/internal/adapters/crdb"
	mongoadapter "github.com/radzio23/gigster/internal/adapters/mongo"
	redisadapter "github.com/radzio23/gigster/internal/adapters/redis"
	"github.com/radzio23/gigster/internal/booking"
	"github.com/radzio23/gigster/internal/config"
	httphandler "github.com/radzio23/gigster/internal/http"
	"github.com/radzio23/gigster/internal/idempotency"
	"github.com/radzio23/gigster/internal/observability"
	"github.com/radzio23/gigster/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "gigster-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if cfg.Migrate {
		if err := crdb.Migrate(context.Background(), pool); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		logger.Info("Schema applied")
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("gigster"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	availabilityCache := redisadapter.NewAvailability(redisCache, cfg.AvailabilityTTL)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisCache), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	engine := booking.NewEngine(repo, logger,
		booking.WithTimeout(cfg.PurchaseTimeout),
		booking.WithMaxAttempts(cfg.PurchaseMaxAttempts),
		booking.WithAvailabilityCache(availabilityCache),
		booking.WithAuditLog(audit),
	)
	availability := booking.NewAvailability(repo, availabilityCache, logger)

	handlers := httphandler.NewHandlers(engine, availability, repo, logger,
		httphandler.Check{Name: "crdb", Ping: repo.Ping},
		httphandler.Check{Name: "redis", Ping: redisCache.Ping},
		httphandler.Check{Name: "mongo", Ping: func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }},
	)

	r := httphandler.SetupRouter(handlers, cfg, logger, rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
