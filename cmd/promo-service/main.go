package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-promocodes/internal/analytics"
	"ms-promocodes/internal/api"
	"ms-promocodes/internal/config"
	"ms-promocodes/internal/database/migrations"
	"ms-promocodes/internal/kafka"
	"ms-promocodes/internal/ledger"
	"ms-promocodes/internal/logger"
	"ms-promocodes/internal/redemption"
	"ms-promocodes/internal/redemption/redislock"
	"ms-promocodes/internal/registry"
	registrydb "ms-promocodes/internal/registry/db"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on environment")
	}

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()

	// ---------------- DATABASE ----------------
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Database, cfg.Database.SSLMode)

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	if err := bunDB.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to ping database: %v", err))
	}
	log.Info("DATABASE", "Connected to Postgres")

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		log.Info("DATABASE", "Migrations applied")
	}

	// ---------------- REDIS ----------------
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Connected to Redis at %s", cfg.Redis.Addr))

	// ---------------- KAFKA ----------------
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.PromoCreated, cfg.Kafka.Topics.PromoRedeemed}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PromoCreated, cfg.Kafka.Topics.PromoRedeemed)
		defer producer.Close()
		log.Info("KAFKA", fmt.Sprintf("Producer connected to %v", cfg.Kafka.Brokers))
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events will not be published")
	}

	// ---------------- SERVICES ----------------
	ledgerDB := &ledger.DB{Bun: bunDB}
	regDB := &registrydb.DB{Bun: bunDB}

	var regKafka registry.KafkaPublisher
	var redeemKafka redemption.KafkaPublisher
	if producer != nil {
		regKafka = producer
		redeemKafka = producer
	}

	registrySvc := registry.NewService(regDB, ledgerDB, regKafka, log)
	locker := redislock.NewLocker(rdb, cfg.Lock.TTL, cfg.Lock.AcquireTimeout, cfg.Lock.RetryInterval)
	redemptionSvc := redemption.NewService(bunDB, ledgerDB, locker, redeemKafka, log)
	analyticsSvc := analytics.NewService(registrySvc, ledgerDB)

	handler := &api.Handler{
		Registry:   registrySvc,
		Redemption: redemptionSvc,
		Analytics:  analyticsSvc,
		Logger:     log,
	}

	// ---------------- SERVER ----------------
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      api.NewRouter(handler, cfg.Auth.JWTSecret),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Promo code service listening on %s", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("Server error: %v", err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("SERVER", "Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("SERVER", fmt.Sprintf("Forced shutdown: %v", err))
	}
	if err := bunDB.Close(); err != nil {
		log.Error("DATABASE", fmt.Sprintf("Failed to close database: %v", err))
	}
	if err := rdb.Close(); err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to close Redis client: %v", err))
	}
	log.Info("SERVER", "Shutdown complete")
}
