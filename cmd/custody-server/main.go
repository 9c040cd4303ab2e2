// Package main runs the custody HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"wallet-custody/config"
	"wallet-custody/internal/api"
	"wallet-custody/internal/app"
	"wallet-custody/observability"
	"wallet-custody/repository"
	"wallet-custody/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Server.JSONLogs)
	observability.InitMetrics()

	ctx := context.Background()

	// Storage
	var repo repository.RepositoryInterface
	if cfg.HasDatabase() {
		pg, err := repository.NewRepository(ctx, cfg.Database.URL)
		if err != nil {
			observability.Fatal("failed to connect to database", "error", err)
		}
		repo = pg
		observability.Info("connected to database")
	} else {
		if cfg.IsDeployed() {
			observability.Fatal("DATABASE_URL is required", "env", cfg.Env)
		}
		observability.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		repo = repository.NewMemoryStore()
	}

	deps := app.Deps{Repo: repo}

	var redisHealth api.HealthChecker
	if cfg.HasRedis() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			observability.Fatal("invalid REDIS_URL", "error", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			observability.Fatal("failed to connect to redis", "error", err)
		}
		deps.Challenges = repository.NewRedisChallengeStore(client, cfg.Auth.ChallengeTTL)
		redisHealth = func(r *http.Request) error { return client.Ping(r.Context()).Err() }
		observability.Info("challenges stored in redis")
	}

	// Custodial keys and entropy
	if !cfg.HasKMS() {
		observability.Fatal("KMS_BASE_URL is required to hold custodial keys")
	}
	kms := services.NewKMSClient(cfg.KMS.BaseURL, cfg.KMS.BearerToken, cfg.KMS.KeyName, cfg.KMS.Timeout)
	deps.Keys = kms

	deps.Entropy, err = app.NewEntropySource(ctx, cfg, kms)
	if err != nil {
		observability.Fatal("failed to initialize entropy source", "source", cfg.Entropy.Source, "error", err)
	}

	application, err := app.New(cfg, deps)
	if err != nil {
		observability.Fatal("failed to initialize app", "error", err)
	}

	router := api.NewRouter(api.NewHandler(application, cfg, redisHealth), cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
	}

	go func() {
		observability.Info("starting custody server", "port", cfg.Server.Port, "env", cfg.Env, "entropy", cfg.Entropy.Source)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down custody server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Error("server forced to shutdown", "error", err)
	}

	application.Shutdown(shutdownCtx)
	observability.Info("custody server stopped")
}
