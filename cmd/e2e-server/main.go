// Package main provides a standalone HTTP server for E2E testing.
// It serves the custody API backed by an in-process mock KMS so client
// test suites can run without real key management.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-custody/config"
	"wallet-custody/e2e/mocks"
	"wallet-custody/internal/api"
	"wallet-custody/internal/app"
	"wallet-custody/observability"
	"wallet-custody/repository"
	"wallet-custody/services"
)

func main() {
	// Initialize logger in development mode for tests
	observability.InitLogger(false)
	observability.InitMetrics()

	// Get configuration from environment
	port := os.Getenv("E2E_SERVER_PORT")
	if port == "" {
		port = "9090"
	}

	ctx := context.Background()

	kmsToken := "e2e-kms-token"
	kmsMock := mocks.NewMockServer(kmsToken)
	defer kmsMock.Close()

	cfg := config.NewTestConfig()
	cfg.Server.Port = port
	cfg.KMS.BaseURL = kmsMock.URL()
	cfg.KMS.BearerToken = kmsToken

	// Initialize storage
	var repo repository.RepositoryInterface
	if databaseURL := os.Getenv("E2E_DATABASE_URL"); databaseURL != "" {
		pg, err := repository.NewRepository(ctx, databaseURL)
		if err != nil {
			observability.Fatal("failed to connect to database", "error", err)
		}
		repo = pg
		observability.Info("connected to test database")
	} else {
		repo = repository.NewMemoryStore()
		observability.Info("using in-memory store")
	}

	if err := seedAPIKey(ctx, repo); err != nil {
		observability.Fatal("failed to seed api key", "error", err)
	}

	kms := services.NewKMSClient(cfg.KMS.BaseURL, cfg.KMS.BearerToken, cfg.KMS.KeyName, cfg.KMS.Timeout)
	application, err := app.New(cfg, app.Deps{Repo: repo, Keys: kms, Entropy: kms})
	if err != nil {
		observability.Fatal("failed to initialize app", "error", err)
	}

	// Create HTTP router
	router := api.NewRouter(api.NewHandler(application, cfg, nil), cfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		observability.Info("starting E2E test server", "port", port, "url", fmt.Sprintf("http://localhost:%s", port), "kms", kmsMock.URL())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down E2E test server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}

	application.Shutdown(shutdownCtx)
	observability.Info("E2E test server stopped")
}
