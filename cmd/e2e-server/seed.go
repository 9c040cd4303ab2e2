package main

import (
	"context"
	"os"
	"strings"

	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/repository"
)

// seedAPIKey registers the integrator key named by E2E_API_KEY. When
// E2E_CLIENT_JWT_PUBLIC_KEY holds a PEM key, client JWTs are verified with it.
func seedAPIKey(ctx context.Context, repo repository.RepositoryInterface) error {
	key := os.Getenv("E2E_API_KEY")
	if key == "" {
		key = "e2e-api-key"
	}

	existing, err := repo.FindAPIKey(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		observability.Info("api key already present", "key", observability.MaskValue(key))
		return nil
	}

	origins := []string{"localhost", "127.0.0.1"}
	if v := os.Getenv("E2E_ALLOWED_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}

	apiKey := models.NewAPIKey(key, "e2e", origins)
	if pem := os.Getenv("E2E_CLIENT_JWT_PUBLIC_KEY"); pem != "" {
		apiKey.ClientJWTPublicKey = &pem
	}
	if err := repo.CreateAPIKey(ctx, apiKey); err != nil {
		return err
	}

	observability.Info("seeded api key", "key", observability.MaskValue(key), "origins", origins)
	return nil
}
