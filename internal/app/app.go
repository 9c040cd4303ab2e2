package app

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"wallet-custody/config"
	"wallet-custody/internal/auth"
	"wallet-custody/internal/challenge"
	"wallet-custody/internal/cryptography"
	"wallet-custody/internal/custody"
	"wallet-custody/internal/gate"
	"wallet-custody/internal/multisig"
	"wallet-custody/internal/origin"
	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/repository"
	"wallet-custody/services"
)

// Deps are the external collaborators the App is assembled from. Only Repo
// and Keys are required.
type Deps struct {
	Repo repository.RepositoryInterface
	// Challenges overrides the repository's challenge storage, e.g. with Redis
	Challenges  repository.ChallengeStore
	Keys        services.KeyPairProvider
	Entropy     services.EntropySource
	Broadcaster multisig.Broadcaster
	Metrics     *observability.Metrics
}

// App holds the assembled custody services
type App struct {
	cfg  *config.Config
	repo repository.RepositoryInterface

	gate       *gate.Gate
	challenges *challenge.Service
	tokens     *auth.TokenService
	signUp     *auth.SignUpService
	wallets    *custody.WalletService
	multisig   *multisig.Coordinator
}

// New wires every service over deps
func New(cfg *config.Config, deps Deps) (*App, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if deps.Keys == nil {
		return nil, fmt.Errorf("key pair provider is required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.GetMetrics()
	}

	challengeStore := deps.Challenges
	if challengeStore == nil {
		challengeStore = deps.Repo
	}

	entropy := deps.Entropy
	if entropy == nil {
		src, ok := deps.Keys.(services.EntropySource)
		if !ok {
			return nil, fmt.Errorf("entropy source is required")
		}
		entropy = src
	}

	hasher := cryptography.NewHasher(cryptography.HashParams{
		MemoryKiB:   cfg.Hashing.MemoryKiB,
		Iterations:  cfg.Hashing.Iterations,
		Parallelism: cfg.Hashing.Parallelism,
		KeyLength:   cfg.Hashing.KeyLength,
	}, cfg.Hashing.MaxConcurrency, metrics)

	seeds := custody.New(deps.Keys, entropy, hasher, cfg.Entropy.RemoteLen, cfg.Entropy.LocalLen, metrics)
	tokens := auth.NewTokenService(deps.Repo, cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	return &App{
		cfg:        cfg,
		repo:       deps.Repo,
		gate:       gate.New(cfg, deps.Repo, origin.NewPolicy(), metrics),
		challenges: challenge.NewService(challengeStore, cfg.Auth.ChallengeTTL, metrics),
		tokens:     tokens,
		signUp:     auth.NewSignUpService(deps.Repo, deps.Keys, tokens),
		wallets:    custody.NewWalletService(deps.Repo, seeds, BitcoinNet(cfg.Env), metrics),
		multisig:   multisig.NewCoordinator(deps.Repo, deps.Broadcaster, cfg.Multisig.DefaultVersion, metrics),
	}, nil
}

// NewEntropySource picks the remote entropy source named by cfg.Entropy.Source
func NewEntropySource(ctx context.Context, cfg *config.Config, kms *services.KMSClient) (services.EntropySource, error) {
	switch cfg.Entropy.Source {
	case "aws":
		return services.NewAWSEntropySource(ctx, cfg.AWS.Region, cfg.Entropy.AWSCustomKeyStore)
	case "", "kms":
		if kms == nil {
			return nil, fmt.Errorf("entropy source kms requires KMS_BASE_URL")
		}
		return kms, nil
	default:
		return nil, fmt.Errorf("unknown entropy source %q", cfg.Entropy.Source)
	}
}

// BitcoinNet returns the network BTC addresses are encoded for
func BitcoinNet(env config.Environment) *chaincfg.Params {
	if env == config.EnvProduction {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}

// Shutdown is called when the app is closing
func (a *App) Shutdown(ctx context.Context) {
	if a.repo != nil {
		a.repo.Close()
	}
}

// Repo returns the repository for API handlers
func (a *App) Repo() repository.RepositoryInterface {
	return a.repo
}

func (a *App) Gate() *gate.Gate { return a.gate }
func (a *App) Challenges() *challenge.Service { return a.challenges }
func (a *App) Tokens() *auth.TokenService { return a.tokens }
func (a *App) SignUp() *auth.SignUpService { return a.signUp }
func (a *App) Wallets() *custody.WalletService { return a.wallets }
func (a *App) Multisig() *multisig.Coordinator { return a.multisig }
func (a *App) Config() *config.Config { return a.cfg }

// UserByID loads the user a bearer token was issued to
func (a *App) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return a.repo.FindUserByID(ctx, id)
}

// ParseUUID parses a string UUID
func ParseUUID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	return parsed, nil
}
