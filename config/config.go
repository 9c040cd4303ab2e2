package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment selects origin lists and whether origin checks run
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
)

// Config holds all application configuration. It is built once at startup and
// treated as read-only afterwards.
type Config struct {
	Env Environment

	// HTTP server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional challenge store)
	Redis RedisConfig

	// Platform JWT configuration
	Auth AuthConfig

	// Request gate configuration
	Gate GateConfig

	// Memory-hard hashing parameters
	Hashing HashingConfig

	// External KMS configuration
	KMS KMSConfig

	// Wallet entropy configuration
	Entropy EntropyConfig

	// AWS configuration
	AWS AWSConfig

	// Multisig configuration
	Multisig MultisigConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	JSONLogs       bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL string
}

// AuthConfig holds the platform signing secret and token lifetimes
type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	ChallengeTTL   time.Duration
}

// GateConfig holds the path and origin lists the request gate consults
type GateConfig struct {
	HealthPath              string
	DashboardOrigins        []string
	WhitelistedOrigins      []string
	OriginExemptPaths       []string
	DashboardOnlyPaths      []string
	JWTWhitelistPaths       []string
	ExternalIDOptionalPaths []string
}

// HashingConfig holds argon2id parameters
type HashingConfig struct {
	MemoryKiB      uint32
	Iterations     uint32
	Parallelism    uint8
	KeyLength      uint32
	MaxConcurrency int
}

// KMSConfig holds the custodial key service endpoint
type KMSConfig struct {
	BaseURL     string
	BearerToken string
	KeyName     string
	Timeout     time.Duration
}

// EntropyConfig selects the remote entropy source for new wallets
type EntropyConfig struct {
	Source            string // "kms" or "aws"
	AWSCustomKeyStore string
	RemoteLen         int
	LocalLen          int
}

// AWSConfig holds AWS SDK configuration
type AWSConfig struct {
	Region string
}

// MultisigConfig holds multisig defaults
type MultisigConfig struct {
	DefaultVersion int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	env := Environment(getEnvString("APP_ENV", string(EnvDevelopment)))

	cfg := &Config{
		Env: env,
		Server: ServerConfig{
			Port:           getEnvString("PORT", "8080"),
			RequestTimeout: getEnvDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
			JSONLogs:       getEnvBool("LOG_JSON", env == EnvProduction || env == EnvStaging),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
			ChallengeTTL:   time.Duration(getEnvInt("SIGNATURE_GUARD_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		Gate: GateConfig{
			HealthPath:              getEnvString("GATE_HEALTH_PATH", "/"),
			DashboardOrigins:        getEnvList("GATE_DASHBOARD_ORIGINS", defaultDashboardOrigins(env)),
			WhitelistedOrigins:      getEnvList("GATE_WHITELISTED_ORIGINS", defaultWhitelistedOrigins(env)),
			OriginExemptPaths:       getEnvList("GATE_ORIGIN_EXEMPT_PATHS", defaultOriginExemptPaths),
			DashboardOnlyPaths:      getEnvList("GATE_DASHBOARD_ONLY_PATHS", defaultDashboardOnlyPaths),
			JWTWhitelistPaths:       getEnvList("GATE_JWT_WHITELIST_PATHS", defaultJWTWhitelistPaths),
			ExternalIDOptionalPaths: getEnvList("GATE_EXTERNAL_ID_OPTIONAL_PATHS", defaultExternalIDOptionalPaths),
		},
		Hashing: HashingConfig{
			MemoryKiB:      uint32(getEnvInt("HASH_MEMORY_KIB", 64*1024)),
			Iterations:     uint32(getEnvInt("HASH_ITERATIONS", 3)),
			Parallelism:    uint8(getEnvIntRange("HASH_PARALLELISM", 4, 1, 255)),
			KeyLength:      uint32(getEnvInt("HASH_LENGTH", 64)),
			MaxConcurrency: getEnvInt("HASH_MAX_CONCURRENCY", 4),
		},
		KMS: KMSConfig{
			BaseURL:     strings.TrimRight(os.Getenv("KMS_BASE_URL"), "/"),
			BearerToken: os.Getenv("KMS_BEARER_TOKEN"),
			KeyName:     getEnvString("KMS_KEY_NAME", "wallaby-auth"),
			Timeout:     getEnvDuration("KMS_TIMEOUT", 30*time.Second),
		},
		Entropy: EntropyConfig{
			Source:            getEnvString("ENTROPY_SOURCE", "kms"),
			AWSCustomKeyStore: os.Getenv("ENTROPY_AWS_CUSTOM_KEY_STORE"),
			RemoteLen:         getEnvInt("ENTROPY_REMOTE_BYTES", 256),
			LocalLen:          getEnvInt("ENTROPY_LOCAL_BYTES", 128),
		},
		AWS: AWSConfig{
			Region: getEnvString("AWS_REGION", "us-east-1"),
		},
		Multisig: MultisigConfig{
			DefaultVersion: getEnvInt("MULTISIG_DEFAULT_VERSION", 1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Env {
	case EnvProduction, EnvStaging, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("APP_ENV must be one of production, staging, development, test, got %q", c.Env)
	}

	if c.IsDeployed() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in %s", c.Env)
		}
		if c.KMS.BaseURL == "" {
			return fmt.Errorf("KMS_BASE_URL is required in %s", c.Env)
		}
	}

	if c.Auth.ChallengeTTL <= 0 {
		return fmt.Errorf("SIGNATURE_GUARD_TIMEOUT_SECONDS must be positive, got %v", c.Auth.ChallengeTTL)
	}
	if c.Hashing.KeyLength < 16 {
		return fmt.Errorf("HASH_LENGTH must be at least 16, got %d", c.Hashing.KeyLength)
	}
	if c.Hashing.MemoryKiB < 8*uint32(c.Hashing.Parallelism) {
		return fmt.Errorf("HASH_MEMORY_KIB must be at least 8*HASH_PARALLELISM, got %d", c.Hashing.MemoryKiB)
	}
	if c.Entropy.Source != "kms" && c.Entropy.Source != "aws" {
		return fmt.Errorf("ENTROPY_SOURCE must be kms or aws, got %q", c.Entropy.Source)
	}
	if c.Entropy.RemoteLen+c.Entropy.LocalLen < 32 {
		return fmt.Errorf("entropy pool must hold at least 32 bytes, got %d", c.Entropy.RemoteLen+c.Entropy.LocalLen)
	}

	return nil
}

// IsDeployed reports whether the service runs against real clients
func (c *Config) IsDeployed() bool {
	return c.Env == EnvProduction || c.Env == EnvStaging
}

// SkipsOriginCheck reports whether the gate should skip origin enforcement
func (c *Config) SkipsOriginCheck() bool {
	return c.Env == EnvDevelopment || c.Env == EnvTest
}

// HasDatabase returns true if database configuration is available
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// HasRedis returns true if Redis configuration is available
func (c *Config) HasRedis() bool {
	return c.Redis.URL != ""
}

// HasKMS returns true if the custodial KMS is configured
func (c *Config) HasKMS() bool {
	return c.KMS.BaseURL != ""
}

var (
	defaultOriginExemptPaths = []string{
		"/api/v1/auth/emails/send-otp",
		"/api/v1/auth/emails/sign-in",
	}
	defaultDashboardOnlyPaths = []string{
		"/api/v1/auth/emails/send-otp",
		"/api/v1/auth/emails/sign-in",
		"/api/v1/auth/reset-password",
	}
	defaultJWTWhitelistPaths = []string{
		"/api/v1/auth/emails/verify",
	}
	defaultExternalIDOptionalPaths = []string{
		"/api/v1/auth/signature-message/external",
		"/api/v1/auth/sign-up/external",
	}
)

func defaultDashboardOrigins(env Environment) []string {
	origins := []string{"https://dashboard.wallaby.cash"}
	if env != EnvProduction {
		origins = append(origins, "https://testnet-dashboard.wallaby.cash", "http://localhost:3000")
	}
	return origins
}

func defaultWhitelistedOrigins(env Environment) []string {
	origins := []string{"https://wallaby.cash", "*.wallaby.cash"}
	if env != EnvProduction {
		origins = append(origins, "http://localhost:3000", "http://localhost:4200")
	}
	return origins
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvIntRange(key string, defaultValue, minVal, maxVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= minVal && parsed <= maxVal {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated list, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// NewTestConfig creates a Config with default values for testing. Hashing
// parameters are lowered so tests stay fast.
func NewTestConfig() *Config {
	return &Config{
		Env: EnvTest,
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 60 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:      "test-platform-secret",
			AccessTokenTTL: time.Hour,
			ChallengeTTL:   120 * time.Second,
		},
		Gate: GateConfig{
			HealthPath:              "/",
			DashboardOrigins:        defaultDashboardOrigins(EnvTest),
			WhitelistedOrigins:      defaultWhitelistedOrigins(EnvTest),
			OriginExemptPaths:       append([]string(nil), defaultOriginExemptPaths...),
			DashboardOnlyPaths:      append([]string(nil), defaultDashboardOnlyPaths...),
			JWTWhitelistPaths:       append([]string(nil), defaultJWTWhitelistPaths...),
			ExternalIDOptionalPaths: append([]string(nil), defaultExternalIDOptionalPaths...),
		},
		Hashing: HashingConfig{
			MemoryKiB:      64,
			Iterations:     1,
			Parallelism:    2,
			KeyLength:      64,
			MaxConcurrency: 4,
		},
		KMS: KMSConfig{
			KeyName: "wallaby-auth",
			Timeout: 5 * time.Second,
		},
		Entropy: EntropyConfig{
			Source:    "kms",
			RemoteLen: 256,
			LocalLen:  128,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Multisig: MultisigConfig{
			DefaultVersion: 1,
		},
	}
}
