// Package config builds the process configuration from environment variables
// so main stays lean. Every knob has a default suitable for local development;
// production deployments override via the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the merit server.
type Config struct {
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	GitHub    GitHubConfig
	Auth      AuthConfig
	Sync      SyncConfig
	Consensus ConsensusConfig
	Log       LogConfig
}

// HTTPConfig captures HTTP server level configuration.
type HTTPConfig struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// PostgresConfig configures the shared persistent store. An empty URL keeps
// the process on in-memory stores (development mode).
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the weights cache. Empty URL disables caching and
// weights are computed on demand.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit event relay. Empty brokers disable the
// relay; audit events still land in the outbox table.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// GitHubConfig configures the external data source client.
type GitHubConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// AuthConfig covers the admin token and validator JWT settings.
type AuthConfig struct {
	AdminToken    string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration
}

// SyncConfig controls the sync worker of this validator process.
type SyncConfig struct {
	ValidatorID   string
	Interval      time.Duration
	EpochInterval time.Duration
	Enabled       bool
}

// ConsensusConfig controls proposal acceptance.
type ConsensusConfig struct {
	RequireSignatures bool
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and validates required
// combinations. It never reads the environment after startup.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("MERIT_ADDR", ":8080"),
			RequestTimeout:  getEnvDuration("MERIT_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("MERIT_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvList("KAFKA_BROKERS"),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "merit.audit.events"),
		},
		GitHub: GitHubConfig{
			BaseURL: getEnv("GITHUB_API_URL", "https://api.github.com"),
			Token:   getEnv("GITHUB_TOKEN", ""),
			Timeout: getEnvDuration("GITHUB_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			AdminToken:    getEnv("ADMIN_TOKEN", ""),
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),
			JWTIssuer:     getEnv("JWT_ISSUER", "merit"),
			JWTAudience:   getEnv("JWT_AUDIENCE", "merit-validators"),
			TokenTTL:      getEnvDuration("JWT_TOKEN_TTL", time.Hour),
		},
		Sync: SyncConfig{
			ValidatorID:   getEnv("VALIDATOR_ID", ""),
			Interval:      getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
			EpochInterval: getEnvDuration("EPOCH_INTERVAL", time.Hour),
			Enabled:       getEnvBool("SYNC_ENABLED", true),
		},
		Consensus: ConsensusConfig{
			RequireSignatures: getEnvBool("CONSENSUS_REQUIRE_SIGNATURES", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Sync.Enabled && cfg.Sync.ValidatorID == "" {
		return Config{}, fmt.Errorf("VALIDATOR_ID is required when sync is enabled")
	}
	if cfg.Auth.JWTSigningKey == "" {
		// Development fallback; production must override.
		cfg.Auth.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
