package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. Values come from the
// environment so main stays lean.
type Server struct {
	Addr        string
	Environment string

	// Identity provider
	ProviderBaseURL string
	ProviderAPIKey  string
	JWTSigningKey   string

	// Auth state coordinator
	InitTimeout time.Duration

	// Session bookkeeping
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration

	// Invitations
	InvitationTTL time.Duration

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// DatabaseConfig holds postgres connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds settings for the security-settings cache.
type RedisConfig struct {
	URL      string
	PoolSize int
	CacheTTL time.Duration
}

// KafkaConfig holds settings for the audit event sink and the mail topic.
type KafkaConfig struct {
	Brokers    string
	AuditTopic string
	MailTopic  string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:            envOr("CREW_ADDR", ":8080"),
		Environment:     envOr("CREW_ENV", "dev"),
		ProviderBaseURL: os.Getenv("CREW_IDENTITY_URL"),
		ProviderAPIKey:  os.Getenv("CREW_IDENTITY_API_KEY"),
		JWTSigningKey:   envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		InitTimeout:     durationOr("CREW_AUTH_INIT_TIMEOUT", 10*time.Second),

		SessionTTL:             durationOr("CREW_SESSION_TTL", 24*time.Hour),
		SessionCleanupInterval: durationOr("CREW_SESSION_CLEANUP_INTERVAL", time.Hour),
		InvitationTTL:          durationOr("CREW_INVITATION_TTL", 7*24*time.Hour),

		Database: DatabaseConfig{
			URL:             os.Getenv("CREW_DATABASE_URL"),
			MaxOpenConns:    intOr("CREW_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    intOr("CREW_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durationOr("CREW_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("CREW_REDIS_URL"),
			PoolSize: intOr("CREW_REDIS_POOL_SIZE", 10),
			CacheTTL: durationOr("CREW_SETTINGS_CACHE_TTL", time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    os.Getenv("CREW_KAFKA_BROKERS"),
			AuditTopic: envOr("CREW_AUDIT_TOPIC", "crew.audit.events"),
			MailTopic:  envOr("CREW_MAIL_TOPIC", "crew.invitation.emails"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
