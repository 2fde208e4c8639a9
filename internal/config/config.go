package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Tickets   TicketConfig
	Storage   StorageConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitMB           int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	CatalogTTLSecs  int
	CatalogCacheKey string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	DevSeedPassword       string
}

// TicketConfig holds the gating rules of ticket creation.
type TicketConfig struct {
	// MaxTotalTickets is the lifetime number of tickets a requester may create.
	MaxTotalTickets            int
	SurveyRequiredForCancelled bool
	SerializeCreation          bool
}

// StorageConfig locates uploaded images.
type StorageConfig struct {
	UploadDir    string
	PublicPrefix string
}

// KafkaConfig enables event forwarding when brokers are set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Endpoint string
	Insecure bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxTickets := getEnvAsInt("MAX_TOTAL_TICKETS", 2)
	if maxTickets < 0 {
		return nil, fmt.Errorf("invalid MAX_TOTAL_TICKETS: %d", maxTickets)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BodyLimitMB:           getEnvAsInt("HTTP_BODY_LIMIT_MB", 16),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:        os.Getenv("REDIS_PASSWORD"),
			DB:              redisDB,
			CatalogTTLSecs:  getEnvAsInt("CATALOG_CACHE_TTL_SECONDS", 300),
			CatalogCacheKey: getEnv("CATALOG_CACHE_KEY", "helpdesk:catalog:request-types"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			DevSeedPassword:       getEnv("DEV_SEED_PASSWORD", "changeme"),
		},
		Tickets: TicketConfig{
			MaxTotalTickets:            maxTickets,
			SurveyRequiredForCancelled: getEnvAsBool("SURVEY_REQUIRE_FOR_CANCELLED", false),
			SerializeCreation:          getEnvAsBool("TICKETS_SERIALIZE_CREATION", false),
		},
		Storage: StorageConfig{
			UploadDir:    getEnv("UPLOAD_FOLDER", "uploads/tickets"),
			PublicPrefix: getEnv("UPLOAD_PUBLIC_PREFIX", "/uploads/tickets"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "helpdesk.ticket-events"),
		},
		Telemetry: TelemetryConfig{
			Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure: getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// CatalogTTL returns how long the request-type catalog stays cached.
func (r RedisConfig) CatalogTTL() time.Duration {
	if r.CatalogTTLSecs <= 0 {
		return 0
	}
	return time.Duration(r.CatalogTTLSecs) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
