package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	Token    TokenConfig
	Session  SessionConfig
	Security SecurityConfig
	CORS     CORSConfig
	Log      LogConfig
	Reports  ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TokenConfig governs access and refresh token issuance.
type TokenConfig struct {
	Secret        string
	Issuer        string
	Audience      []string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// SessionConfig controls the per-user session records.
type SessionConfig struct {
	// Lifetime bounds the session record regardless of activity.
	Lifetime time.Duration
	// InactivityTimeout expires sessions with no verified request.
	InactivityTimeout time.Duration
	// CacheTTL bounds the Redis read-through cache entry.
	CacheTTL time.Duration
	// SweepInterval schedules the expired-record cleanup job.
	SweepInterval time.Duration
}

// SecurityConfig tunes retry behaviour and event persistence.
type SecurityConfig struct {
	StoreRetryMax     uint64
	StoreRetryBackoff time.Duration
	EventWorkers      int
	EventBuffer       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ReportsConfig toggles the security-event export endpoints and their
// on-disk archive.
type ReportsConfig struct {
	Enabled bool
	MaxRows int
	Dir     string
	LinkTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Token = TokenConfig{
		Secret:        v.GetString("TOKEN_SECRET"),
		Issuer:        v.GetString("TOKEN_ISSUER"),
		Audience:      splitAndTrim(v.GetString("TOKEN_AUDIENCE")),
		AccessExpiry:  parseDuration(v.GetString("ACCESS_TOKEN_EXPIRATION"), 15*time.Minute),
		RefreshExpiry: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 14*24*time.Hour),
	}

	cfg.Session = SessionConfig{
		Lifetime:          parseDuration(v.GetString("SESSION_LIFETIME"), 14*24*time.Hour),
		InactivityTimeout: parseDuration(v.GetString("SESSION_INACTIVITY_TIMEOUT"), 30*time.Minute),
		CacheTTL:          parseDuration(v.GetString("SESSION_CACHE_TTL"), 5*time.Minute),
		SweepInterval:     parseDuration(v.GetString("SESSION_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Security = SecurityConfig{
		StoreRetryMax:     uint64(v.GetInt("STORE_RETRY_MAX")),
		StoreRetryBackoff: parseDuration(v.GetString("STORE_RETRY_BACKOFF"), 100*time.Millisecond),
		EventWorkers:      v.GetInt("SECURITY_EVENT_WORKERS"),
		EventBuffer:       v.GetInt("SECURITY_EVENT_BUFFER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Reports = ReportsConfig{
		Enabled: v.GetBool("ENABLE_SECURITY_REPORTS"),
		MaxRows: v.GetInt("SECURITY_REPORTS_MAX_ROWS"),
		Dir:     v.GetString("SECURITY_REPORTS_DIR"),
		LinkTTL: parseDuration(v.GetString("SECURITY_REPORTS_LINK_TTL"), 24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campushub")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("TOKEN_SECRET", "dev_secret")
	v.SetDefault("TOKEN_ISSUER", "campushub")
	v.SetDefault("TOKEN_AUDIENCE", "campushub-clients")
	v.SetDefault("ACCESS_TOKEN_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "336h")

	v.SetDefault("SESSION_LIFETIME", "336h")
	v.SetDefault("SESSION_INACTIVITY_TIMEOUT", "30m")
	v.SetDefault("SESSION_CACHE_TTL", "5m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1h")

	v.SetDefault("STORE_RETRY_MAX", 3)
	v.SetDefault("STORE_RETRY_BACKOFF", "100ms")
	v.SetDefault("SECURITY_EVENT_WORKERS", 1)
	v.SetDefault("SECURITY_EVENT_BUFFER", 64)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_SECURITY_REPORTS", true)
	v.SetDefault("SECURITY_REPORTS_MAX_ROWS", 5000)
	v.SetDefault("SECURITY_REPORTS_DIR", "./exports")
	v.SetDefault("SECURITY_REPORTS_LINK_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
