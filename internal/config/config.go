package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Dispatch DispatchConfig
	Provider ProviderConfig
	Chat     ChatConfig
}

// DispatchConfig tunes the background dispatcher and the job polling loop.
type DispatchConfig struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// ProviderConfig carries credentials for the remote job providers.
// Values resolve from explicit configuration first, environment second;
// callers fail fast at construction when both are absent.
type ProviderConfig struct {
	HunyuanSecretID  string
	HunyuanSecretKey string
	HunyuanRegion    string
	TripoAPIKey      string
	TripoBaseURL     string
}

// ChatConfig carries the streaming chat provider settings.
type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "atelier"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "atelier"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		Dispatch: DispatchConfig{
			Workers:      getenvInt("DISPATCH_WORKERS", 8),
			QueueSize:    getenvInt("DISPATCH_QUEUE_SIZE", 256),
			PollInterval: getenvDuration("JOB_POLL_INTERVAL", 3*time.Second),
			PollTimeout:  getenvDuration("JOB_POLL_TIMEOUT", 10*time.Minute),
		},
		Provider: ProviderConfig{
			HunyuanSecretID:  strings.TrimSpace(getenv("HUNYUAN_SECRET_ID", "")),
			HunyuanSecretKey: strings.TrimSpace(getenv("HUNYUAN_SECRET_KEY", "")),
			HunyuanRegion:    getenv("HUNYUAN_REGION", "ap-guangzhou"),
			TripoAPIKey:      strings.TrimSpace(getenv("TRIPO_API_KEY", "")),
			TripoBaseURL:     getenv("TRIPO_BASE_URL", "https://api.tripo3d.ai/v2/openapi"),
		},
		Chat: ChatConfig{
			BaseURL: getenv("CHAT_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  strings.TrimSpace(getenv("CHAT_API_KEY", "")),
			Model:   getenv("CHAT_MODEL", "gpt-4o-mini"),
		},
	}
}

// Module wires configuration for the application.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
