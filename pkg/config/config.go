package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	GitHub   ProviderConfig
	GitLab   ProviderConfig
	Session  SessionConfig
	Workers  WorkersConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

type DatabaseConfig struct {
	Path string
}

// ProviderConfig holds OAuth and webhook settings for one VCS provider
type ProviderConfig struct {
	ClientID      string
	ClientSecret  string
	CallbackURL   string
	BaseURL       string
	WebhookSecret string
}

// Enabled reports whether OAuth credentials were configured for the provider
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type SessionConfig struct {
	Secret string
}

// WorkersConfig controls the background job workers
type WorkersConfig struct {
	SyncWorkers      int
	LifecycleWorkers int
	WebhookWorkers   int
	PollInterval     time.Duration
	MaxAttempts      int
	// ResyncHour is the local hour at which every account is synced again, -1 disables it
	ResyncHour int
}

type LogConfig struct {
	Level string
}

var AppConfig *Config

// Load loads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Mode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 15),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./openwiden.db"),
		},
		GitHub: ProviderConfig{
			ClientID:      getEnv("GITHUB_CLIENT_ID", ""),
			ClientSecret:  getEnv("GITHUB_CLIENT_SECRET", ""),
			CallbackURL:   getEnv("GITHUB_CALLBACK_URL", ""),
			BaseURL:       getEnv("GITHUB_API_URL", ""),
			WebhookSecret: getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		GitLab: ProviderConfig{
			ClientID:      getEnv("GITLAB_CLIENT_ID", ""),
			ClientSecret:  getEnv("GITLAB_CLIENT_SECRET", ""),
			CallbackURL:   getEnv("GITLAB_CALLBACK_URL", ""),
			BaseURL:       getEnv("GITLAB_URL", "https://gitlab.com"),
			WebhookSecret: getEnv("GITLAB_WEBHOOK_SECRET", ""),
		},
		Session: SessionConfig{
			Secret: getEnv("SESSION_SECRET", "default-secret-key"),
		},
		Workers: WorkersConfig{
			SyncWorkers:      getEnvAsInt("SYNC_WORKERS", 2),
			LifecycleWorkers: getEnvAsInt("LIFECYCLE_WORKERS", 2),
			WebhookWorkers:   getEnvAsInt("WEBHOOK_WORKERS", 2),
			PollInterval:     time.Duration(getEnvAsInt("WORKER_POLL_SECONDS", 2)) * time.Second,
			MaxAttempts:      getEnvAsInt("JOB_MAX_ATTEMPTS", 3),
			ResyncHour:       getEnvAsInt("RESYNC_HOUR", -1),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return AppConfig, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
