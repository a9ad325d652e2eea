package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Storage   StorageConfig
	MLBackend MLBackendConfig
	Signing   SigningConfig
	Events    EventsConfig
	SMTP      SMTPConfig
}

type AppConfig struct {
	Port               string `validate:"required,numeric"`
	Environment        string `validate:"required"`
	LogFilePath        string `validate:"required"`
	CorsAllowedOrigins string
	BodyLimitMB        int           `validate:"gt=0"`
	SessionTTL         time.Duration `validate:"gte=0"`
}

type StorageConfig struct {
	DataDir      string `validate:"required"`
	TempDir      string `validate:"required"`
	ProcessedDir string `validate:"required"`
	StoreFile    string `validate:"required"`
}

type MLBackendConfig struct {
	BaseURL       string        `validate:"required,url"`
	EmbedPath     string        `validate:"required,startswith=/"`
	ExtractPath   string        `validate:"required,startswith=/"`
	Timeout       time.Duration `validate:"gte=0"`
	WatermarkBits int           `validate:"gte=0"`
}

type SigningConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
}

// EventsConfig: empty URLs leave the matching sink disabled.
type EventsConfig struct {
	Topic    string `validate:"required"`
	NatsURL  string
	RedisURL string
}

// SMTPConfig drives failure alerts; alerts are off unless Host and AlertTo are set.
type SMTPConfig struct {
	Host     string
	Port     int `validate:"gte=0,lte=65535"`
	Email    string
	Password string
	AlertTo  []string `validate:"dive,email"`
}

// AlertsEnabled reports whether failure alerts can be mailed.
func (c SMTPConfig) AlertsEnabled() bool {
	return c.Host != "" && len(c.AlertTo) > 0
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "8000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/gateway.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			BodyLimitMB:        getEnvAsInt("BODY_LIMIT_MB", 1024),
			SessionTTL:         getEnvAsDuration("SESSION_TTL", 0),
		},
		Storage: StorageConfig{
			DataDir:      dataDir,
			TempDir:      getEnv("TEMP_DIR", filepath.Join(dataDir, "temp")),
			ProcessedDir: getEnv("PROCESSED_DIR", "./processed"),
			StoreFile:    getEnv("STORE_FILE", filepath.Join(dataDir, "video_store.json")),
		},
		MLBackend: MLBackendConfig{
			BaseURL:       getEnv("ML_BACKEND_URL", "http://python-backend:8001"),
			EmbedPath:     getEnv("ML_EMBED_PATH", "/process_video"),
			ExtractPath:   getEnv("ML_EXTRACT_PATH", "/analyze_video"),
			Timeout:       getEnvAsDuration("BACKEND_TIMEOUT", 0),
			WatermarkBits: getEnvAsInt("WATERMARK_BITS", 0),
		},
		Signing: SigningConfig{
			PrivateKeyPath: getEnv("SIGNING_PRIVATE_KEY_PATH", ""),
			PublicKeyPath:  getEnv("SIGNING_PUBLIC_KEY_PATH", ""),
		},
		Events: EventsConfig{
			Topic:    getEnv("EVENTS_TOPIC", "session.status"),
			NatsURL:  getEnv("NATS_URL", ""),
			RedisURL: getEnv("REDIS_URL", ""),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Email:    getEnv("SMTP_EMAIL", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			AlertTo:  getEnvAsList("ALERT_EMAIL_TO"),
		},
	}
}

// IsProduction reports whether GO_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Validate checks field constraints and the signing key requirement in production.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsProduction() && c.Signing.PrivateKeyPath == "" {
		return fmt.Errorf("invalid configuration: SIGNING_PRIVATE_KEY_PATH is required in production")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsDuration accepts Go duration strings ("30s") or plain seconds ("30").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
