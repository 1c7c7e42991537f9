package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Intake    IntakeConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL           string
	NotifyChannel string
	MaxOpenConns  int
	MaxIdleConns  int
}

// LLMConfig configures the live model.  An empty APIKey means every reply
// comes from the fallback triage responder.
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	SummaryModel string
	Timeout      time.Duration
}

type IntakeConfig struct {
	MessageCap int
	QueueLimit int
}

type LogConfig struct {
	Level   string
	Format  string
	Service string
}

type RateLimitConfig struct {
	// Per-session patient message rate
	RequestsPerSecond float64
	BurstSize         int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HOST", "0.0.0.0"),
			Port:            getEnvInt("PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			// SSE streams hold the connection open, so no write deadline by default.
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
		},
		Database: DatabaseConfig{
			URL:           getEnv("DATABASE_URL", ""),
			NotifyChannel: getEnv("POSTGRES_NOTIFY_CHANNEL", "summary_updates"),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		LLM: LLMConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			ChatModel:    getEnv("OPENAI_MODEL_CHAT", "gpt-4o-mini"),
			SummaryModel: getEnv("OPENAI_MODEL_SUMMARY", ""),
			Timeout:      getEnvDuration("MODEL_TIMEOUT", 20*time.Second),
		},
		Intake: IntakeConfig{
			MessageCap: getEnvInt("MESSAGE_CAP", 50),
			QueueLimit: getEnvInt("QUEUE_LIMIT", 100),
		},
		Log: LogConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  getEnv("LOG_FORMAT", "json"),
			Service: getEnv("SERVICE_NAME", "intake-triage"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 0.5),
			BurstSize:         getEnvInt("RATE_LIMIT_BURST", 3),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "PORT must be between 1 and 65535")
	}
	if cfg.Intake.MessageCap <= 0 {
		errs = append(errs, "MESSAGE_CAP must be positive")
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.BurstSize <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
