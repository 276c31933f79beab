package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string   `mapstructure:"PORT"`
	Env                  string   `mapstructure:"ENV"`
	BackendBaseURL       string   `mapstructure:"BACKEND_BASE_URL"`
	BackendToken         string   `mapstructure:"BACKEND_TOKEN"`
	PollIntervalSeconds  int      `mapstructure:"POLL_INTERVAL_SECONDS"`
	ClinicUTCOffsetHours int      `mapstructure:"CLINIC_UTC_OFFSET_HOURS"`
	SkipPositions        int      `mapstructure:"SKIP_POSITIONS"`
	AuthSigningKey       string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins          []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("POLL_INTERVAL_SECONDS", 30)
	v.SetDefault("CLINIC_UTC_OFFSET_HOURS", 8)
	v.SetDefault("SKIP_POSITIONS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BACKEND_BASE_URL")
	v.BindEnv("BACKEND_TOKEN")
	v.BindEnv("POLL_INTERVAL_SECONDS")
	v.BindEnv("CLINIC_UTC_OFFSET_HOURS")
	v.BindEnv("SKIP_POSITIONS")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.BackendBaseURL == "" {
		return nil, fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if cfg.PollIntervalSeconds <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if cfg.SkipPositions <= 0 {
		return nil, fmt.Errorf("SKIP_POSITIONS must be positive")
	}
	if !cfg.IsDev() && cfg.AuthSigningKey == "" {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is required outside development")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get staff access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction reports whether the server is configured for production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PollInterval returns the refresh cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ClinicUTCOffset returns the UTC-to-clinic-local offset as a duration.
func (c *Config) ClinicUTCOffset() time.Duration {
	return time.Duration(c.ClinicUTCOffsetHours) * time.Hour
}
