package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries every knob the identity core consumes. Values come from the
// environment, optionally seeded from a .env file.
type Config struct {
	Addr    string `env:"AUTHCORE_ADDR" envDefault:":8080"`
	BaseURL string `env:"AUTHCORE_BASE_URL" envDefault:"http://localhost:8080"`
	Debug   bool   `env:"AUTHCORE_DEBUG" envDefault:"false"`

	DatabaseDSN string `env:"AUTHCORE_PG_DSN"`
	RedisAddr   string `env:"AUTHCORE_REDIS_ADDR"`

	TokenSecret     string        `env:"AUTHCORE_TOKEN_SECRET"`
	AccessTokenTTL  time.Duration `env:"AUTHCORE_ACCESS_TTL" envDefault:"30m"`
	RefreshTokenTTL time.Duration `env:"AUTHCORE_REFRESH_TTL" envDefault:"168h"`

	LockoutThreshold int           `env:"AUTHCORE_LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration  time.Duration `env:"AUTHCORE_LOCKOUT_DURATION" envDefault:"30m"`

	// AllowUnverifiedLogin lets unverified accounts authenticate. Off by
	// default; enabling it is logged loudly at startup.
	AllowUnverifiedLogin bool `env:"AUTHCORE_ALLOW_UNVERIFIED_LOGIN" envDefault:"false"`

	OAuthStateTTL      time.Duration `env:"AUTHCORE_OAUTH_STATE_TTL" envDefault:"30m"`
	GoogleClientID     string        `env:"AUTHCORE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"AUTHCORE_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string        `env:"AUTHCORE_GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"AUTHCORE_GITHUB_CLIENT_SECRET"`

	MailFrom string `env:"AUTHCORE_MAIL_FROM" envDefault:"no-reply@authcore.org"`

	RateLimitBurst     int `env:"AUTHCORE_RATE_BURST" envDefault:"20"`
	RateLimitPerSecond int `env:"AUTHCORE_RATE_PER_SECOND" envDefault:"10"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	// Shorten the lockout window in debug runs, but only when the operator
	// did not set one explicitly.
	if _, explicit := os.LookupEnv("AUTHCORE_LOCKOUT_DURATION"); cfg.Debug && !explicit {
		cfg.LockoutDuration = 2 * time.Minute
	}

	if cfg.LockoutThreshold < 1 {
		return Config{}, fmt.Errorf("config: lockout threshold must be positive, got %d", cfg.LockoutThreshold)
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return Config{}, fmt.Errorf("config: token TTLs must be positive")
	}
	return cfg, nil
}
