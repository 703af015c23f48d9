// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the service reads at startup.
type Config struct {
	HTTPAddr string `env:"AUTHGRID_HTTP_ADDR" envDefault:":8080"`
	BaseURL  string `env:"AUTHGRID_BASE_URL" envDefault:"http://localhost:8080"`

	PostgresDSN string `env:"AUTHGRID_PG_DSN"`

	RedisAddr     string `env:"AUTHGRID_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"AUTHGRID_REDIS_PASSWORD"`
	RedisDB       int    `env:"AUTHGRID_REDIS_DB" envDefault:"0"`

	JWTSecret  string        `env:"AUTHGRID_JWT_SECRET"`
	Issuer     string        `env:"AUTHGRID_ISSUER" envDefault:"authgrid"`
	AccessTTL  time.Duration `env:"AUTHGRID_ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTTL time.Duration `env:"AUTHGRID_REFRESH_TOKEN_TTL" envDefault:"720h"`

	SessionLimitPerUser int           `env:"AUTHGRID_SESSION_LIMIT_PER_USER" envDefault:"5"`
	SessionOpTimeout    time.Duration `env:"AUTHGRID_SESSION_OP_TIMEOUT" envDefault:"3s"`

	PasswordResetTTL time.Duration `env:"AUTHGRID_PASSWORD_RESET_TTL" envDefault:"1h"`

	// BootstrapAdminEmail names the account that receives the auth
	// service's admin role at startup. Empty skips the grant.
	BootstrapAdminEmail string `env:"AUTHGRID_BOOTSTRAP_ADMIN_EMAIL"`

	SMTPHost   string `env:"AUTHGRID_SMTP_HOST"`
	SMTPPort   int    `env:"AUTHGRID_SMTP_PORT" envDefault:"587"`
	SMTPUser   string `env:"AUTHGRID_SMTP_USER"`
	SMTPPass   string `env:"AUTHGRID_SMTP_PASSWORD"`
	MailSender string `env:"AUTHGRID_MAIL_SENDER" envDefault:"noreply@authgrid.org"`

	RateBurst  int `env:"AUTHGRID_RATE_BURST" envDefault:"20"`
	RatePerSec int `env:"AUTHGRID_RATE_PER_SEC" envDefault:"10"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionLimitPerUser < 0 {
		return Config{}, fmt.Errorf("AUTHGRID_SESSION_LIMIT_PER_USER must not be negative")
	}
	return cfg, nil
}
