package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	AdminPasswordHash  string `env:"ADMIN_PASSWORD_HASH"`
	AdminSessionSecret string `env:"ADMIN_SESSION_SECRET"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`

	DataDir    string `env:"DATA_DIR" envDefault:"./data"`
	WAAuthDir  string `env:"WA_AUTH_DIR"`
	CORSOrigin string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	InactivityCloseMinutes    int    `env:"INACTIVITY_CLOSE_MINUTES" envDefault:"5"`
	SweepIntervalSeconds      int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	ReconnectBackoffMs        int    `env:"RECONNECT_BACKOFF_MS" envDefault:"3000"`
	ReplyWaitTimeoutMs        int    `env:"REPLY_WAIT_TIMEOUT_MS" envDefault:"300000"`
	ClosingPhrase             string `env:"CLOSING_PHRASE" envDefault:"end chat"`
	CountryCode               string `env:"COUNTRY_CODE" envDefault:"972"`
	RequireQuoteWhenAmbiguous bool   `env:"REQUIRE_QUOTE_WHEN_AMBIGUOUS" envDefault:"false"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CredentialDir is where the WhatsApp pairing credentials live. ForceReconnect
// wipes this directory.
func (c *Config) CredentialDir() string {
	if c.WAAuthDir != "" {
		return c.WAAuthDir
	}
	return filepath.Join(c.DataDir, "wa_auth")
}

func (c *Config) InactivityThreshold() time.Duration {
	return time.Duration(c.InactivityCloseMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffMs) * time.Millisecond
}

func (c *Config) ReplyWaitTimeout() time.Duration {
	return time.Duration(c.ReplyWaitTimeoutMs) * time.Millisecond
}

func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminPasswordHash != "" {
		if !strings.HasPrefix(c.AdminPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2y$") {
			return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: wa-relay hash-password <password>)")
		}
	}

	if c.InactivityCloseMinutes <= 0 {
		return fmt.Errorf("INACTIVITY_CLOSE_MINUTES must be positive")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.ReconnectBackoffMs <= 0 {
		return fmt.Errorf("RECONNECT_BACKOFF_MS must be positive")
	}
	if c.ReplyWaitTimeoutMs <= 0 {
		return fmt.Errorf("REPLY_WAIT_TIMEOUT_MS must be positive")
	}
	if strings.TrimSpace(c.ClosingPhrase) == "" {
		return fmt.Errorf("CLOSING_PHRASE must not be empty")
	}
	if c.CountryCode == "" || strings.Trim(c.CountryCode, "0123456789") != "" {
		return fmt.Errorf("COUNTRY_CODE must be digits only, got %q", c.CountryCode)
	}

	if isProduction {
		if err := validateSecret("ADMIN_SESSION_SECRET", c.AdminSessionSecret); err != nil {
			return err
		}

		if c.AdminPasswordHash == "" {
			log.Warn().Msg("ADMIN_PASSWORD_HASH is empty in production: admin API disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.CORSOrigin == "*" {
			log.Warn().Msg("CORS_ALLOWED_ORIGINS is * in production: any site can call the widget API")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
