package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "PARLEY"

type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	DBURL          string        `envconfig:"DB_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	RedisPrefix    string        `envconfig:"REDIS_PREFIX" default:"parley"`
	TLSCertPath    string        `envconfig:"TLS_CERT"`
	TLSKeyPath     string        `envconfig:"TLS_KEY"`
	TokenTTL       time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	ReplayHistory  bool          `envconfig:"REPLAY_HISTORY" default:"false"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
}

func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AllowedOrigins = trimOrigins(cfg.AllowedOrigins)
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if c.DBURL == "" {
		return errors.New("db url is required")
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return errors.New("both tls cert and key are required when enabling tls")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.RedisURL != "" && strings.TrimSpace(c.RedisPrefix) == "" {
		return errors.New("redis prefix is required when redis is enabled")
	}
	return nil
}

func (c Config) TLSEnabled() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != ""
}

func trimOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
