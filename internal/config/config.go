// Package config loads client configuration from an optional YAML file
// with environment-variable overrides. Secrets normally arrive through the
// environment (or a .env file loaded by the caller); the YAML file carries
// the non-secret knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	UserID     string `yaml:"user_id"`
	Password   string `yaml:"-"`
	TOTPSecret string `yaml:"-"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"-"`

	TimeoutSeconds int    `yaml:"timeout_seconds"`
	KiteBaseURL    string `yaml:"kite_base_url"`
	APIBaseURL     string `yaml:"api_base_url"`
	HTTPLogging    bool   `yaml:"http_logging"`
}

// Load reads the YAML file when present, then applies environment
// overrides. A missing file is not an error; missing credentials are left
// for the negotiator to reject.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	applyEnv(&cfg.UserID, "KITE_USER_ID")
	applyEnv(&cfg.Password, "KITE_PASSWORD")
	applyEnv(&cfg.TOTPSecret, "KITE_TOTP_SECRET")
	applyEnv(&cfg.APIKey, "KITE_API_KEY")
	applyEnv(&cfg.APISecret, "KITE_API_SECRET")
	applyEnv(&cfg.KiteBaseURL, "KITE_BASE_URL")
	applyEnv(&cfg.APIBaseURL, "KITE_API_BASE_URL")

	if v := os.Getenv("KITE_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("KITE_TIMEOUT_SECONDS must be an integer: %w", err)
		}
		cfg.TimeoutSeconds = n
	}
	if v := os.Getenv("KITE_HTTP_LOGGING"); v != "" {
		cfg.HTTPLogging = v == "true"
	}

	return cfg, nil
}

// Timeout returns the configured per-round-trip timeout, zero when unset so
// the negotiator applies the broker default.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
