// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level relay manifest.
type Config struct {
	Server     Server     `toml:"server"`
	Downstream Downstream `toml:"downstream"`
	GenAI      GenAI      `toml:"genai"`
	Retry      Retry      `toml:"retry"`
	RateLimit  RateLimit  `toml:"rate_limit"`
}

type Server struct {
	Listen  string `toml:"listen"`
	TLSCert string `toml:"tls_cert"`
	TLSKey  string `toml:"tls_key"`
}

// Downstream locates the backing chat service. BaseURL is required; the
// DOWNSTREAM_BASE_URL environment variable overrides the manifest value.
type Downstream struct {
	BaseURL       string `toml:"base_url"`
	ChatPath      string `toml:"chat_path"`
	ForwardPrefix string `toml:"forward_prefix"`
}

// GenAI configures the optional direct generative upstream. Disabled when
// BaseURL is empty.
type GenAI struct {
	BaseURL     string `toml:"base_url"`
	Model       string `toml:"model"`
	RequireAuth bool   `toml:"require_auth"`
}

type Retry struct {
	MaxAttempts         int `toml:"max_attempts"`
	AttemptTimeoutMS    int `toml:"attempt_timeout_ms"`
	TimeoutBackoffMS    int `toml:"timeout_backoff_ms"`
	DefaultRetryAfterMS int `toml:"default_retry_after_ms"`
}

type RateLimit struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// Load reads the manifest, applies environment overrides, and validates.
// A missing file is not fatal: the environment alone can configure the relay.
func Load(p string) (Config, error) {
	var cfg Config
	if b, err := os.ReadFile(p); err == nil {
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse manifest %s: %w", p, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	if v := strings.TrimSpace(os.Getenv("DOWNSTREAM_BASE_URL")); v != "" {
		cfg.Downstream.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GENAI_BASE_URL")); v != "" {
		cfg.GenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_LISTEN_ADDRESS")); v != "" {
		cfg.Server.Listen = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalizes paths and fills defaults. The downstream base URL is
// the one hard requirement.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = ":4000"
	}

	base := strings.TrimRight(strings.TrimSpace(c.Downstream.BaseURL), "/")
	if base == "" {
		return errors.New("downstream.base_url (or DOWNSTREAM_BASE_URL) is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("downstream.base_url %q is not an absolute URL", c.Downstream.BaseURL)
	}
	c.Downstream.BaseURL = base

	c.Downstream.ChatPath = cleanPath(c.Downstream.ChatPath, "/chat/stream")
	c.Downstream.ForwardPrefix = cleanPath(c.Downstream.ForwardPrefix, "/api/passkey")

	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must be >= 0")
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 2
	}
	if c.Retry.AttemptTimeoutMS == 0 {
		c.Retry.AttemptTimeoutMS = 45_000
	}
	if c.Retry.TimeoutBackoffMS == 0 {
		c.Retry.TimeoutBackoffMS = 1_000
	}
	if c.Retry.DefaultRetryAfterMS == 0 {
		c.Retry.DefaultRetryAfterMS = 5_000
	}
	if c.Retry.AttemptTimeoutMS < 0 || c.Retry.TimeoutBackoffMS < 0 || c.Retry.DefaultRetryAfterMS < 0 {
		return errors.New("retry durations must be >= 0")
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must be >= 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}

	if c.GenAI.BaseURL != "" {
		g := strings.TrimRight(strings.TrimSpace(c.GenAI.BaseURL), "/")
		gu, err := url.Parse(g)
		if err != nil || gu.Scheme == "" || gu.Host == "" {
			return fmt.Errorf("genai.base_url %q is not an absolute URL", c.GenAI.BaseURL)
		}
		c.GenAI.BaseURL = g
	}

	return nil
}

func cleanPath(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = def
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// EnvOr returns the environment value for k, or def when unset.
func EnvOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
