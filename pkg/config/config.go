// Package config loads the tiled-server process configuration: a struct
// with a fixed-path JSON file plus environment-variable overrides and a
// Validate step run once at startup, covering the catalog/auth/stream
// backends and HTTP listener this service needs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration, loaded once at startup and
// read-only afterward global-state list.
type Config struct {
	ListenAddr string `json:"listen_addr"`

	// DatabaseURI backs the single catalogstore.Store that holds both the
	// node/structure catalog and the principal/api_keys/sessions tables
	// (catalogstore.Store's migrations create both table groups
	// together; there is no separate auth store to point elsewhere).
	DatabaseURI string `json:"database_uri"`

	StreamBackend string `json:"stream_backend"` // "memory" or "redis"
	RedisAddr     string `json:"redis_addr,omitempty"`

	JWTSecrets      []string      `json:"jwt_secrets"`
	JWTIssuer       string        `json:"jwt_issuer"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`

	AllowAnonymousPublic bool `json:"allow_anonymous_public"`

	DefaultPageSize        int   `json:"default_page_size"`
	MaxPageSize            int   `json:"max_page_size"`
	ResponseSizeLimitBytes int64 `json:"response_size_limit_bytes"`

	AllowedOrigin string `json:"allowed_origin"`
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func baseDir() string { return filepath.Join(homeDir(), ".tiled") }

func ConfigPath() string {
	if p := os.Getenv("TILED_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(baseDir(), "config.json")
}

// Default returns the configuration a fresh single-process deployment
// starts from: one sqlite database (catalog and auth tables) under ~/.tiled,
// the in-memory stream backend, and anonymous public-tag reads allowed.
func Default() *Config {
	return &Config{
		ListenAddr:             ":8000",
		DatabaseURI:            "sqlite:" + filepath.Join(baseDir(), "catalog.db"),
		StreamBackend:          "memory",
		JWTSecrets:             nil,
		JWTIssuer:              "tiled",
		AccessTokenTTL:         15 * time.Minute,
		RefreshTokenTTL:        7 * 24 * time.Hour,
		AllowAnonymousPublic:   true,
		DefaultPageSize:        100,
		MaxPageSize:            1000,
		ResponseSizeLimitBytes: 100 << 20,
		AllowedOrigin:          "*",
	}
}

// Load reads the config file at ConfigPath if present, falling back to
// Default, then applies TILED_*-prefixed environment overrides on top of
// the file-based config.
func Load() (*Config, error) {
	cfg := Default()
	if b, err := os.ReadFile(ConfigPath()); err == nil {
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", ConfigPath(), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", ConfigPath(), err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("TILED_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TILED_DATABASE_URI"); v != "" {
		c.DatabaseURI = v
	}
	if v := os.Getenv("TILED_STREAM_BACKEND"); v != "" {
		c.StreamBackend = v
	}
	if v := os.Getenv("TILED_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("TILED_JWT_SECRETS"); v != "" {
		c.JWTSecrets = strings.Split(v, ",")
	}
	if v := os.Getenv("TILED_ALLOW_ANONYMOUS_PUBLIC"); v != "" {
		c.AllowAnonymousPublic = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("TILED_MAX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPageSize = n
		}
	}
}

// Save writes c to ConfigPath, creating its directory if needed.
func Save(c *Config) error {
	if err := os.MkdirAll(filepath.Dir(ConfigPath()), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), b, 0o600)
}

// Validate rejects a configuration the server cannot safely start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr required")
	}
	if c.DatabaseURI == "" {
		return fmt.Errorf("config: database_uri required")
	}
	switch c.StreamBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("config: redis_addr required when stream_backend is redis")
		}
	default:
		return fmt.Errorf("config: unknown stream_backend %q", c.StreamBackend)
	}
	if len(c.JWTSecrets) == 0 {
		return fmt.Errorf("config: at least one jwt_secret required")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("config: default_page_size/max_page_size misconfigured")
	}
	return nil
}
