// Package config defines the tally configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level tally configuration shared by tallyd and tally.
type Config struct {
	Server   ServerConfig `json:"server" yaml:"server"`
	Auth     AuthConfig   `json:"auth" yaml:"auth"`
	Bus      BusConfig    `json:"bus" yaml:"bus"`
	Client   ClientConfig `json:"client" yaml:"client"`
	DataDir  string       `json:"data_dir" yaml:"data_dir"`
	LogLevel string       `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls accounts and session tokens.
type AuthConfig struct {
	JWTSecret  string        `json:"jwt_secret" yaml:"jwt_secret"` // empty: random per process
	TokenTTL   time.Duration `json:"token_ttl" yaml:"token_ttl"`
	BcryptCost int           `json:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// Bus kinds.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
)

// BusConfig selects how change notifications travel between server instances.
type BusConfig struct {
	Kind        string `json:"kind" yaml:"kind"` // "memory" or "redis"
	RedisAddr   string `json:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string `json:"redis_prefix,omitempty" yaml:"redis_prefix"`
}

// ClientConfig controls the tally CLI.
type ClientConfig struct {
	ServerURL       string        `json:"server_url" yaml:"server_url"`
	MutationTimeout time.Duration `json:"mutation_timeout" yaml:"mutation_timeout"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
		},
		Bus: BusConfig{
			Kind: BusMemory,
		},
		Client: ClientConfig{
			ServerURL:       "http://localhost:9090",
			MutationTimeout: 15 * time.Second,
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from TALLY_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"TALLY_ADDR":         &c.Server.Addr,
		"TALLY_DATA_DIR":     &c.DataDir,
		"TALLY_LOG_LEVEL":    &c.LogLevel,
		"TALLY_JWT_SECRET":   &c.Auth.JWTSecret,
		"TALLY_BUS":          &c.Bus.Kind,
		"TALLY_REDIS_ADDR":   &c.Bus.RedisAddr,
		"TALLY_REDIS_PREFIX": &c.Bus.RedisPrefix,
		"TALLY_SERVER":       &c.Client.ServerURL,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	dur := map[string]*time.Duration{
		"TALLY_TOKEN_TTL":        &c.Auth.TokenTTL,
		"TALLY_MUTATION_TIMEOUT": &c.Client.MutationTimeout,
	}
	for key, dst := range dur {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv("TALLY_BCRYPT_COST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TALLY_BCRYPT_COST: %w", err)
		}
		c.Auth.BcryptCost = n
	}
	return nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Bus.Kind {
	case "", BusMemory:
	case BusRedis:
		if c.Bus.RedisAddr == "" {
			return errors.New("bus.redis_addr is required for the redis bus")
		}
	default:
		return fmt.Errorf("unknown bus kind %q", c.Bus.Kind)
	}
	if c.Auth.TokenTTL < 0 {
		return errors.New("auth.token_ttl must not be negative")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
