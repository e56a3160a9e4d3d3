// Package config loads chatgw settings from a file, the environment and
// .env files. Command-line flags are applied on top by cmd/chatgw.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	Backend Backend `json:"backend" yaml:"backend" toml:"backend"`
	Session Session `json:"session" yaml:"session" toml:"session"`
	HTTP    HTTP    `json:"http" yaml:"http" toml:"http"`
	Auth    Auth    `json:"auth" yaml:"auth" toml:"auth"`
}

// Backend selects and tunes the text-generation backend.
type Backend struct {
	Kind         string   `json:"kind" yaml:"kind" toml:"kind"`
	Model        string   `json:"model" yaml:"model" toml:"model"`
	BaseURL      string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey       string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Temperature  *float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Verify       bool     `json:"verify" yaml:"verify" toml:"verify"`

	ConnectTimeoutSec      int `json:"connect_timeout_sec" yaml:"connect_timeout_sec" toml:"connect_timeout_sec"`
	HeaderTimeoutSec       int `json:"header_timeout_sec" yaml:"header_timeout_sec" toml:"header_timeout_sec"`
	InvokeTimeoutSec       int `json:"invoke_timeout_sec" yaml:"invoke_timeout_sec" toml:"invoke_timeout_sec"`
	FragmentIdleTimeoutSec int `json:"fragment_idle_timeout_sec" yaml:"fragment_idle_timeout_sec" toml:"fragment_idle_timeout_sec"`

	// In-process llama.cpp only.
	ModelDir       string `json:"model_dir" yaml:"model_dir" toml:"model_dir"`
	LlamaContext   int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads   int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LlamaMaxTokens int    `json:"llama_max_tokens" yaml:"llama_max_tokens" toml:"llama_max_tokens"`
}

type Session struct {
	MaxPending int `json:"max_pending" yaml:"max_pending" toml:"max_pending"`
}

type HTTP struct {
	MaxBodyBytes       int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ShutdownTimeoutSec int   `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec"`
	CORS               CORS  `json:"cors" yaml:"cors" toml:"cors"`
}

// CORS is enabled with allow-all defaults unless Enabled is set to false.
type CORS struct {
	Enabled        *bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

type Auth struct {
	// Store is "memory" or "sqlite".
	Store       string `json:"store" yaml:"store" toml:"store"`
	SQLitePath  string `json:"sqlite_path" yaml:"sqlite_path" toml:"sqlite_path"`
	TokenSecret string `json:"token_secret" yaml:"token_secret" toml:"token_secret"`
	TokenTTLSec int    `json:"token_ttl_sec" yaml:"token_ttl_sec" toml:"token_ttl_sec"`
}

// Default values.
const (
	DefaultAddr         = ":8000"
	DefaultBackend      = "ollama"
	DefaultModel        = "mistral:latest"
	DefaultTemperature  = 0.2
	DefaultMaxBodyBytes = 1 << 20
	DefaultMaxPending   = 16
	DefaultShutdownSec  = 5
	DefaultSQLitePath   = "~/.local/share/chatgw/accounts.db"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the recognized environment variables.
// getenv is usually os.Getenv.
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Addr, "CHATGW_ADDR")
	set(&cfg.LogLevel, "CHATGW_LOG_LEVEL")
	set(&cfg.Backend.Kind, "CHATGW_BACKEND")
	set(&cfg.Backend.Model, "OLLAMA_MODEL")
	set(&cfg.Backend.BaseURL, "OLLAMA_BASE_URL")
	set(&cfg.Backend.APIKey, "CHATGW_API_KEY")
	set(&cfg.Auth.TokenSecret, "CHATGW_TOKEN_SECRET")
	if v := strings.TrimSpace(getenv("CHATGW_TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHATGW_TEMPERATURE: %w", err)
		}
		cfg.Backend.Temperature = &f
	}
	return cfg, nil
}

// Defaults fills unspecified fields.
func Defaults(cfg Config) Config {
	def := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	def(&cfg.Addr, DefaultAddr)
	def(&cfg.LogLevel, "info")
	def(&cfg.LogFormat, "console")
	def(&cfg.Backend.Kind, DefaultBackend)
	def(&cfg.Backend.Model, DefaultModel)
	def(&cfg.Auth.Store, "memory")
	if cfg.Auth.Store == "sqlite" {
		def(&cfg.Auth.SQLitePath, DefaultSQLitePath)
	}
	if cfg.Backend.Temperature == nil {
		t := DefaultTemperature
		cfg.Backend.Temperature = &t
	}
	if cfg.Session.MaxPending <= 0 {
		cfg.Session.MaxPending = DefaultMaxPending
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.HTTP.ShutdownTimeoutSec <= 0 {
		cfg.HTTP.ShutdownTimeoutSec = DefaultShutdownSec
	}
	if cfg.HTTP.CORS.Enabled == nil {
		on := true
		cfg.HTTP.CORS.Enabled = &on
	}
	if len(cfg.HTTP.CORS.AllowedOrigins) == 0 {
		cfg.HTTP.CORS.AllowedOrigins = []string{"*"}
	}
	if len(cfg.HTTP.CORS.AllowedMethods) == 0 {
		cfg.HTTP.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORS.AllowedHeaders) == 0 {
		cfg.HTTP.CORS.AllowedHeaders = []string{"*"}
	}
	return cfg
}

// Validate rejects values that Defaults cannot repair.
func (c Config) Validate() error {
	b := c.Backend
	if b.ConnectTimeoutSec < 0 || b.HeaderTimeoutSec < 0 || b.InvokeTimeoutSec < 0 || b.FragmentIdleTimeoutSec < 0 {
		return errors.New("backend timeouts must not be negative")
	}
	switch c.Auth.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("auth.store must be memory or sqlite, got %q", c.Auth.Store)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// CORSEnabled reports the effective CORS switch.
func (c Config) CORSEnabled() bool { return c.HTTP.CORS.Enabled == nil || *c.HTTP.CORS.Enabled }
