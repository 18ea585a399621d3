package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Provider types.
const (
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds all intentd configuration.
type Config struct {
	Listen    string           `yaml:"listen" validate:"required"`
	Server    ServerConfig     `yaml:"server"`
	Cache     CacheConfig      `yaml:"cache"`
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
	Audit     AuditConfig      `yaml:"audit"`
	Log       LogConfig        `yaml:"log"`
	Tracing   TracingConfig    `yaml:"tracing"`
}

// ServerConfig controls request handling.
type ServerConfig struct {
	// MaxInFlight bounds concurrent analyses across all requests.
	MaxInFlight     int           `yaml:"max_inflight" validate:"gte=1"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxSize       int           `yaml:"max_size" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
}

// ProviderConfig defines one model backend candidate.
// Candidates are tried in the order they are listed.
type ProviderConfig struct {
	Name       string        `yaml:"name"`
	Type       string        `yaml:"type" validate:"required,oneof=bedrock openai anthropic gemini"`
	URL        string        `yaml:"url" validate:"omitempty,url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Region     string        `yaml:"region"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
	MaxTokens  int           `yaml:"max_tokens" validate:"gte=0"`
}

// DisplayName returns Name, or Type when no name is set.
func (p ProviderConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type
}

// AuditConfig controls the analysis log.
type AuditConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DBPath         string `yaml:"db_path" validate:"required_if=Enabled true"`
	RetentionDays  int    `yaml:"retention_days" validate:"gte=0"`
	IncludeQueries bool   `yaml:"include_queries"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: "0.0.0.0:5002",
		Server: ServerConfig{
			MaxInFlight:     64,
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           time.Hour,
			MaxSize:       1000,
			SweepInterval: 5 * time.Minute,
		},
		Providers: []ProviderConfig{
			{
				Name:       ProviderBedrock,
				Type:       ProviderBedrock,
				Region:     "us-east-1",
				Model:      "anthropic.claude-3-5-sonnet-20241022-v2:0",
				Timeout:    60 * time.Second,
				MaxRetries: 2,
			},
			{
				Name:       ProviderOpenAI,
				Type:       ProviderOpenAI,
				Model:      "gpt-4",
				Timeout:    60 * time.Second,
				MaxRetries: 2,
			},
		},
		Audit: AuditConfig{
			Enabled:       false,
			DBPath:        "intentd.db",
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "intentd",
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the service's environment variables onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	host, hasHost := get("HOST")
	port, hasPort := get("PORT")
	if hasHost || hasPort {
		curHost, curPort := splitListen(cfg.Listen)
		if hasHost {
			curHost = host
		}
		if hasPort {
			curPort = port
		}
		cfg.Listen = curHost + ":" + curPort
	}

	if v, ok := get("CACHE_ENABLED"); ok {
		cfg.Cache.Enabled = strings.EqualFold(v, "true")
	}
	if v, ok := get("CACHE_TTL"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CACHE_TTL: %w", err)
		}
		cfg.Cache.TTL = time.Duration(secs) * time.Second
	}
	if v, ok := get("MAX_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse MAX_CACHE_SIZE: %w", err)
		}
		cfg.Cache.MaxSize = n
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		switch p.Type {
		case ProviderOpenAI:
			overlay(&p.APIKey, get, "OPENAI_API_KEY")
			overlay(&p.Model, get, "OPENAI_MODEL")
		case ProviderBedrock:
			overlay(&p.Region, get, "BEDROCK_REGION")
			overlay(&p.Model, get, "BEDROCK_MODEL_ID")
		case ProviderAnthropic:
			overlay(&p.APIKey, get, "ANTHROPIC_API_KEY")
		case ProviderGemini:
			overlay(&p.APIKey, get, "GEMINI_API_KEY")
		}
	}
	return nil
}

func overlay(dst *string, get func(string) (string, bool), key string) {
	if v, ok := get(key); ok {
		*dst = v
	}
}

func splitListen(listen string) (string, string) {
	i := strings.LastIndex(listen, ":")
	if i < 0 {
		return listen, "5002"
	}
	return listen[:i], listen[i+1:]
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Enabled && c.Cache.MaxSize < 1 {
		return fmt.Errorf("invalid config: cache.max_size must be at least 1 when the cache is enabled")
	}
	return nil
}
