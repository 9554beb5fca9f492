// Package config holds the Force Engine's process-wide configuration:
// defaults, then environment variables, then an optional YAML file, then
// functional options — each layer overriding the previous, following the
// teacher framework's three-layer Config model.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/force-engine/force/internal/logging"
)

// Mode is the process's deployment mode.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeStaging     Mode = "staging"
	ModeProduction  Mode = "production"
)

// Transport is the MCP Surface's wire transport.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// HTTPConfig configures the http transport's listener.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RegistryConfig configures Registry hot reload and the optional Redis
// aggregate cache.
type RegistryConfig struct {
	Watch    bool   `yaml:"watch"`
	RedisURL string `yaml:"redis_url"`
}

// LearningConfig configures the Learning Recorder.
type LearningConfig struct {
	IndexSize int `yaml:"index_size"`
}

// Config is the Force Engine's process-wide configuration.
type Config struct {
	Root             string        `yaml:"root"`
	Mode             Mode          `yaml:"mode"`
	Transport        Transport     `yaml:"transport"`
	HTTP             HTTPConfig    `yaml:"http"`
	Debug            bool          `yaml:"debug"`
	AutoFixOnStart   bool          `yaml:"auto_fix_on_start"`
	MaxWorkers       int           `yaml:"max_workers"`
	LogRotationBytes int64         `yaml:"log_rotation_bytes"`
	Registry         RegistryConfig `yaml:"registry"`
	Learning         LearningConfig `yaml:"learning"`

	logger logging.Logger
}

// Option mutates a Config during construction, applied after environment
// variables and any YAML file so functional options take highest priority.
type Option func(*Config) error

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Root:             ".",
		Mode:             ModeDevelopment,
		Transport:        TransportStdio,
		HTTP:             HTTPConfig{Host: "127.0.0.1", Port: 8085},
		Debug:            false,
		AutoFixOnStart:   false,
		MaxWorkers:       0, // not read: Registry.Reload validates entries one at a time
		LogRotationBytes: 64 * 1024 * 1024,
		Registry:         RegistryConfig{Watch: true},
		Learning:         LearningConfig{IndexSize: 500},
		logger:           logging.NoOpLogger{},
	}
}

// New builds a Config from defaults, then environment variables, then an
// optional YAML file (if yamlPath is non-empty), then opts.
func New(yamlPath string, opts ...Option) (*Config, error) {
	cfg := Default()

	if err := cfg.loadEnv(); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if yamlPath != "" {
		if err := cfg.loadYAML(yamlPath); err != nil {
			return nil, fmt.Errorf("config: load yaml %s: %w", yamlPath, err)
		}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("config: apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("FORCE_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("FORCE_MODE"); v != "" {
		c.Mode = Mode(v)
	}
	if v := os.Getenv("FORCE_TRANSPORT"); v != "" {
		c.Transport = Transport(v)
	}
	if v := os.Getenv("FORCE_HTTP_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("FORCE_HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORCE_HTTP_PORT: %w", err)
		}
		c.HTTP.Port = p
	}
	if v := os.Getenv("FORCE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORCE_DEBUG: %w", err)
		}
		c.Debug = b
	}
	if v := os.Getenv("FORCE_AUTO_FIX_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORCE_AUTO_FIX_ON_START: %w", err)
		}
		c.AutoFixOnStart = b
	}
	if v := os.Getenv("FORCE_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORCE_MAX_WORKERS: %w", err)
		}
		c.MaxWorkers = n
	}
	if v := os.Getenv("FORCE_LOG_ROTATION_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FORCE_LOG_ROTATION_BYTES: %w", err)
		}
		c.LogRotationBytes = n
	}
	if v := os.Getenv("FORCE_REGISTRY_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORCE_REGISTRY_WATCH: %w", err)
		}
		c.Registry.Watch = b
	}
	if v := os.Getenv("FORCE_REGISTRY_REDIS_URL"); v != "" {
		c.Registry.RedisURL = v
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate rejects configurations that cannot produce a running engine.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	switch c.Mode {
	case ModeDevelopment, ModeStaging, ModeProduction:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("invalid transport %q", c.Transport)
	}
	if c.Transport == TransportHTTP && c.HTTP.Port <= 0 {
		return fmt.Errorf("http transport requires a positive port")
	}
	return nil
}

// Logger returns the configured logger, defaulting to NoOpLogger.
func (c *Config) Logger() logging.Logger {
	if c.logger == nil {
		return logging.NoOpLogger{}
	}
	return c.logger
}

// WithLogger sets the Config's logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithRoot overrides the component root directory.
func WithRoot(root string) Option {
	return func(c *Config) error {
		c.Root = root
		return nil
	}
}

// WithMode overrides the deployment mode.
func WithMode(mode Mode) Option {
	return func(c *Config) error {
		c.Mode = mode
		return nil
	}
}

// WithTransport overrides the MCP transport.
func WithTransport(t Transport) Option {
	return func(c *Config) error {
		c.Transport = t
		return nil
	}
}

// RotationCheckInterval is not read by the Learning Recorder, which checks
// its log file against LogRotationBytes on every Append.
const RotationCheckInterval = 2 * time.Second
