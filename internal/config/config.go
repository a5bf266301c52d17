// Package config loads the ministry server configuration.
//
// Configuration is read from a single YAML file named by the --config flag
// or the MINISTRY_CONFIG environment variable. Values missing from the file
// keep their defaults. ${VAR} and ${VAR:-default} references in paths and
// credentials are expanded from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/ministry/internal/codec"
	"github.com/git-pkgs/ministry/internal/core"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "MINISTRY_CONFIG"

// Config is the complete server configuration.
type Config struct {
	// Listen holds the addresses to serve on. Each gets its own listener.
	Listen []string `yaml:"listen"`

	// BaseURL is the externally visible URL of the index, used for
	// download links. Empty means links relative to the request host.
	BaseURL string `yaml:"base_url"`

	// Backend is the metadata backend URL: memory://, pebble:///path or
	// redis://host:port/db.
	Backend string `yaml:"backend"`

	// Compression applies to stored records: none, lz4 or zstd.
	Compression string `yaml:"compression"`

	// NonIndexed replaces the list of fields stored but never indexed.
	NonIndexed []string `yaml:"non_indexed"`

	// MaxUploadBytes bounds a single upload request body.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	Breaker  BreakerConfig  `yaml:"breaker"`
	Storage  StorageConfig  `yaml:"storage"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Log      LogConfig      `yaml:"log"`
}

// BreakerConfig tunes the circuit breaker in front of the metadata backend.
type BreakerConfig struct {
	Threshold       int           `yaml:"threshold"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// StorageConfig selects where uploaded files are kept.
type StorageConfig struct {
	// Kind is "local" or "minio".
	Kind string `yaml:"kind"`

	// Dir is the root directory for local storage.
	Dir string `yaml:"dir"`

	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// UpstreamConfig configures the upstream index used for imports and the
// classifier vocabulary.
type UpstreamConfig struct {
	URL               string  `yaml:"url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// BootstrapClassifiers loads the upstream classifier list at startup
	// when the vocabulary is empty.
	BootstrapClassifiers bool `yaml:"bootstrap_classifiers"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns the configuration used before the file is applied.
func Default() *Config {
	return &Config{
		Listen:         []string{":8080"},
		Backend:        "memory://",
		Compression:    "none",
		MaxUploadBytes: 256 << 20,
		Breaker: BreakerConfig{
			Threshold:       5,
			InitialInterval: 5 * time.Second,
			MaxInterval:     time.Minute,
		},
		Storage: StorageConfig{
			Kind: "local",
			Dir:  "${HOME}/.cache/ministry/packages",
		},
		Upstream: UpstreamConfig{
			URL:               "https://pypi.org",
			RequestsPerSecond: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by path, or by MINISTRY_CONFIG when path is
// empty. With neither set the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse applies YAML data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Backend = expandVars(c.Backend, vars)
	c.Storage.Dir = expandVars(c.Storage.Dir, vars)
	c.Storage.AccessKey = expandVars(c.Storage.AccessKey, vars)
	c.Storage.SecretKey = expandVars(c.Storage.SecretKey, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Listen) == 0 {
		errs = append(errs, errors.New("listen: at least one address is required"))
	}
	if c.Backend == "" {
		errs = append(errs, errors.New("backend is required"))
	} else if !strings.Contains(c.Backend, "://") {
		errs = append(errs, fmt.Errorf("backend %q is not a URL", c.Backend))
	}
	if _, err := codec.ParseCompressionTag(c.Compression); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.Breaker.Threshold < 0 {
		errs = append(errs, errors.New("breaker.threshold must not be negative"))
	}

	switch c.Storage.Kind {
	case "local":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for local storage"))
		}
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.endpoint and storage.bucket are required for minio storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.kind: unknown kind %q", c.Storage.Kind))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// CompressionTag returns the parsed record compression.
func (c *Config) CompressionTag() codec.CompressionTag {
	tag, _ := codec.ParseCompressionTag(c.Compression)
	return tag
}

// Core converts the breaker settings for core.NewGuardedBackend.
func (b BreakerConfig) Core() core.BreakerConfig {
	return core.BreakerConfig{
		Threshold:       b.Threshold,
		InitialInterval: b.InitialInterval,
		MaxInterval:     b.MaxInterval,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if l.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
