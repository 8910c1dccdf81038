// Package config provides environment-aware configuration for the docket engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds all engine configuration. Values come from the environment,
// optionally pre-loaded from a .env file in the working directory.
type Config struct {
	// Roots
	InputRoot  string `env:"INPUT_ROOT,required"`
	OutputRoot string `env:"OUTPUT_ROOT,required"`

	// HTTP
	ListenAddr string `env:"LISTEN_ADDR,default=:8190"`

	// Collaborator commands. Empty commands select the built-in demo
	// collaborators, which is only useful for local runs and tests.
	ExtractorCmd string `env:"EXTRACTOR_CMD"`
	RendererCmd  string `env:"RENDERER_CMD"`
	PDFCmd       string `env:"PDF_CMD"`

	// Worker pool. Zero means max(1, NumCPU/2).
	MaxWorkers int `env:"MAX_WORKERS"`
	QueueDepth int `env:"QUEUE_DEPTH,default=32"`

	// Timeouts
	ExtractTimeout time.Duration `env:"EXTRACT_TIMEOUT,default=10m"`
	RenderTimeout  time.Duration `env:"RENDER_TIMEOUT,default=5m"`
	PDFTimeout     time.Duration `env:"PDF_TIMEOUT,default=2m"`

	// Watcher
	DebounceWindow time.Duration `env:"DEBOUNCE_WINDOW,default=250ms"`
	ScanInterval   time.Duration `env:"SCAN_INTERVAL,default=2s"`

	// Hydrated object schema (optional). When set, PUT /hydrated validates
	// against this JSON schema; otherwise only syntactic JSON is required.
	HydratedSchema string `env:"HYDRATED_SCHEMA"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// Rate limiting for the dashboard API
	RateLimitRPS   int `env:"RATE_LIMIT_RPS,default=50"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=100"`
}

// Load reads configuration from the environment. An optional .env file in
// the working directory is loaded first; a missing file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU() / 2
		if cfg.MaxWorkers < 1 {
			cfg.MaxWorkers = 1
		}
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.InputRoot) == "" {
		return fmt.Errorf("INPUT_ROOT must not be blank")
	}
	if strings.TrimSpace(c.OutputRoot) == "" {
		return fmt.Errorf("OUTPUT_ROOT must not be blank")
	}
	if c.InputRoot == c.OutputRoot {
		return fmt.Errorf("INPUT_ROOT and OUTPUT_ROOT must differ")
	}
	if c.ExtractTimeout <= 0 || c.RenderTimeout <= 0 || c.PDFTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.HydratedSchema != "" {
		if _, err := os.Stat(c.HydratedSchema); err != nil {
			return fmt.Errorf("HYDRATED_SCHEMA %q: %w", c.HydratedSchema, err)
		}
	}
	return nil
}

// EnsureRoots verifies both roots exist and are readable, creating the
// output root if needed. Failure here is unrecoverable startup I/O.
func (c *Config) EnsureRoots() error {
	info, err := os.Stat(c.InputRoot)
	if err != nil {
		return fmt.Errorf("input root %q: %w", c.InputRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input root %q is not a directory", c.InputRoot)
	}

	if err := os.MkdirAll(c.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("output root %q: %w", c.OutputRoot, err)
	}
	return nil
}

// CaseOutputDir returns the output directory for a case.
func (c *Config) CaseOutputDir(caseID string) string {
	return filepath.Join(c.OutputRoot, caseID)
}

// CaseInputDir returns the input directory for a case.
func (c *Config) CaseInputDir(caseID string) string {
	return filepath.Join(c.InputRoot, caseID)
}

// GetEnv retrieves an environment variable with optional default.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// ParseDurationOrDefault parses a duration string or returns the default.
func ParseDurationOrDefault(raw string, defaultDuration time.Duration) time.Duration {
	if raw == "" {
		return defaultDuration
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed
	}
	return defaultDuration
}
