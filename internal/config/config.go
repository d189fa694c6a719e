// Package config loads jiraview configuration from a YAML file with
// environment-variable overrides. Precedence: defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides.
const (
	EnvCacheDir         = "JIRAVIEW_CACHE_DIR"
	EnvQueryTTL         = "JIRAVIEW_QUERY_TTL"
	EnvFullBatchSize    = "JIRAVIEW_FULL_BATCH_SIZE"
	EnvMinimalBatchSize = "JIRAVIEW_MINIMAL_BATCH_SIZE"
	EnvLogLevel         = "JIRAVIEW_LOG_LEVEL"
	EnvAPIHelper        = "JIRAVIEW_API_HELPER"
)

// Defaults.
const (
	// DefaultQueryTTL is how long a cached query-to-keys mapping is trusted
	// without reverification.
	DefaultQueryTTL = 5 * time.Minute

	// DefaultFullBatchSize bounds how many keys go into one full-payload
	// fetch. The backend's effective ceiling under many-field requests is an
	// observed operational number, not a documented one; 150 has held up in
	// practice and is deliberately conservative.
	DefaultFullBatchSize = 150

	// DefaultMinimalBatchSize bounds keys per minimal (key, version) fetch.
	// Minimal requests carry two fields, so they tolerate much larger pages.
	DefaultMinimalBatchSize = 500

	// DefaultListPageSize is the requested page size for query key listing.
	// The backend may return fewer per page regardless of what is requested.
	DefaultListPageSize = 100

	// DefaultAPIHelper is the authenticated API wrapper invoked for every
	// backend call. Resolved via PATH unless configured otherwise.
	DefaultAPIHelper = "jira-api"
)

// DefaultFields returns the issue fields fetched when none are requested.
func DefaultFields() []string {
	return []string{
		"key", "summary", "status", "priority", "assignee", "reporter",
		"updated", "created", "issuetype", "labels",
	}
}

// Config holds the runtime configuration for the cache and refresh engine.
type Config struct {
	// CacheDir is the directory holding the SQLite cache database.
	// Defaults to ~/.cache/jira-view.
	CacheDir string `yaml:"cache_dir"`

	// QueryTTL is the freshness window for query index entries.
	QueryTTL time.Duration `yaml:"query_ttl"`

	// FullBatchSize is the max keys per full-payload fetch round trip.
	FullBatchSize int `yaml:"full_batch_size"`

	// MinimalBatchSize is the max keys per minimal freshness fetch.
	MinimalBatchSize int `yaml:"minimal_batch_size"`

	// ListPageSize is the requested page size for query listing.
	ListPageSize int `yaml:"list_page_size"`

	// LogLevel is the zerolog level name.
	LogLevel string `yaml:"log_level"`

	// APIHelper is the command invoked for authenticated API calls.
	APIHelper string `yaml:"api_helper"`

	// Fields are the issue fields fetched by default.
	Fields []string `yaml:"fields"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheDir:         defaultCacheDir(),
		QueryTTL:         DefaultQueryTTL,
		FullBatchSize:    DefaultFullBatchSize,
		MinimalBatchSize: DefaultMinimalBatchSize,
		ListPageSize:     DefaultListPageSize,
		LogLevel:         "info",
		APIHelper:        DefaultAPIHelper,
		Fields:           DefaultFields(),
	}
}

// Load reads the config file at path (missing file is not an error), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "jiraview", "config.yaml")
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(EnvQueryTTL); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.QueryTTL = d
		}
	}
	if v := os.Getenv(EnvFullBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.FullBatchSize = n
		}
	}
	if v := os.Getenv(EnvMinimalBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MinimalBatchSize = n
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvAPIHelper); v != "" {
		c.APIHelper = v
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("config: cache_dir cannot be empty")
	}
	if c.QueryTTL <= 0 {
		return fmt.Errorf("config: query_ttl must be positive, got %s", c.QueryTTL)
	}
	if c.FullBatchSize <= 0 {
		return fmt.Errorf("config: full_batch_size must be positive, got %d", c.FullBatchSize)
	}
	if c.MinimalBatchSize <= 0 {
		return fmt.Errorf("config: minimal_batch_size must be positive, got %d", c.MinimalBatchSize)
	}
	if c.ListPageSize <= 0 {
		return fmt.Errorf("config: list_page_size must be positive, got %d", c.ListPageSize)
	}
	if c.APIHelper == "" {
		return fmt.Errorf("config: api_helper cannot be empty")
	}
	return nil
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jiraview-cache"
	}
	return filepath.Join(home, ".cache", "jira-view")
}
