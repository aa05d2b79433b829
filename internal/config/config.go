package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"github.com/titanous/json5"
)

// DefaultUserAgent is the desktop browser identity presented to the site
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Config holds all runtime configuration parameters
type Config struct {
	BaseURL           string `json:"base_url"`
	CatalogPath       string `json:"catalog_path"`
	ReferencePath     string `json:"reference_path"`
	PendingPath       string `json:"pending_path"`
	CachePath         string `json:"cache_path"`
	ProgressPath      string `json:"progress_path"`
	StatePath         string `json:"state_path"`
	HistoryPath       string `json:"history_path"`
	MetricsPath       string `json:"metrics_path"`
	MaxRetries        int    `json:"max_retries"`
	RetryDelayMs      int    `json:"retry_delay_ms"`
	RequestTimeoutMs  int    `json:"request_timeout_ms"`
	ConcurrentWorkers int    `json:"concurrent_workers"`
	UserAgent         string `json:"user_agent"`
	DisguiseClient    *bool  `json:"disguise_client"`
	LogLevel          string `json:"log_level"`
}

// RetryDelay returns the fixed delay between fetch attempts
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-request network timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Disguised reports whether requests go through the browser-disguise transport
func (c *Config) Disguised() bool {
	return c.DisguiseClient == nil || *c.DisguiseClient
}

// LoadConfig reads <name>.json5 and merges <name>.local.json5 over it when present,
// then applies defaults and validates the result
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	localPath := localName(path)
	localData, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open local config file: %w", err)
	}
	if len(localData) > 0 {
		var override Config
		if err := json5.Unmarshal(localData, &override); err != nil {
			return nil, fmt.Errorf("failed to parse local config: %w", err)
		}
		if err := mergo.Merge(&cfg, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge local config: %w", err)
		}
		logrus.Infof("Merged local config overrides from %s", localPath)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// localName maps config.json5 to config.local.json5
func localName(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, prefix+".local"+ext)
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.BaseURL != "" && !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "games.json"
	}
	if cfg.ReferencePath == "" {
		cfg.ReferencePath = "complete.json"
	}
	if cfg.PendingPath == "" {
		cfg.PendingPath = "temp.json"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "cache.json"
	}
	if cfg.ProgressPath == "" {
		cfg.ProgressPath = "progress.json"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "state.json"
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = "history.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = 5000
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 60000
	}
	if cfg.ConcurrentWorkers == 0 {
		cfg.ConcurrentWorkers = 4
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1")
	}
	if cfg.RetryDelayMs < 0 {
		return fmt.Errorf("retry_delay_ms must be >= 0")
	}
	if cfg.ConcurrentWorkers < 1 {
		return fmt.Errorf("concurrent_workers must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}
