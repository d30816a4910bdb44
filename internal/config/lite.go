// Package config provides configuration management for the eligibility servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the history database and exports

	// Rules
	RulesFile     string // Rule definitions YAML
	OntologyFile  string // Optional static ontology YAML
	ReferenceDate string // Optional fixed reference date (YYYY-MM-DD)
	WatchRules    bool   // Reload rules when the file changes

	// Cache settings
	CacheMaxItems int           // Maximum items in the ontology memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".trial-eligibility")

	return &LiteConfig{
		DataDir:       dataDir,
		RulesFile:     filepath.Join("config", "rules.yaml"),
		CacheMaxItems: 1000,
		CacheTTL:      24 * time.Hour,
		Transport:     "stdio",
		HTTPPort:      8080,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("ELIGIBILITY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Rules
	if v := os.Getenv("ELIGIBILITY_RULES_FILE"); v != "" {
		cfg.RulesFile = v
	}
	cfg.OntologyFile = os.Getenv("ELIGIBILITY_ONTOLOGY_FILE")
	cfg.ReferenceDate = os.Getenv("ELIGIBILITY_REFERENCE_DATE")
	if v := os.Getenv("ELIGIBILITY_WATCH_RULES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WatchRules = b
		}
	}

	// Cache settings
	if v := os.Getenv("ELIGIBILITY_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("ELIGIBILITY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Transport
	if v := os.Getenv("ELIGIBILITY_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("ELIGIBILITY_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("ELIGIBILITY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ELIGIBILITY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// HistoryDBPath returns the path to the evaluation history SQLite database.
func (c *LiteConfig) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// EngineConfig maps the lite settings onto the engine configuration, filling the rest with
// the same defaults the full server uses.
func (c *LiteConfig) EngineConfig() domain.EngineConfig {
	return domain.EngineConfig{
		RulesFile:            c.RulesFile,
		ReferenceDate:        c.ReferenceDate,
		VitalLookback:        30 * 24 * time.Hour,
		MaxVitalMeasurements: 5,
		DefaultMargin:        0.1,
		BatchConcurrency:     4,
		WatchRules:           c.WatchRules,
	}
}

// OntologyConfig returns a static ontology configuration for the lite server.
func (c *LiteConfig) OntologyConfig() domain.OntologyConfig {
	return domain.OntologyConfig{Source: "static", File: c.OntologyFile}
}

// CacheConfig returns an in-memory-only cache configuration.
func (c *LiteConfig) CacheConfig() domain.CacheConfig {
	return domain.CacheConfig{DefaultTTL: c.CacheTTL, MaxItems: c.CacheMaxItems}
}
