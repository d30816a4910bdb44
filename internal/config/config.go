package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// Manager loads and reloads configuration using Viper
type Manager struct {
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager that searches the default locations
func NewManager() (*Manager, error) {
	return NewManagerWithFile("")
}

// NewManagerWithFile creates a configuration manager reading the given file. An empty path
// searches ".", "./config" and "/etc/trial-eligibility/" for config.yaml.
func NewManagerWithFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/trial-eligibility/")
	}

	// Environment variables override the file, e.g. ELIGIBILITY_ENGINE_RULES_FILE
	v.SetEnvPrefix("ELIGIBILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if m.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.tls_enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "trial_eligibility")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Cache defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "trial-eligibility")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.transport_type", "stdio")
	v.SetDefault("mcp.http_port", 8081)
	v.SetDefault("mcp.http_host", "localhost")
	v.SetDefault("mcp.request_timeout", "30s")

	// Ontology defaults
	v.SetDefault("ontology.source", "static")
	v.SetDefault("ontology.file", "")
	v.SetDefault("ontology.timeout", "10s")
	v.SetDefault("ontology.rate_limit", 10)

	// Engine defaults
	v.SetDefault("engine.rules_file", "config/rules.yaml")
	v.SetDefault("engine.reference_date", "")
	v.SetDefault("engine.vital_lookback", "720h")
	v.SetDefault("engine.max_vital_measurements", 5)
	v.SetDefault("engine.default_margin", 0.1)
	v.SetDefault("engine.batch_concurrency", 8)
	v.SetDefault("engine.watch_rules", false)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.backend", "postgres")
	v.SetDefault("history.path", "")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetEngineConfig returns rule engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.History.Enabled && strings.ToLower(config.History.Backend) == "postgres" {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	switch strings.ToLower(config.History.Backend) {
	case "postgres":
	case "sqlite":
		if config.History.Enabled && config.History.Path == "" {
			return fmt.Errorf("history path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid history backend: %s", config.History.Backend)
	}

	switch strings.ToLower(config.Ontology.Source) {
	case "static":
	case "http":
		if config.Ontology.BaseURL == "" {
			return fmt.Errorf("ontology base URL is required for the http source")
		}
	default:
		return fmt.Errorf("invalid ontology source: %s", config.Ontology.Source)
	}

	if config.Engine.RulesFile == "" {
		return fmt.Errorf("engine rules file is required")
	}
	if _, err := ParseReferenceDate(config.Engine.ReferenceDate); err != nil {
		return err
	}
	if config.Engine.DefaultMargin < 0 || config.Engine.DefaultMargin >= 1 {
		return fmt.Errorf("engine default margin must be within [0, 1): %v", config.Engine.DefaultMargin)
	}
	if config.Engine.VitalLookback <= 0 {
		return fmt.Errorf("engine vital lookback must be positive")
	}
	if config.Engine.MaxVitalMeasurements <= 0 {
		return fmt.Errorf("engine max vital measurements must be positive")
	}
	if config.Engine.BatchConcurrency <= 0 {
		return fmt.Errorf("engine batch concurrency must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}

// ParseReferenceDate parses engine.reference_date. An empty value means "now" and yields the
// zero time.
func ParseReferenceDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid engine reference date %q: use YYYY-MM-DD or RFC3339", value)
}
