package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewManagerWithFile(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9000
engine:
  rules_file: /srv/rules.yaml
  reference_date: "2024-06-01"
  default_margin: 0.05
history:
  backend: sqlite
  path: /srv/history.db
`)

	m, err := NewManagerWithFile(path)
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 9000, m.GetServerConfig().Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/srv/rules.yaml", m.GetEngineConfig().RulesFile)
	assert.Equal(t, 0.05, m.GetEngineConfig().DefaultMargin)
	assert.Equal(t, 720*time.Hour, m.GetEngineConfig().VitalLookback)
	assert.Equal(t, 5, m.GetEngineConfig().MaxVitalMeasurements)
	assert.Equal(t, "sqlite", cfg.History.Backend)
	assert.True(t, m.IsProduction())
	assert.False(t, m.IsDevelopment())
	assert.NoError(t, m.Validate())
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ELIGIBILITY_SERVER_PORT", "7070")
	t.Setenv("ELIGIBILITY_ENGINE_BATCH_CONCURRENCY", "2")
	t.Setenv("ELIGIBILITY_DATABASE_HOST", "db.internal")

	m, err := NewManagerWithFile(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 7070, m.GetServerConfig().Port)
	assert.Equal(t, 2, m.GetEngineConfig().BatchConcurrency)
	assert.Equal(t, "db.internal", m.GetDatabaseConfig().Host)
	assert.Contains(t, m.GetDatabaseConnectionString(), "host=db.internal")
	assert.True(t, m.IsDevelopment())
}

func TestNewManagerWithFile_Missing(t *testing.T) {
	_, err := NewManagerWithFile(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad history backend", "history:\n  backend: mongo\n"},
		{"sqlite without path", "history:\n  backend: sqlite\n"},
		{"http ontology without url", "ontology:\n  source: http\n"},
		{"unknown ontology source", "ontology:\n  source: ftp\n"},
		{"bad reference date", "engine:\n  reference_date: yesterday\n"},
		{"margin out of range", "engine:\n  default_margin: 1.5\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"no rules file", "engine:\n  rules_file: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerWithFile(writeConfig(t, tt.content))
			require.NoError(t, err)

			assert.Error(t, m.Validate())
		})
	}
}

func TestManager_Reload(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	m, err := NewManagerWithFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o600))
	require.NoError(t, m.Reload())

	assert.Equal(t, 9100, m.GetServerConfig().Port)
}

func TestParseReferenceDate(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"", time.Time{}, false},
		{"2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024-06-01T12:30:00+02:00", time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC), false},
		{"01/06/2024", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseReferenceDate(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "got %v", got)
		})
	}
}
