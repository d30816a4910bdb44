package history

import (
	"fmt"
	"strings"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Open returns the store selected by cfg, or nil when history is disabled. databaseURL is
// only used by the postgres backend.
func Open(cfg domain.HistoryConfig, databaseURL string) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("history path is required for the sqlite backend")
		}
		return NewSQLiteStore(cfg.Path)
	case BackendPostgres, "":
		if databaseURL == "" {
			return nil, fmt.Errorf("database URL is required for the postgres backend")
		}
		return NewPostgresStoreFromURL(databaseURL)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.Backend)
	}
}
