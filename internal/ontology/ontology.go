package ontology

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// Source names accepted in OntologyConfig.Source.
const (
	SourceStatic = "static"
	SourceHTTP   = "http"
)

// New builds the ontology service selected by cfg. The returned cleanup function releases
// the Redis connection when one was opened; it is never nil.
func New(cfg domain.OntologyConfig, cache domain.CacheConfig, logger *logrus.Logger) (domain.OntologyService, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Source) {
	case "", SourceStatic:
		if cfg.File == "" {
			logger.Warn("No ontology file configured; condition history criteria will be undetermined")
			s, err := NewStatic(nil)
			return s, noop, err
		}
		s, err := LoadStatic(cfg.File)
		if err != nil {
			return nil, noop, err
		}
		logger.WithFields(logrus.Fields{
			"file":     cfg.File,
			"concepts": s.Len(),
		}).Info("Loaded static ontology")
		return s, noop, nil

	case SourceHTTP:
		client, err := NewClient(ClientConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
		}, logger)
		if err != nil {
			return nil, noop, err
		}

		var remote RemoteCache
		cleanup := noop
		if cache.RedisURL != "" {
			rc, err := NewRedisCache(cache)
			if err != nil {
				logger.WithError(err).Warn("Redis unavailable; ontology cache runs in memory only")
			} else {
				remote = rc
				cleanup = rc.Close
			}
		}

		cached := NewCachedService(client, remote, CachedConfig{
			MaxItems:    cache.MaxItems,
			RemoteTTL:   cache.DefaultTTL,
			CallTimeout: cfg.Timeout,
		}, logger)
		logger.WithFields(logrus.Fields{
			"base_url": cfg.BaseURL,
			"redis":    remote != nil,
		}).Info("Using remote ontology")
		return cached, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("unknown ontology source %q", cfg.Source)
	}
}
