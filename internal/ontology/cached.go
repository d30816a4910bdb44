package ontology

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	MemoryHits    int64 `json:"memory_hits"`
	MemoryMisses  int64 `json:"memory_misses"`
	RemoteHits    int64 `json:"remote_hits"`
	RemoteMisses  int64 `json:"remote_misses"`
	ExternalCalls int64 `json:"external_calls"`
	ErrorCount    int64 `json:"error_count"`
}

// CachedConfig configures CachedService.
type CachedConfig struct {
	MaxItems    int
	MemoryTTL   time.Duration
	RemoteTTL   time.Duration
	CallTimeout time.Duration
}

// entry is a cached lookup result. Negative results are cached too.
type entry struct {
	Found     bool     `json:"found"`
	Code      string   `json:"code,omitempty"`
	Ancestors []string `json:"ancestors,omitempty"`
}

// CachedService adapts a Lookup into domain.OntologyService with an in-memory LRU and an
// optional remote cache. Backend failures are logged and answered as unknown; they are not
// cached.
type CachedService struct {
	source Lookup
	memory *expirable.LRU[string, entry]
	remote RemoteCache
	config CachedConfig
	logger *logrus.Logger

	memoryHits    atomic.Int64
	memoryMisses  atomic.Int64
	remoteHits    atomic.Int64
	remoteMisses  atomic.Int64
	externalCalls atomic.Int64
	errorCount    atomic.Int64
}

// NewCachedService wraps source. remote may be nil.
func NewCachedService(source Lookup, remote RemoteCache, config CachedConfig, logger *logrus.Logger) *CachedService {
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}
	if config.MemoryTTL <= 0 {
		config.MemoryTTL = 15 * time.Minute
	}
	if config.RemoteTTL <= 0 {
		config.RemoteTTL = 24 * time.Hour
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 5 * time.Second
	}
	return &CachedService{
		source: source,
		memory: expirable.NewLRU[string, entry](config.MaxItems, nil, config.MemoryTTL),
		remote: remote,
		config: config,
		logger: logger,
	}
}

// ResolveCode implements domain.OntologyService.
func (s *CachedService) ResolveCode(title string) (string, bool) {
	key := "title:" + normalizeTitle(title)
	e, ok := s.lookup(key, func(ctx context.Context) (entry, error) {
		code, err := s.source.Resolve(ctx, title)
		if err != nil {
			return entry{}, err
		}
		return entry{Found: true, Code: code}, nil
	})
	if !ok || !e.Found {
		return "", false
	}
	return e.Code, true
}

// AncestorsOf implements domain.OntologyService.
func (s *CachedService) AncestorsOf(code string) []string {
	key := "ancestors:" + code
	e, ok := s.lookup(key, func(ctx context.Context) (entry, error) {
		ancestors, err := s.source.Ancestors(ctx, code)
		if err != nil {
			return entry{}, err
		}
		return entry{Found: true, Ancestors: ancestors}, nil
	})
	if !ok {
		return nil
	}
	return append([]string(nil), e.Ancestors...)
}

// Stats returns a snapshot of the cache counters.
func (s *CachedService) Stats() CacheStats {
	return CacheStats{
		MemoryHits:    s.memoryHits.Load(),
		MemoryMisses:  s.memoryMisses.Load(),
		RemoteHits:    s.remoteHits.Load(),
		RemoteMisses:  s.remoteMisses.Load(),
		ExternalCalls: s.externalCalls.Load(),
		ErrorCount:    s.errorCount.Load(),
	}
}

// Purge drops the in-memory entries.
func (s *CachedService) Purge() {
	s.memory.Purge()
}

func (s *CachedService) lookup(key string, fetch func(ctx context.Context) (entry, error)) (entry, bool) {
	if e, ok := s.memory.Get(key); ok {
		s.memoryHits.Add(1)
		return e, true
	}
	s.memoryMisses.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.CallTimeout)
	defer cancel()

	if e, ok := s.getRemote(ctx, key); ok {
		s.memory.Add(key, e)
		return e, true
	}

	s.externalCalls.Add(1)
	e, err := fetch(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		e = entry{Found: false}
	case err != nil:
		s.errorCount.Add(1)
		s.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err.Error(),
		}).Warn("Ontology lookup failed")
		return entry{}, false
	}

	s.memory.Add(key, e)
	s.setRemote(ctx, key, e)
	return e, true
}

func (s *CachedService) getRemote(ctx context.Context, key string) (entry, bool) {
	if s.remote == nil {
		return entry{}, false
	}
	data, ok, err := s.remote.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Debug("Remote ontology cache read failed")
	}
	if err != nil || !ok {
		s.remoteMisses.Add(1)
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.remoteMisses.Add(1)
		return entry{}, false
	}
	s.remoteHits.Add(1)
	return e, true
}

func (s *CachedService) setRemote(ctx context.Context, key string, e entry) {
	if s.remote == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := s.remote.Set(ctx, key, data, s.config.RemoteTTL); err != nil {
		s.logger.WithError(err).WithField("key", key).Debug("Remote ontology cache write failed")
	}
}
