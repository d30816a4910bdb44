package ontology

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// MockLookup is a mock implementation of Lookup
type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) Resolve(ctx context.Context, title string) (string, error) {
	args := m.Called(ctx, title)
	return args.String(0), args.Error(1)
}

func (m *MockLookup) Ancestors(ctx context.Context, code string) ([]string, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockRemoteCache is a mock implementation of RemoteCache
type MockRemoteCache struct {
	mock.Mock
}

func (m *MockRemoteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}

func (m *MockRemoteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func TestCachedService_MemoryCache(t *testing.T) {
	// Arrange
	source := new(MockLookup)
	source.On("Resolve", mock.Anything, "Myocardial infarction").Return("C21", nil).Once()
	source.On("Ancestors", mock.Anything, "C21").Return([]string{"C20", "C00"}, nil).Once()
	svc := NewCachedService(source, nil, CachedConfig{}, quietLogger())

	// Act
	for i := 0; i < 3; i++ {
		code, ok := svc.ResolveCode("Myocardial infarction")
		require.True(t, ok)
		assert.Equal(t, "C21", code)
		assert.Equal(t, []string{"C20", "C00"}, svc.AncestorsOf("C21"))
	}

	// Assert
	source.AssertExpectations(t)
	stats := svc.Stats()
	assert.Equal(t, int64(2), stats.ExternalCalls)
	assert.Equal(t, int64(4), stats.MemoryHits)
	assert.Equal(t, int64(2), stats.MemoryMisses)
}

func TestCachedService_NegativeResultsAreCached(t *testing.T) {
	source := new(MockLookup)
	source.On("Resolve", mock.Anything, "Stroke").Return("", fmt.Errorf("%w: Stroke", domain.ErrNotFound)).Once()
	svc := NewCachedService(source, nil, CachedConfig{}, quietLogger())

	_, ok := svc.ResolveCode("Stroke")
	assert.False(t, ok)
	_, ok = svc.ResolveCode("stroke")
	assert.False(t, ok)

	source.AssertExpectations(t)
}

func TestCachedService_FailuresAreNotCached(t *testing.T) {
	source := new(MockLookup)
	source.On("Ancestors", mock.Anything, "C21").Return(nil, errors.New("connection refused")).Once()
	source.On("Ancestors", mock.Anything, "C21").Return([]string{"C20"}, nil).Once()
	svc := NewCachedService(source, nil, CachedConfig{}, quietLogger())

	assert.Nil(t, svc.AncestorsOf("C21"))
	assert.Equal(t, []string{"C20"}, svc.AncestorsOf("C21"))

	source.AssertExpectations(t)
	assert.Equal(t, int64(1), svc.Stats().ErrorCount)
}

func TestCachedService_RemoteCache(t *testing.T) {
	t.Run("remote hit skips the source", func(t *testing.T) {
		source := new(MockLookup)
		remote := new(MockRemoteCache)
		remote.On("Get", mock.Anything, "title:heart attack").Return([]byte(`{"found":true,"code":"C21"}`), true, nil).Once()
		svc := NewCachedService(source, remote, CachedConfig{}, quietLogger())

		code, ok := svc.ResolveCode("Heart attack")

		assert.True(t, ok)
		assert.Equal(t, "C21", code)
		source.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
		assert.Equal(t, int64(1), svc.Stats().RemoteHits)
	})

	t.Run("remote miss fills the remote cache", func(t *testing.T) {
		source := new(MockLookup)
		source.On("Resolve", mock.Anything, "Heart attack").Return("C21", nil).Once()
		remote := new(MockRemoteCache)
		remote.On("Get", mock.Anything, "title:heart attack").Return(nil, false, nil).Once()
		remote.On("Set", mock.Anything, "title:heart attack", []byte(`{"found":true,"code":"C21"}`), 24*time.Hour).Return(nil).Once()
		svc := NewCachedService(source, remote, CachedConfig{}, quietLogger())

		code, ok := svc.ResolveCode("Heart attack")

		assert.True(t, ok)
		assert.Equal(t, "C21", code)
		source.AssertExpectations(t)
		remote.AssertExpectations(t)
	})

	t.Run("remote errors fall through to the source", func(t *testing.T) {
		source := new(MockLookup)
		source.On("Resolve", mock.Anything, "MI").Return("C21", nil).Once()
		remote := new(MockRemoteCache)
		remote.On("Get", mock.Anything, "title:mi").Return(nil, false, errors.New("timeout")).Once()
		remote.On("Set", mock.Anything, "title:mi", mock.Anything, mock.Anything).Return(errors.New("timeout")).Once()
		svc := NewCachedService(source, remote, CachedConfig{}, quietLogger())

		code, ok := svc.ResolveCode("MI")

		assert.True(t, ok)
		assert.Equal(t, "C21", code)
		assert.Equal(t, int64(1), svc.Stats().RemoteMisses)
	})
}

func TestCachedService_AncestorsAreCopied(t *testing.T) {
	source := new(MockLookup)
	source.On("Ancestors", mock.Anything, "C21").Return([]string{"C20"}, nil).Once()
	svc := NewCachedService(source, nil, CachedConfig{}, quietLogger())

	first := svc.AncestorsOf("C21")
	first[0] = "CHANGED"

	assert.Equal(t, []string{"C20"}, svc.AncestorsOf("C21"))
}

func TestCachedService_Purge(t *testing.T) {
	source := new(MockLookup)
	source.On("Resolve", mock.Anything, "Neoplasm").Return("C10", nil).Twice()
	svc := NewCachedService(source, nil, CachedConfig{}, quietLogger())

	svc.ResolveCode("Neoplasm")
	svc.Purge()
	svc.ResolveCode("Neoplasm")

	source.AssertExpectations(t)
}

func TestNew(t *testing.T) {
	t.Run("static without file", func(t *testing.T) {
		svc, cleanup, err := New(domain.OntologyConfig{Source: "static"}, domain.CacheConfig{}, quietLogger())

		require.NoError(t, err)
		assert.NoError(t, cleanup())
		_, ok := svc.ResolveCode("anything")
		assert.False(t, ok)
	})

	t.Run("http without redis", func(t *testing.T) {
		server := newOntologyServer(t)
		svc, cleanup, err := New(domain.OntologyConfig{Source: "HTTP", BaseURL: server.URL, APIKey: "secret"}, domain.CacheConfig{}, quietLogger())

		require.NoError(t, err)
		defer cleanup()
		code, ok := svc.ResolveCode("Myocardial infarction")
		assert.True(t, ok)
		assert.Equal(t, "C21", code)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, _, err := New(domain.OntologyConfig{Source: "ftp"}, domain.CacheConfig{}, quietLogger())

		assert.Error(t, err)
	})
}
