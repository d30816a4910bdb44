// Package mcp exposes the eligibility engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/history"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

// Transport types.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Server wraps the MCP SDK server with the eligibility tools registered.
type Server struct {
	mcpServer *mcp.Server
	service   *service.EligibilityService
	history   history.Store
	exportDir string
	logger    *logrus.Logger
	info      *mcp.Implementation
}

// Option is a functional option for Server.
type Option func(*Server)

// WithHistoryExport enables the export_history tool, writing exports into dir.
func WithHistoryExport(store history.Store, dir string) Option {
	return func(s *Server) {
		s.history = store
		s.exportDir = dir
	}
}

// WithImplementation overrides the name and version reported to clients.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		s.info = &mcp.Implementation{Name: name, Version: version}
	}
}

// NewServer creates an MCP server backed by svc.
func NewServer(svc *service.EligibilityService, logger *logrus.Logger, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("eligibility service is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		service: svc,
		logger:  logger,
		info: &mcp.Implementation{
			Name:    "trial-eligibility-mcp-server",
			Version: "v1.0.0",
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = mcp.NewServer(s.info, nil)
	s.registerTools()
	s.registerResources()

	s.logger.WithFields(logrus.Fields{
		"server":         s.info.Name,
		"history_export": s.exportDir != "",
	}).Info("MCP server initialized")
	return s, nil
}

// Run serves MCP over the given transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport string, httpAddr string) error {
	switch transport {
	case "", TransportStdio:
		s.logger.Info("Serving MCP over stdio")
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx, httpAddr)
	default:
		return fmt.Errorf("unsupported transport: %s", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Serving MCP over streamable HTTP")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("MCP HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
