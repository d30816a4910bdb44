package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/trial-eligibility-mcp-server/internal/domain"
	"github.com/trial-eligibility-mcp-server/internal/middleware"
	"github.com/trial-eligibility-mcp-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const maxBatchSize = 100

// Server represents the HTTP server
type Server struct {
	config   domain.ServerConfig
	logger   *logrus.Logger
	service  *service.EligibilityService
	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a new HTTP server instance
func NewServer(cfg domain.ServerConfig, svc *service.EligibilityService, logger *logrus.Logger) *Server {
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))
	router.Use(corsMiddleware())

	server := &Server{
		config:  cfg,
		logger:  logger,
		service: svc,
		router:  router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")

	// Long-lived; not bounded by the request timeout.
	v1.GET("/stream", s.handleStream)

	timed := v1.Group("")
	timed.Use(middleware.RequestTimeout(s.config.RequestTimeout))
	{
		timed.GET("/rules", s.handleListRules)
		timed.GET("/rules/:id", s.handleGetRule)
		timed.POST("/rules/reload", s.handleReloadRules)
		timed.POST("/evaluate", s.handleEvaluate)
		timed.POST("/evaluate/batch", s.handleEvaluateBatch)
		timed.GET("/patients/:id/history", s.handleHistory)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	snap := s.service.Engine().Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"reason":    "no rules loaded",
			"timestamp": time.Now().UTC(),
			"version":   Version,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"timestamp":     time.Now().UTC(),
		"version":       Version,
		"rules_version": snap.Version,
		"rules_loaded":  snap.LoadedAt,
	})
}

func (s *Server) handleListRules(c *gin.Context) {
	rules := s.service.ListRules()
	c.JSON(http.StatusOK, gin.H{
		"count": len(rules),
		"rules": rules,
	})
}

func (s *Server) handleGetRule(c *gin.Context) {
	id := domain.RuleID(c.Param("id"))

	info, err := s.service.Rule(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	tree, err := s.service.Explain(id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rule":      info,
		"structure": tree,
		"rendered":  tree.Render(),
	})
}

func (s *Server) handleReloadRules(c *gin.Context) {
	version, err := s.service.ReloadRules()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules_version": version})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req service.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "invalid JSON request: "+err.Error(), nil))
		return
	}

	resp, err := s.service.Evaluate(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type batchRequest struct {
	Requests []service.EvaluateRequest `json:"requests"`
}

func (s *Server) handleEvaluateBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "invalid JSON request: "+err.Error(), nil))
		return
	}
	if len(req.Requests) == 0 {
		s.writeError(c, domain.NewValidationError("requests", "at least one request is required", nil))
		return
	}
	if len(req.Requests) > maxBatchSize {
		s.writeError(c, domain.NewValidationError("requests", fmt.Sprintf("at most %d requests per batch", maxBatchSize), len(req.Requests)))
		return
	}

	items, err := s.service.EvaluateBatch(c.Request.Context(), req.Requests)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(items),
		"results": items,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}

	patientID := c.Param("id")
	runs, err := s.service.History(c.Request.Context(), patientID, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient_id": patientID,
		"count":      len(runs),
		"runs":       runs,
	})
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer", raw)
	}
	return v, nil
}

// writeError maps err onto an HTTP status and an APIError payload.
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	apiErr := domain.NewAPIError(domain.ErrorCode(err), http.StatusText(status), err.Error(), c.GetString(middleware.CorrelationIDKey))
	if errors.Is(err, service.ErrHistoryDisabled) {
		apiErr.Code = domain.ErrCodeNotFound
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": apiErr.RequestID,
			"error":          err.Error(),
		}).Error("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, apiErr)
}

func statusFor(err error) int {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownRule), errors.Is(err, domain.ErrNotFound), errors.Is(err, service.ErrHistoryDisabled):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEvaluatorFault):
		return http.StatusInternalServerError
	case domain.IsConfigurationError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "X-Correlation-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
