package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rubenvitt/r-gone-sub007/internal/accesscontrol"
	"github.com/rubenvitt/r-gone-sub007/internal/escrow"
	"github.com/rubenvitt/r-gone-sub007/internal/grants"
	"github.com/rubenvitt/r-gone-sub007/internal/tokens"
	"github.com/rubenvitt/r-gone-sub007/pkg/config"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// HealthChecker reports whether a backing dependency is reachable. The
// database connection satisfies it; the in-memory backend runs without one.
type HealthChecker interface {
	Health() error
}

// Server is the HTTP surface over the disclosure engine
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	matrices   *accesscontrol.MatrixManager
	evaluation *accesscontrol.Service
	grants     *grants.Manager
	tokens     *tokens.Service
	escrow     *escrow.Service
	metrics    *Metrics
	health     HealthChecker
	config     config.ServerConfig
	monitoring config.MonitoringConfig
	logger     *logger.Logger
}

// NewServer wires the engine services behind HTTP routes
func NewServer(
	matrices *accesscontrol.MatrixManager,
	evaluation *accesscontrol.Service,
	grantManager *grants.Manager,
	tokenService *tokens.Service,
	escrowService *escrow.Service,
	cfg config.ServerConfig,
	monitoring config.MonitoringConfig,
	log *logger.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		matrices:   matrices,
		evaluation: evaluation,
		grants:     grantManager,
		tokens:     tokenService,
		escrow:     escrowService,
		metrics:    NewMetrics(),
		config:     cfg,
		monitoring: monitoring,
		logger:     log,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	healthPath := s.monitoring.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	s.router.HandleFunc(healthPath, s.handleHealth).Methods(http.MethodGet)

	if s.monitoring.Enabled {
		metricsPath := s.monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		s.router.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Rule matrices
	api.HandleFunc("/matrices", s.handleCreateMatrix).Methods(http.MethodPost)
	api.HandleFunc("/matrices", s.handleListMatrices).Methods(http.MethodGet)
	api.HandleFunc("/matrices/{id}", s.handleGetMatrix).Methods(http.MethodGet)
	api.HandleFunc("/matrices/{id}", s.handleDeleteMatrix).Methods(http.MethodDelete)
	api.HandleFunc("/matrices/{id}/rules", s.handleAddRule).Methods(http.MethodPost)
	api.HandleFunc("/matrices/{id}/rules/{ruleId}", s.handleUpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/matrices/{id}/rules/{ruleId}", s.handleDeleteRule).Methods(http.MethodDelete)
	api.HandleFunc("/matrices/{id}/evaluate", s.handleEvaluate).Methods(http.MethodPost)

	// Temporary grants
	api.HandleFunc("/grants", s.handleCreateGrant).Methods(http.MethodPost)
	api.HandleFunc("/grants", s.handleListGrants).Methods(http.MethodGet)
	api.HandleFunc("/grants/{id}", s.handleGetGrant).Methods(http.MethodGet)
	api.HandleFunc("/grants/{id}/revoke", s.handleRevokeGrant).Methods(http.MethodPost)

	// Emergency tokens
	api.HandleFunc("/tokens", s.handleGenerateToken).Methods(http.MethodPost)
	api.HandleFunc("/tokens", s.handleListTokens).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{id}", s.handleGetToken).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{id}/activate", s.handleActivateToken).Methods(http.MethodPost)
	api.HandleFunc("/tokens/{id}/consume", s.handleConsumeToken).Methods(http.MethodPost)
	api.HandleFunc("/tokens/{id}/refresh", s.handleRefreshToken).Methods(http.MethodPost)
	api.HandleFunc("/tokens/{id}/revoke", s.handleRevokeToken).Methods(http.MethodPost)

	// Key escrow recovery
	api.HandleFunc("/escrow/requests", s.handleRequestRecovery).Methods(http.MethodPost)
	api.HandleFunc("/escrow/requests", s.handleListRecoveryRequests).Methods(http.MethodGet)
	api.HandleFunc("/escrow/requests/{id}", s.handleRecoveryStatus).Methods(http.MethodGet)
	api.HandleFunc("/escrow/requests/{id}/decision", s.handleTrusteeDecision).Methods(http.MethodPost)
	api.HandleFunc("/escrow/requests/{id}/share", s.handleTrusteeShare).Methods(http.MethodPost)
	api.HandleFunc("/escrow/requests/{id}/complete", s.handleCompleteRecovery).Methods(http.MethodPost)
}

// WithHealthCheck attaches a dependency check to the health endpoint
func (s *Server) WithHealthCheck(hc HealthChecker) *Server {
	s.health = hc
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Health(); err != nil {
			s.logger.WithComponent("server").WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"service": "disclosure-engine",
				"error":   err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "disclosure-engine",
	})
}

// Start begins serving; blocks until the server stops
func (s *Server) Start() error {
	s.logger.WithComponent("server").Infof("Starting disclosure service on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.WithComponent("server").Info("Shutting down disclosure service")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the router for tests
func (s *Server) Router() *mux.Router {
	return s.router
}
