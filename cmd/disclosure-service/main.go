package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rubenvitt/r-gone-sub007/internal/accesscontrol"
	"github.com/rubenvitt/r-gone-sub007/internal/audit"
	"github.com/rubenvitt/r-gone-sub007/internal/directory"
	"github.com/rubenvitt/r-gone-sub007/internal/escrow"
	"github.com/rubenvitt/r-gone-sub007/internal/grants"
	"github.com/rubenvitt/r-gone-sub007/internal/notify"
	"github.com/rubenvitt/r-gone-sub007/internal/server"
	"github.com/rubenvitt/r-gone-sub007/internal/tokens"
	"github.com/rubenvitt/r-gone-sub007/pkg/config"
	"github.com/rubenvitt/r-gone-sub007/pkg/database"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Disclosure Service")

	// Initialize repositories
	matrixRepo, grantRepo, tokenRepo, escrowRepo, healthCheck, cleanup := buildRepositories(cfg, log)
	defer cleanup()

	// Collaborators: identity, key management, and storage. The in-process
	// directory stands in until the surrounding platform wires its own.
	dir := directory.New()

	// Ambient sinks
	recorder := audit.NewRecorder(log, 1000)
	notifier := notify.NewDispatcher(log, notify.NewLogSender(log))

	// Engine services
	evaluator := accesscontrol.NewEvaluator(dir, log)
	matrixManager := accesscontrol.NewMatrixManager(matrixRepo, recorder, log)
	grantManager := grants.NewManager(grantRepo, matrixRepo, recorder, log)
	matrixManager.SetGrantGuard(grantManager)
	evaluation := accesscontrol.NewService(matrixRepo, grantManager, evaluator, recorder, log)
	escrowService := escrow.NewService(escrowRepo, dir, notifier, recorder, cfg.Escrow, log)
	assertions := tokens.NewAssertions(cfg.JWT)
	tokenService := tokens.NewService(tokenRepo, dir, dir, dir, escrowService, assertions, notifier, recorder, cfg.Tokens, log)

	// HTTP surface
	srv := server.NewServer(matrixManager, evaluation, grantManager, tokenService, escrowService, cfg.Server, cfg.Monitoring, log)
	if healthCheck != nil {
		srv.WithHealthCheck(healthCheck)
	}

	// Background maintenance: expire stale recovery requests hourly
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runEscrowSweep(sweepCtx, escrowService, log)

	go func() {
		if err := srv.Start(); err != nil {
			log.WithFields(map[string]interface{}{"error": err.Error()}).Error("Server stopped")
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Disclosure Service")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithFields(map[string]interface{}{"error": err.Error()}).Error("Graceful shutdown failed")
		os.Exit(1)
	}
}

// buildRepositories selects the storage backend. PostgreSQL is the default;
// STORAGE_BACKEND=memory selects the in-memory repositories for local runs.
// The health checker is nil for the in-memory backend, which has nothing to
// ping.
func buildRepositories(cfg *config.Config, log *logger.Logger) (
	repository.MatrixRepositoryInterface,
	repository.GrantRepositoryInterface,
	repository.TokenRepositoryInterface,
	repository.EscrowRepositoryInterface,
	server.HealthChecker,
	func(),
) {
	if os.Getenv("STORAGE_BACKEND") == "memory" {
		log.Info("Using in-memory storage backend")
		return repository.NewMemoryMatrixRepository(),
			repository.NewMemoryGrantRepository(),
			repository.NewMemoryTokenRepository(),
			repository.NewMemoryEscrowRepository(),
			nil,
			func() {}
	}

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithFields(map[string]interface{}{"error": err.Error()}).Error("Failed to connect to database")
		os.Exit(1)
	}
	if err := db.InitializeSchema(); err != nil {
		log.WithFields(map[string]interface{}{"error": err.Error()}).Error("Failed to initialize schema")
		os.Exit(1)
	}

	return repository.NewPostgresMatrixRepository(db.DB, log),
		repository.NewPostgresGrantRepository(db.DB, log),
		repository.NewPostgresTokenRepository(db.DB, log),
		repository.NewPostgresEscrowRepository(db.DB, log),
		db,
		func() { db.Close() }
}

// runEscrowSweep expires stale recovery requests on an hourly cadence
func runEscrowSweep(ctx context.Context, svc *escrow.Service, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpireStaleRequests(ctx); err != nil {
				log.WithFields(map[string]interface{}{"error": err.Error()}).Warn("Escrow expiry sweep failed")
			}
		}
	}
}
