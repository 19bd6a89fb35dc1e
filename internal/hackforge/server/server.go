// Package server exposes the campaign and orchestration API over HTTP with
// per-IP rate limiting, machine health monitoring, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/dimasma0305/hackforge/internal/hackforge/blueprint"
	"github.com/dimasma0305/hackforge/internal/hackforge/campaign"
	"github.com/dimasma0305/hackforge/internal/hackforge/flagcheck"
	"github.com/dimasma0305/hackforge/internal/hackforge/machine"
	"github.com/dimasma0305/hackforge/internal/hackforge/orchestrator"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
	"github.com/dimasma0305/hackforge/internal/log"
)

// Deps carries the wired components the server exposes
type Deps struct {
	Store       *store.Store
	Registry    *blueprint.Registry
	Allocator   *machine.PortAllocator
	Manager     *campaign.Manager
	Validator   *flagcheck.Validator
	Coordinator *orchestrator.Coordinator
}

// Server is the hackforge HTTP API
type Server struct {
	deps    Deps
	limiter *RateLimiter
	health  *HealthMonitor
	started time.Time
}

// New creates the API server
func New(deps Deps) *Server {
	return &Server{
		deps:    deps,
		limiter: NewRateLimiter(),
		health:  NewHealthMonitor(deps.Store),
		started: time.Now(),
	}
}

// Routes builds the HTTP router
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	api.HandleFunc("/blueprints", s.handleListBlueprints).Methods(http.MethodGet)
	api.HandleFunc("/blueprints/{id}", s.handleGetBlueprint).Methods(http.MethodGet)

	api.HandleFunc("/campaigns", s.handleCreateCampaign).Methods(http.MethodPost)
	api.HandleFunc("/campaigns", s.handleListCampaigns).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}", s.handleGetCampaign).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}", s.handleDeleteCampaign).Methods(http.MethodDelete)
	api.HandleFunc("/campaigns/{id}/containers", s.handleCampaignContainers).Methods(http.MethodGet)

	api.HandleFunc("/machines", s.handleListMachines).Methods(http.MethodGet)
	api.HandleFunc("/flags/validate", s.handleValidateFlag).Methods(http.MethodPost)

	api.HandleFunc("/docker/status", s.handleDockerStatus).Methods(http.MethodGet)
	api.HandleFunc("/docker/start", s.bulkHandler("start")).Methods(http.MethodPost)
	api.HandleFunc("/docker/stop", s.bulkHandler("stop")).Methods(http.MethodPost)
	api.HandleFunc("/docker/restart", s.bulkHandler("restart")).Methods(http.MethodPost)
	api.HandleFunc("/docker/destroy", s.handleDockerDestroy).Methods(http.MethodDelete)
	api.HandleFunc("/docker/containers/{id}/start", s.containerHandler("start")).Methods(http.MethodPost)
	api.HandleFunc("/docker/containers/{id}/stop", s.containerHandler("stop")).Methods(http.MethodPost)
	api.HandleFunc("/docker/containers/{id}/restart", s.containerHandler("restart")).Methods(http.MethodPost)
	api.HandleFunc("/docker/containers/{id}", s.containerHandler("remove")).Methods(http.MethodDelete)
	api.HandleFunc("/docker/containers/{id}/logs", s.handleContainerLogs).Methods(http.MethodGet)

	api.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)

	return r
}

// Run serves the API until SIGINT/SIGTERM, then shuts down gracefully
func (s *Server) Run(host string, port int) error {
	s.health.Start()
	defer s.health.Stop()

	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("┌────────────────────────────────────────────────┐")
	log.Info("│  Hackforge Campaign Server                     │")
	log.Info("├────────────────────────────────────────────────┤")
	log.Info("│  API:        http://%s/api                ", addr)
	log.Info("│  Blueprints: %d loaded                         ", s.deps.Registry.Count())
	log.Info("└────────────────────────────────────────────────┘")
	log.Info("Press Ctrl+C to stop the server")

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Start shutdown... signal: %v", sig)
		if err := GracefulShutdown(srv, 5*time.Second); err != nil {
			log.Error("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Error("Error forcing server close: %v", err)
			}
		}
	}

	return nil
}

// GracefulShutdown performs a graceful server shutdown
func GracefulShutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("Shutting down server...")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	log.Info("Server shutdown complete")
	return nil
}
