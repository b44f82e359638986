/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api exposes the operator surface: monitor registration and
// lifecycle, alert and issue actions as request messages, and diagnostics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/loader"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// Version is the platform version (set at build time)
var Version = "dev"

// HealthSource publishes liveness information for the status endpoint
type HealthSource interface {
	Health() map[string]any
}

// Server is the admin API server
type Server struct {
	log       logr.Logger
	store     store.Store
	queue     queue.Queue
	loader    *loader.Loader
	registry  *registry.Registry
	bus       *events.Bus
	clock     *timeutil.Clock
	config    *config.Config
	health    map[string]HealthSource
	startTime time.Time
	port      int
	server    *http.Server
}

// ServerOptions contains options for creating the server
type ServerOptions struct {
	Log      logr.Logger
	Store    store.Store
	Queue    queue.Queue
	Loader   *loader.Loader
	Registry *registry.Registry
	Bus      *events.Bus
	Clock    *timeutil.Clock
	Config   *config.Config

	// Health maps a component name to its liveness source
	Health map[string]HealthSource
}

// NewServer creates an admin API server
func NewServer(opts ServerOptions) *Server {
	port := 8080
	if opts.Config != nil && opts.Config.API.Port != 0 {
		port = opts.Config.API.Port
	}

	return &Server{
		log:       opts.Log.WithName("api"),
		store:     opts.Store,
		queue:     opts.Queue,
		loader:    opts.Loader,
		registry:  opts.Registry,
		bus:       opts.Bus,
		clock:     opts.Clock,
		config:    opts.Config,
		health:    opts.Health,
		startTime: time.Now(),
		port:      port,
	}
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server started", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("API server stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the router
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := NewHandlers(s)

	r.Get("/healthz", h.GetHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)

		r.Get("/monitors", h.ListMonitors)
		r.Post("/monitors", h.RegisterMonitor)
		r.Get("/monitors/{id}", h.GetMonitor)
		r.Post("/monitors/{id}/enabled", h.SetMonitorEnabled)
		r.Get("/monitors/{id}/alerts", h.ListMonitorAlerts)
		r.Get("/monitors/{id}/issues", h.ListMonitorIssues)
		r.Get("/monitors/{id}/events", h.ListMonitorEvents)

		r.Post("/alerts/{id}/acknowledge", h.AcknowledgeAlert)
		r.Post("/alerts/{id}/lock", h.LockAlert)
		r.Post("/alerts/{id}/solve", h.SolveAlert)
		r.Post("/issues/{id}/drop", h.DropIssue)

		r.Post("/requests", h.SubmitRequest)
	})

	return r
}
