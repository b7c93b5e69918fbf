package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liamcoop/businessrules/catalog"
	"github.com/liamcoop/businessrules/internal/config"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
)

type Server struct {
	manager        *rules.Manager
	registry       *catalog.Registry
	store          rules.DefinitionStore
	metrics        http.Handler
	requestTimeout time.Duration
	router         *chi.Mux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithRequestTimeout bounds every request.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.requestTimeout = d }
}

// NewServerWithManager creates the HTTP API over an existing manager.
func NewServerWithManager(manager *rules.Manager, registry *catalog.Registry, store rules.DefinitionStore, opts ...ServerOption) *Server {
	s := &Server{
		manager:        manager,
		registry:       registry,
		store:          store,
		requestTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Template catalog
	r.Route("/api/v1/template-groups", func(r chi.Router) {
		r.Get("/", s.handleListTemplateGroups)
		r.Post("/reload", s.handleReloadCatalog)

		r.Route("/{groupId}", func(r chi.Router) {
			r.Get("/", s.handleGetTemplateGroup)
			r.Get("/rule-templates", s.handleGetRuleTemplates)
			r.Get("/rule-templates/{ruleTemplateId}", s.handleGetRuleTemplate)
		})
	})

	// Business rule lifecycle
	r.Route("/api/v1/business-rules", func(r chi.Router) {
		r.Get("/", s.handleListBusinessRules)
		r.Post("/", s.handleCreateBusinessRule)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetBusinessRule)
			r.Put("/", s.handleUpdateBusinessRule)
			r.Delete("/", s.handleDeleteBusinessRule)
			r.Post("/redeploy", s.handleRedeployBusinessRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	groups := s.registry.Current().Len()

	if err := s.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:         "unhealthy",
			TemplateGroups: groups,
			Error:          err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		TemplateGroups: groups,
	})
}

// List template groups handler
func (s *Server) handleListTemplateGroups(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, TemplateGroupsListResponse{
		TemplateGroups: s.manager.ListTemplateGroups(),
	})
}

// Reload catalog handler
func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Reload(r.Context())
	if errors.Is(err, catalog.ErrNotReloadable) {
		respondError(w, http.StatusNotImplemented, "catalog cannot be reloaded", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload catalog", err)
		return
	}

	logger.Info("template catalog reloaded", "template_groups", c.Len())
	respondJSON(w, http.StatusOK, ReloadResponse{
		Status:         "reloaded",
		TemplateGroups: c.Len(),
	})
}

// Get template group handler
func (s *Server) handleGetTemplateGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.manager.GetTemplateGroup(chi.URLParam(r, "groupId"))
	if err != nil {
		respondLifecycleError(w, "template group not found", err)
		return
	}

	respondJSON(w, http.StatusOK, group)
}

// List rule templates handler
func (s *Server) handleGetRuleTemplates(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")

	ruleTemplates, err := s.manager.GetRuleTemplates(groupID)
	if err != nil {
		respondLifecycleError(w, "template group not found", err)
		return
	}

	respondJSON(w, http.StatusOK, RuleTemplatesListResponse{
		TemplateGroupID: groupID,
		RuleTemplates:   ruleTemplates,
	})
}

// Get rule template handler
func (s *Server) handleGetRuleTemplate(w http.ResponseWriter, r *http.Request) {
	rt, err := s.manager.GetRuleTemplate(chi.URLParam(r, "groupId"), chi.URLParam(r, "ruleTemplateId"))
	if err != nil {
		respondLifecycleError(w, "rule template not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rt)
}

// List business rules handler
func (s *Server) handleListBusinessRules(w http.ResponseWriter, r *http.Request) {
	defs, err := s.manager.ListDefinitions(r.Context())
	if err != nil {
		respondLifecycleError(w, "failed to list business rules", err)
		return
	}

	resp := BusinessRulesListResponse{BusinessRules: make([]BusinessRuleResponse, 0, len(defs))}
	for _, sd := range defs {
		resp.BusinessRules = append(resp.BusinessRules, toBusinessRuleResponse(sd))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create business rule handler
func (s *Server) handleCreateBusinessRule(w http.ResponseWriter, r *http.Request) {
	var def rules.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sd, err := s.manager.Create(r.Context(), def)
	if err != nil {
		respondLifecycleError(w, "failed to create business rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, toBusinessRuleResponse(sd))
}

// Get business rule handler
func (s *Server) handleGetBusinessRule(w http.ResponseWriter, r *http.Request) {
	sd, err := s.manager.FindDefinition(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondLifecycleError(w, "business rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, toBusinessRuleResponse(sd))
}

// Update business rule handler
func (s *Server) handleUpdateBusinessRule(w http.ResponseWriter, r *http.Request) {
	var def rules.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sd, err := s.manager.Edit(r.Context(), chi.URLParam(r, "ruleId"), def)
	if err != nil {
		respondLifecycleError(w, "failed to update business rule", err)
		return
	}

	respondJSON(w, http.StatusOK, toBusinessRuleResponse(sd))
}

// Delete business rule handler
func (s *Server) handleDeleteBusinessRule(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		respondLifecycleError(w, "failed to delete business rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Redeploy business rule handler
func (s *Server) handleRedeployBusinessRule(w http.ResponseWriter, r *http.Request) {
	sd, err := s.manager.Redeploy(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondLifecycleError(w, "failed to redeploy business rule", err)
		return
	}

	respondJSON(w, http.StatusOK, toBusinessRuleResponse(sd))
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}

	var undeployErr *rules.UndeployError
	if errors.As(err, &undeployErr) {
		response.Failed = undeployErr.Failed
	}

	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
		logger.Debug(message, "status", status, "error", err)
	}

	respondJSON(w, status, response)
}

// respondLifecycleError maps manager and catalog errors to a status.
func respondLifecycleError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rules.ErrDefinitionNotFound), errors.Is(err, rules.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrDefinitionExists), errors.Is(err, rules.ErrUndeploy):
		return http.StatusConflict
	case errors.Is(err, rules.ErrInvalidDefinition), errors.Is(err, rules.ErrVariantMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./config.yaml or ./config/config.yaml if present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Fatal("server exited", "error", err)
	}
}

// run serves until SIGINT or SIGTERM and returns any startup or serve error.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Configure(logger.Options{
		Level:           cfg.Log.Level,
		Format:          cfg.Log.Format,
		ErrorSampleRate: cfg.Log.ErrorSampleRate,
	}); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	ctx := context.Background()
	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close resources", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      app.server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", httpServer.Addr, "database", cfg.Database.Driver,
			"template_groups", app.registry.Current().Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// SIGHUP reloads the template catalog; SIGINT and SIGTERM stop the server
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

wait:
	for {
		select {
		case err := <-serverErr:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				break wait
			}
			if c, err := app.registry.Reload(ctx); err != nil {
				logger.Error("failed to reload template catalog", "error", err)
			} else {
				logger.Info("template catalog reloaded", "template_groups", c.Len())
			}
		}
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
