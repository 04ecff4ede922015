package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/costwise-ai/costwise/internal/engine"
	"github.com/costwise-ai/costwise/internal/middleware"
	"github.com/costwise-ai/costwise/internal/providers"
	"github.com/costwise-ai/costwise/internal/savings"
	"github.com/costwise-ai/costwise/internal/security"
	"github.com/costwise-ai/costwise/internal/types"
)

// Server exposes the decision engine and the optimized completion path over
// HTTP.
type Server struct {
	engine      *engine.Engine
	providers   map[string]providers.LLMProvider
	httpServer  *http.Server
	logger      *logrus.Logger
	config      *Config
	auth        *security.Authenticator
	rateLimiter *security.RateLimiter
	validator   *middleware.ValidationMiddleware
}

// Config holds server configuration.
type Config struct {
	Port           string                       `yaml:"port"`
	ReadTimeout    time.Duration                `yaml:"read_timeout"`
	WriteTimeout   time.Duration                `yaml:"write_timeout"`
	MaxHeaderBytes int                          `yaml:"max_header_bytes"`
	Validation     *middleware.ValidationConfig `yaml:"validation"`
}

// NewServer creates a new server instance.
func NewServer(eng *engine.Engine, provs map[string]providers.LLMProvider, config *Config, auth *security.Authenticator, rl *security.RateLimiter, logger *logrus.Logger) (*Server, error) {
	validator, err := middleware.NewValidationMiddleware(config.Validation, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize validation middleware: %w", err)
	}

	return &Server{
		engine:      eng,
		providers:   provs,
		logger:      logger,
		config:      config,
		auth:        auth,
		rateLimiter: rl,
		validator:   validator,
	}, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting CostWise server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping CostWise server")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.auth != nil {
		r.Use(s.auth.Middleware())
	}
	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware())
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)
	r.Use(s.validator.Middleware)

	api := r.PathPrefix("/v1").Subrouter()

	// Optimized completion path
	api.HandleFunc("/chat/completions", s.handleChatCompletion).Methods("POST")

	// Cache management
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/cache", s.handlePurgeCache).Methods("DELETE")

	// Routing
	api.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods("POST")
	api.HandleFunc("/routing/status/{tenant}", s.handleRoutingStatus).Methods("GET")
	api.HandleFunc("/routing/enable/{tenant}", s.handleEnableRouting).Methods("POST")

	// Quality feedback
	api.HandleFunc("/feedback", s.handleSubmitFeedback).Methods("POST")
	api.HandleFunc("/quality/metrics", s.handleQualityMetrics).Methods("GET")

	// Savings reporting
	api.HandleFunc("/savings", s.handleSavings).Methods("GET")

	// Pricing
	api.HandleFunc("/models", s.handleListModels).Methods("GET")

	// Health check endpoint (no /v1 prefix)
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	s.setupSwaggerRoutes(r)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// handleChatCompletion runs the full optimized path: cache check, routing
// decision, upstream call, cache save, run record.
func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if req.Model == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}

	if req.ID == "" {
		req.ID = fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	}
	req.Timestamp = time.Now()
	s.resolveTenant(r, &req)

	ctx := r.Context()
	catalog := s.engine.Catalog()

	// Cache first: a hit skips both routing and the upstream call.
	if entry, hit := s.engine.CheckCache(ctx, req.Provider, req.Model, req.Messages); hit {
		runID, err := s.engine.RecordRun(ctx, types.Run{
			TenantID:       req.TenantID,
			RequestedModel: req.Model,
			ServedModel:    entry.Model,
			InputTokens:    entry.InputTokens,
			OutputTokens:   entry.OutputTokens,
			Cost:           0,
			CacheHit:       true,
		})
		if err != nil {
			s.logger.WithError(err).Warn("Failed to record cached run")
		}

		s.writeJSON(w, http.StatusOK, &types.ChatResponse{
			ID:      runID,
			Model:   entry.Model,
			Content: entry.Response,
			Usage: types.Usage{
				InputTokens:  entry.InputTokens,
				OutputTokens: entry.OutputTokens,
				TotalTokens:  entry.InputTokens + entry.OutputTokens,
			},
			CacheHit: true,
			CostMetadata: &types.CostMetadata{
				RequestedModel: req.Model,
				ServedModel:    entry.Model,
				Routed:         false,
				ActualCost:     0,
				BaselineCost:   entry.Cost,
				SavedCost:      entry.Cost,
			},
		})
		return
	}

	decision := s.engine.DecideRouting(ctx, req.TenantID, req.Model, req.Messages, req.TaskType)
	servedModel := decision.TargetModel

	provider, err := s.providerFor(servedModel, req.Provider)
	if err != nil {
		// A routed model without a registered provider falls back to the
		// requested model rather than failing the request.
		if decision.ShouldRoute {
			s.logger.WithError(err).WithField("model", servedModel).Warn("No provider for routed model, keeping requested model")
			servedModel = req.Model
			provider, err = s.providerFor(servedModel, req.Provider)
		}
		if err != nil {
			s.writeErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("No provider available: %v", err))
			return
		}
	}

	completion, err := provider.ChatCompletion(ctx, &req, servedModel)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadGateway, fmt.Sprintf("Completion failed: %v", err))
		return
	}

	usage := completion.Usage
	if usage.TotalTokens == 0 {
		usage.InputTokens = providers.EstimateTokens(req.Messages)
		usage.OutputTokens = len(completion.Content) / 4
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	actualCost := catalog.Cost(servedModel, usage.InputTokens, usage.OutputTokens)
	baselineCost := catalog.Cost(req.Model, usage.InputTokens, usage.OutputTokens)
	savedCost := math.Max(0, baselineCost-actualCost)

	s.engine.SaveToCache(ctx, req.Provider, req.Model, req.Messages, completion.Content, usage.InputTokens, usage.OutputTokens, actualCost, 0)

	runID, err := s.engine.RecordRun(ctx, types.Run{
		TenantID:       req.TenantID,
		RequestedModel: req.Model,
		ServedModel:    servedModel,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		Cost:           actualCost,
		CacheHit:       false,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to record run")
	}

	s.writeJSON(w, http.StatusOK, &types.ChatResponse{
		ID:       runID,
		Model:    completion.Model,
		Content:  completion.Content,
		Usage:    usage,
		CacheHit: false,
		CostMetadata: &types.CostMetadata{
			RequestedModel: req.Model,
			ServedModel:    servedModel,
			Routed:         decision.ShouldRoute,
			ActualCost:     actualCost,
			BaselineCost:   baselineCost,
			SavedCost:      savedCost,
		},
	})
}

// handleRoutingDecision returns the routing decision without executing the
// request.
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if req.Model == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "model is required")
		return
	}
	s.resolveTenant(r, &req)

	decision := s.engine.DecideRouting(r.Context(), req.TenantID, req.Model, req.Messages, req.TaskType)
	s.writeJSON(w, http.StatusOK, decision)
}

// handleCacheStats reports hit/miss counters over a window (default 7 days).
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	windowDays := queryInt(r, "window_days", 7)

	stats, err := s.engine.CacheStats(r.Context(), windowDays)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read cache stats: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// handlePurgeCache removes a single cached entry. Admin only.
func (s *Server) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req struct {
		Provider string              `json:"provider"`
		Model    string              `json:"model"`
		Messages []types.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if err := s.engine.PurgeCache(r.Context(), req.Provider, req.Model, req.Messages); err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to purge cache entry: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"purged": true})
}

// handleSubmitFeedback records a quality rating for a run.
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID  string `json:"tenant_id"`
		RunID     string `json:"run_id"`
		Rating    int    `json:"rating"`
		Comment   string `json:"comment"`
		Submitter string `json:"submitter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if req.TenantID == "" {
		if info, ok := security.GetAuthInfo(r.Context()); ok {
			req.TenantID = info.TenantID
		}
	}

	feedback, err := s.engine.SubmitQualityFeedback(r.Context(), req.TenantID, req.RunID, req.Rating, req.Comment, req.Submitter)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to submit feedback: %v", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, feedback)
}

// handleQualityMetrics reports the routed vs non-routed quality partition.
func (s *Server) handleQualityMetrics(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	windowDays := queryInt(r, "window_days", 30)

	metrics, err := s.engine.QualityMetrics(r.Context(), tenant, windowDays)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute quality metrics: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, metrics)
}

// handleRoutingStatus reports the tenant's circuit breaker state.
func (s *Server) handleRoutingStatus(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	status, err := s.engine.RoutingStatus(r.Context(), tenant)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read routing status: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleEnableRouting resets a tripped breaker. Admin only.
func (s *Server) handleEnableRouting(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	tenant := mux.Vars(r)["tenant"]
	if err := s.engine.EnableRouting(r.Context(), tenant); err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to enable routing: %v", err))
		return
	}

	status, err := s.engine.RoutingStatus(r.Context(), tenant)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read routing status: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleSavings builds the savings report for a window. Defaults to the
// last 30 days.
func (s *Server) handleSavings(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")

	end := time.Now()
	start := end.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "start must be RFC3339")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		end = t
	}

	breakdown, err := s.engine.SavingsSummary(r.Context(), tenant, start, end)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute savings: %v", err))
		return
	}

	response := map[string]interface{}{
		"tenant_id": tenant,
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
		"savings":   breakdown,
	}

	if v := r.URL.Query().Get("subscription_cost"); v != "" {
		cost, err := strconv.ParseFloat(v, 64)
		if err != nil || cost < 0 {
			s.writeErrorResponse(w, http.StatusBadRequest, "subscription_cost must be a non-negative number")
			return
		}
		response["roi_percent"] = savings.ROI(breakdown.TotalSaved, cost)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleListModels returns the pricing catalog's model names.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.engine.Catalog().Models()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

// handleHealthCheck returns overall health status including providers.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	providerHealth := make(map[string]string, len(s.providers))
	overallHealthy := true
	for name, p := range s.providers {
		if err := p.HealthCheck(ctx); err != nil {
			providerHealth[name] = "unhealthy"
			overallHealthy = false
		} else {
			providerHealth[name] = "healthy"
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"providers": providerHealth,
		"timestamp": time.Now().Unix(),
	})
}

// Helper functions

// resolveTenant prefers the authenticated tenant over the request body.
func (s *Server) resolveTenant(r *http.Request, req *types.ChatRequest) {
	if info, ok := security.GetAuthInfo(r.Context()); ok && info.TenantID != "" {
		req.TenantID = info.TenantID
	}
}

// requireAdmin enforces the admin permission when auth is enabled. Without
// auth configured, administrative endpoints stay open.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	info, ok := security.GetAuthInfo(r.Context())
	if !ok {
		return true
	}
	if !info.IsAdmin() {
		s.writeErrorResponse(w, http.StatusForbidden, "Admin permission required")
		return false
	}
	return true
}

// providerFor picks the upstream for a model, preferring the request's
// declared provider, then the catalog's.
func (s *Server) providerFor(model, requested string) (providers.LLMProvider, error) {
	if requested != "" {
		if p, ok := s.providers[requested]; ok {
			return p, nil
		}
	}

	entry, _ := s.engine.Catalog().Lookup(model)
	if p, ok := s.providers[entry.Provider]; ok {
		return p, nil
	}

	return nil, fmt.Errorf("no provider registered for model %s", model)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(errorResp)
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
