// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/export"
	"github.com/jeranaias/promptlab/internal/orchestrator"
	"github.com/jeranaias/promptlab/internal/prompt"
	"github.com/jeranaias/promptlab/internal/reconcile"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAPIPrefix prefixes every chat and analytics route.
	DefaultAPIPrefix = "/api/v1"

	// MaxRequestBodySize is the maximum size for request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// DefaultListLimit is the page size when limit is omitted.
	DefaultListLimit = 20
)

// Version is reported by /health and /status. Set by the CLI at startup.
var Version = "dev"

// ============================================================================
// SERVER
// ============================================================================

// Options configure the HTTP server.
type Options struct {
	Addr         string
	APIPrefix    string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimitRequests per RateLimitWindow per client. 0 disables.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Deps are the components the handlers call.
type Deps struct {
	Orchestrator  *orchestrator.Orchestrator
	Aggregator    *analytics.Aggregator
	Conversations storage.ConversationStore
	Metrics       telemetry.MetricsStore

	// Queue is optional; /status reports an empty backlog without it.
	Queue *reconcile.Queue
}

// Server is the promptlab HTTP API.
type Server struct {
	opts    Options
	deps    Deps
	router  *http.ServeMux
	server  *http.Server
	started time.Time
}

// New creates a Server. Orchestrator, Aggregator and both stores are
// required.
func New(opts Options, deps Deps) (*Server, error) {
	if deps.Orchestrator == nil || deps.Aggregator == nil || deps.Conversations == nil || deps.Metrics == nil {
		return nil, errors.New("server: orchestrator, aggregator and stores are required")
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = DefaultAPIPrefix
	}
	opts.APIPrefix = "/" + strings.Trim(opts.APIPrefix, "/")

	s := &Server{
		opts:    opts,
		deps:    deps,
		router:  http.NewServeMux(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	p := s.opts.APIPrefix

	// Chat
	s.router.HandleFunc("POST "+p+"/chat/message", s.handleSendMessage)
	s.router.HandleFunc("GET "+p+"/chat/conversations/{user_id}", s.handleListConversations)
	s.router.HandleFunc("GET "+p+"/chat/conversations/{id}/detail", s.handleConversationDetail)
	s.router.HandleFunc("DELETE "+p+"/chat/conversations/{id}", s.handleDeleteConversation)
	s.router.HandleFunc("GET "+p+"/chat/providers", s.handleProviders)
	s.router.HandleFunc("POST "+p+"/chat/validate-prompt", s.handleValidatePrompt)
	s.router.HandleFunc("GET "+p+"/chat/templates", s.handleTemplates)

	// Analytics
	s.router.HandleFunc("GET "+p+"/analytics/summary", s.handleSummary)
	s.router.HandleFunc("GET "+p+"/analytics/user/{id}", s.handleScopedSummary(telemetry.ScopeKindUser))
	s.router.HandleFunc("GET "+p+"/analytics/conversation/{id}", s.handleScopedSummary(telemetry.ScopeKindConversation))
	s.router.HandleFunc("GET "+p+"/analytics/global", s.handleScopedSummary(telemetry.ScopeKindGlobal))
	s.router.HandleFunc("POST "+p+"/analytics/report", s.handleReport)
	s.router.HandleFunc("GET "+p+"/analytics/export/{user_id}", s.handleExport)

	// Health and status
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /status", s.handleStatus)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(DefaultCORSConfig(s.opts.CORSOrigins)),
	}
	if s.opts.RateLimitRequests > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.opts.RateLimitRequests, s.opts.RateLimitWindow)))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on Options.Addr and blocks until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s prefix=%s version=%s", s.opts.Addr, s.opts.APIPrefix, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// RESPONSES
// ============================================================================

// Error types of the error envelope.
const (
	errTypeInvalid     = "invalid_request_error"
	errTypeNotFound    = "not_found_error"
	errTypeForbidden   = "permission_error"
	errTypeProvider    = "provider_error"
	errTypeRateLimit   = "rate_limit_error"
	errTypeTimeout     = "timeout_error"
	errTypeServer      = "server_error"
	errTypeUnsupported = "unsupported_error"
	errTypeUnavailable = "unavailable_error"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("RESPONSE_ENCODE_FAILED | error=%v", err)
	}
}

// writeError writes the {"error":{"message","type","code"}} envelope.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
}

// writeErr maps err onto a status code and writes the envelope. Unexpected
// errors are logged and reported without detail.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, analytics.ErrInvalidScope),
		errors.Is(err, analytics.ErrInvalidReport),
		errors.Is(err, prompt.ErrMissingVariable):
		writeError(w, http.StatusBadRequest, errTypeInvalid, err.Error())
	case errors.Is(err, export.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, errTypeUnsupported, err.Error())
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, prompt.ErrUnknownTemplate):
		writeError(w, http.StatusNotFound, errTypeNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrForbidden):
		writeError(w, http.StatusForbidden, errTypeForbidden, err.Error())
	case errors.Is(err, orchestrator.ErrAllProvidersExhausted):
		writeError(w, http.StatusBadGateway, errTypeProvider, err.Error())
	case errors.Is(err, orchestrator.ErrPendingWrites):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, errTypeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, errTypeTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this.
		writeError(w, 499, errTypeTimeout, "request canceled")
	default:
		log.Printf("REQUEST_FAILED | method=%s path=%s error=%v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
	}
}

// badRequest writes a 400 envelope.
func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeError(w, http.StatusBadRequest, errTypeInvalid, fmt.Sprintf(format, args...))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}

// writeDocument writes an exported document with its content type. Non-JSON
// documents are sent as attachments named filename.
func writeDocument(w http.ResponseWriter, exp export.Exporter, filename string, body []byte) {
	w.Header().Set("Content-Type", exp.MimeType()+"; charset=utf-8")
	if exp.FileExtension() != ".json" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+exp.FileExtension()))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Printf("RESPONSE_WRITE_FAILED | file=%s error=%v", filename, err)
	}
}

// ============================================================================
// QUERY HELPERS
// ============================================================================

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

// daysParam parses ?days=; 0 or absent selects the default window.
func daysParam(r *http.Request) (int, error) {
	days, err := intParam(r, "days", 0)
	if err != nil {
		return 0, err
	}
	if days > analytics.MaxWindowDays {
		return 0, fmt.Errorf("days must be at most %d, got %d", analytics.MaxWindowDays, days)
	}
	return days, nil
}
