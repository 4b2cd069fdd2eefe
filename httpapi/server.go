// Package httpapi is the HTTP edge (spec.md §6): it parses Anthropic- and
// OpenAI-shaped request bodies into the canonical model, drives them
// through the Pipeline, and serializes the result back to the client's wire
// format, streaming or not. Grounded on the teacher's proxy.ProxyServer
// (mux registration, logging middleware, Anthropic error envelope) but
// restructured around the canonical/translate/pipeline split the teacher's
// single handleMessages method never had.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/inferswitch/availability"
	"github.com/jbctechsolutions/inferswitch/backend"
	"github.com/jbctechsolutions/inferswitch/cache"
	"github.com/jbctechsolutions/inferswitch/config"
	"github.com/jbctechsolutions/inferswitch/oauth"
	"github.com/jbctechsolutions/inferswitch/pipeline"
)

// Server is the HTTP edge wired to one Pipeline plus the collaborators the
// non-pipeline endpoints (status, cache, oauth) need direct access to.
type Server struct {
	pipeline *pipeline.Pipeline
	resolver *config.Resolver
	cache    *cache.Cache
	avail    *availability.Registry
	tokens   map[string]backend.TokenSource
	oauthTS  *oauth.TokenSource
}

// New constructs a Server. tokens is the same backend-name -> OAuth token
// source map passed to pipeline.New, reused here for /backends/status
// health checks; oauthTS is the single collaborator backing /oauth/* (nil
// disables that surface).
func New(p *pipeline.Pipeline, resolver *config.Resolver, respCache *cache.Cache, avail *availability.Registry, tokens map[string]backend.TokenSource, oauthTS *oauth.TokenSource) *Server {
	return &Server{pipeline: p, resolver: resolver, cache: respCache, avail: avail, tokens: tokens, oauthTS: oauthTS}
}

// Handler builds the full routed mux, wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", s.handleMessages)
	mux.HandleFunc("/v1/messages/count_tokens", s.handleCountTokens)
	mux.HandleFunc("/v1/messages/chat-template", s.handleChatTemplate)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/backends/status", s.handleBackendsStatus)
	mux.HandleFunc("/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/cache/clear", s.handleCacheClear)
	mux.HandleFunc("/oauth/authorize", s.handleOAuthAuthorize)
	mux.HandleFunc("/oauth/callback", s.handleOAuthCallback)
	mux.HandleFunc("/oauth/status", s.handleOAuthStatus)
	mux.HandleFunc("/oauth/refresh", s.handleOAuthRefresh)
	mux.HandleFunc("/oauth/logout", s.handleOAuthLogout)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)

	return loggingMiddleware(mux)
}

// ListenAndServe registers every endpoint and blocks, matching the
// teacher's ProxyServer.Start.
func (s *Server) ListenAndServe(addr string) error {
	slog.Info("inferswitch listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "inferswitch"})
}

// requestHeaders extracts the per-request override headers the pipeline
// honors (spec.md §6): x-backend, x-api-key (or an equivalent Authorization
// bearer token), and anthropic-version.
func requestHeaders(r *http.Request) map[string]string {
	h := map[string]string{}
	if v := r.Header.Get(config.HeaderBackend); v != "" {
		h[config.HeaderBackend] = v
	}
	if v := r.Header.Get(config.HeaderAPIKey); v != "" {
		h[config.HeaderAPIKey] = v
	} else if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		h[config.HeaderAPIKey] = auth[7:]
	}
	if v := r.Header.Get(config.HeaderAnthropicVersion); v != "" {
		h[config.HeaderAnthropicVersion] = v
	}
	return h
}

// newRequestID mirrors the teacher's uuid.New().String() event id, used to
// tag both Anthropic message ids and OpenAI completion ids.
func newRequestID() string { return uuid.New().String() }

// loggingMiddleware logs method, path, and elapsed time for every request,
// matching the teacher's loggingMiddleware but upgraded from line logging to
// structured slog fields per spec.md §9's expansion.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}
