package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jbctechsolutions/inferswitch/backend"
)

// backendStatus is one row of GET /backends/status's "backends" array
// (spec.md §6: "{name, ok, latency_ms, models?}").
type backendStatus struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
}

// handleBackendsStatus implements GET /backends/status: health-checks every
// configured backend and reports the currently disabled models, grounded on
// the teacher's handleHealth but generalized from a single static payload to
// a live per-backend health probe since the teacher has no failover
// collaborators to report on.
func (s *Server) handleBackendsStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.resolver.Snapshot()

	statuses := make([]backendStatus, 0, len(cfg.Backends))
	for name, backendCfg := range cfg.Backends {
		adapter, err := backend.New(name, backendCfg, s.tokens[name])
		if err != nil {
			statuses = append(statuses, backendStatus{Name: name, OK: false})
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		start := time.Now()
		healthErr := adapter.Health(ctx)
		elapsed := time.Since(start)
		cancel()

		statuses = append(statuses, backendStatus{
			Name:      name,
			OK:        healthErr == nil,
			LatencyMs: elapsed.Milliseconds(),
		})
	}

	disabled := []string{}
	for _, e := range s.avail.Snapshot(time.Now()) {
		disabled = append(disabled, e.Model)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"backends":        statuses,
		"disabled_models": disabled,
	})
}

// handleCacheStats implements GET /cache/stats, the object spec.md §4.4 defines.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"size":     stats.Size,
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"hit_rate": stats.HitRate,
		"ttl":      int(stats.TTL.Seconds()),
		"max_size": stats.MaxSize,
	})
}

// handleCacheClear implements POST /cache/clear: {cleared: n}.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}
