package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jbctechsolutions/inferswitch/pipeline"
)

// statusForKind maps a pipeline.Kind to its HTTP status per spec.md §7's
// taxonomy table.
func statusForKind(k pipeline.Kind) int {
	switch k {
	case pipeline.KindBadRequest:
		return http.StatusBadRequest
	case pipeline.KindAuthFailed:
		return http.StatusUnauthorized
	case pipeline.KindNoRoute:
		return http.StatusNotFound
	case pipeline.KindRateLimited:
		return http.StatusTooManyRequests
	case pipeline.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case pipeline.KindUpstreamError, pipeline.KindNetworkError:
		return http.StatusBadGateway
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// logPipelineError emits the structured log line spec.md §9's expansion
// calls for every recovered/surfaced pipeline error: kind, backend, model,
// and request_id, generalized from the teacher's unstructured
// log.Printf("failover: ...") call sites to slog fields a dashboard query
// can group on.
func logPipelineError(requestID string, perr *pipeline.Error) {
	slog.Warn("request failed",
		"kind", string(perr.Kind),
		"backend", perr.Backend,
		"model", perr.Model,
		"request_id", requestID,
		"message", perr.Message,
	)
}

// writeAnthropicError writes the Anthropic error envelope spec.md §7 names:
// {type: "error", error: {type: <kind>, message: <string>}}.
func writeAnthropicError(w http.ResponseWriter, requestID string, perr *pipeline.Error) {
	logPipelineError(requestID, perr)
	writeJSON(w, statusForKind(perr.Kind), map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    string(perr.Kind),
			"message": perr.Message,
		},
	})
}

// writeOpenAIError writes the OpenAI error envelope shape for
// /v1/chat/completions: {error: {message, type, code}}.
func writeOpenAIError(w http.ResponseWriter, requestID string, perr *pipeline.Error) {
	logPipelineError(requestID, perr)
	writeJSON(w, statusForKind(perr.Kind), map[string]any{
		"error": map[string]string{
			"message": perr.Message,
			"type":    string(perr.Kind),
			"code":    string(perr.Kind),
		},
	})
}
