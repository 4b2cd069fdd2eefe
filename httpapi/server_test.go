package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jbctechsolutions/inferswitch/availability"
	"github.com/jbctechsolutions/inferswitch/backend"
	"github.com/jbctechsolutions/inferswitch/cache"
	"github.com/jbctechsolutions/inferswitch/config"
	"github.com/jbctechsolutions/inferswitch/pipeline"
	"github.com/jbctechsolutions/inferswitch/router"
)

func testServer(t *testing.T, cfg *config.Config) (*Server, *cache.Cache, *availability.Registry) {
	t.Helper()
	resolver, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	snap := resolver.Snapshot()
	*snap = *cfg

	c := cache.New(100, time.Hour)
	avail := availability.New()
	classifier := router.NewClassifier(nil)
	p := pipeline.New(resolver, &config.Catalog{}, c, avail, classifier, nil)
	tokens := map[string]backend.TokenSource{}
	return New(p, resolver, c, avail, tokens, nil), c, avail
}

func anthropicBackendCfg(url string) config.Backend {
	return config.Backend{Kind: config.KindAnthropic, BaseURL: url, APIKey: "k", Auth: config.Auth{Mode: config.AuthStaticKey}}
}

func TestHandleMessagesUnary(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"m1","model":"claude-3-5-sonnet","content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.Backends = map[string]config.Backend{"anthropic": anthropicBackendCfg(upstream.URL)}
	s, _, _ := testServer(t, cfg)

	body := `{"model":"claude-3-5-sonnet","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleMessages(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if decoded["type"] != "message" {
		t.Errorf("expected Anthropic message envelope, got %v", decoded)
	}
}

func TestHandleMessagesRejectsEmptyMessages(t *testing.T) {
	cfg := config.Defaults()
	s, _, _ := testServer(t, cfg)

	body := `{"model":"claude-3-5-sonnet","max_tokens":64,"messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleMessages(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var decoded map[string]any
	json.Unmarshal(w.Body.Bytes(), &decoded)
	if decoded["type"] != "error" {
		t.Errorf("expected Anthropic error envelope, got %v", decoded)
	}
}

func TestHandleMessagesSurfacesAuthFailedAs401(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.Backends = map[string]config.Backend{"anthropic": anthropicBackendCfg(upstream.URL)}
	s, _, _ := testServer(t, cfg)

	body := `{"model":"claude-3-5-sonnet","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleMessages(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleChatCompletionsTranslatesOpenAIShape(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"m1","model":"claude-3-5-sonnet","content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.Backends = map[string]config.Backend{"anthropic": anthropicBackendCfg(upstream.URL)}
	s, _, _ := testServer(t, cfg)

	body := `{"model":"claude-3-5-sonnet","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var decoded map[string]any
	json.Unmarshal(w.Body.Bytes(), &decoded)
	choices, ok := decoded["choices"].([]any)
	if !ok || len(choices) != 1 {
		t.Fatalf("expected one choice, got %v", decoded)
	}
}

func TestHandleChatTemplateEchoesMessagesWithoutUpstreamCall(t *testing.T) {
	cfg := config.Defaults()
	s, _, _ := testServer(t, cfg)

	body := `{"model":"claude-3-5-sonnet","system":"be terse","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/chat-template", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatTemplate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var decoded map[string]string
	json.Unmarshal(w.Body.Bytes(), &decoded)
	if !strings.Contains(decoded["text"], "<|system|>") || !strings.Contains(decoded["text"], "<|user|>") {
		t.Errorf("expected rendered chat template, got %q", decoded["text"])
	}
}

func TestHandleCacheStatsAndClear(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"m1","model":"claude-3-5-sonnet","content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.Backends = map[string]config.Backend{"anthropic": anthropicBackendCfg(upstream.URL)}
	s, _, _ := testServer(t, cfg)

	body := `{"model":"claude-3-5-sonnet","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`
	s.handleMessages(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))

	statsW := httptest.NewRecorder()
	s.handleCacheStats(statsW, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	var stats map[string]any
	json.Unmarshal(statsW.Body.Bytes(), &stats)
	if stats["size"].(float64) != 1 {
		t.Fatalf("expected one cached entry, got %v", stats)
	}

	clearW := httptest.NewRecorder()
	s.handleCacheClear(clearW, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))
	var cleared map[string]int
	json.Unmarshal(clearW.Body.Bytes(), &cleared)
	if cleared["cleared"] != 1 {
		t.Errorf("expected cleared=1, got %+v", cleared)
	}
}

func TestHandleBackendsStatusReportsDisabledModels(t *testing.T) {
	cfg := config.Defaults()
	s, _, avail := testServer(t, cfg)
	avail.Disable("rate-limited-model", time.Now(), time.Minute)

	w := httptest.NewRecorder()
	s.handleBackendsStatus(w, httptest.NewRequest(http.MethodGet, "/backends/status", nil))

	var decoded struct {
		DisabledModels []string `json:"disabled_models"`
	}
	json.Unmarshal(w.Body.Bytes(), &decoded)
	found := false
	for _, m := range decoded.DisabledModels {
		if m == "rate-limited-model" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected rate-limited-model in disabled_models, got %v", decoded.DisabledModels)
	}
}

func TestRequestHeadersAcceptsBearerAsAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-test-123")

	headers := requestHeaders(req)
	if headers[config.HeaderAPIKey] != "sk-test-123" {
		t.Errorf("expected Authorization bearer to map to x-api-key, got %+v", headers)
	}
}
