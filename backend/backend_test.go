package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
)

func sampleRequest() canonical.Request {
	return canonical.Request{
		Model: "test-model",
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: "hi"}}},
		},
		MaxTokens: 64,
	}
}

func TestAnthropicAdapterChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-test" {
			t.Errorf("expected x-api-key header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","model":"test-model","content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	a, err := New("anthropic", config.Backend{Kind: config.KindAnthropic, BaseURL: srv.URL, APIKey: "sk-test", Auth: config.Auth{Mode: config.AuthStaticKey}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hello" {
		t.Errorf("unexpected response content: %+v", resp.Content)
	}
}

func TestAnthropicAdapterClassifiesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	a, _ := New("anthropic", config.Backend{Kind: config.KindAnthropic, BaseURL: srv.URL, APIKey: "sk-test", Auth: config.Auth{Mode: config.AuthStaticKey}}, nil)
	_, err := a.Chat(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected an error")
	}
	var be *Error
	if !errorsAs(err, &be) {
		t.Fatalf("expected *backend.Error, got %T", err)
	}
	if be.Kind != ErrRateLimited {
		t.Errorf("expected rate_limited, got %s", be.Kind)
	}
}

func TestAnthropicAdapterClassifiesAuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a, _ := New("anthropic", config.Backend{Kind: config.KindAnthropic, BaseURL: srv.URL, APIKey: "sk-test", Auth: config.Auth{Mode: config.AuthStaticKey}}, nil)
	_, err := a.Chat(context.Background(), sampleRequest())
	var be *Error
	if !errorsAs(err, &be) || be.Kind != ErrAuthFailed {
		t.Fatalf("expected auth_failed, got %v", err)
	}
}

func TestOpenAICompatAdapterChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-oai" {
			t.Errorf("expected bearer auth header, got %q", got)
		}
		w.Write([]byte(`{"id":"c1","model":"test-model","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	a, err := New("lm-studio", config.Backend{Kind: config.KindOpenAICompat, BaseURL: srv.URL, APIKey: "sk-oai"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := a.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi" {
		t.Errorf("unexpected content: %+v", resp.Content)
	}
}

func TestOllamaAdapterChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"hi"},"done":true,"eval_count":3}`))
	}))
	defer srv.Close()

	a, err := New("ollama", config.Backend{Kind: config.KindOllama, BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := a.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Usage.OutputTokens != 3 {
		t.Errorf("expected eval_count to map to output tokens, got %d", resp.Usage.OutputTokens)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New("bad", config.Backend{Kind: "unknown"}, nil); err == nil {
		t.Error("expected an error for unknown backend kind")
	}
}

// errorsAs avoids importing errors in every test file just for As.
func errorsAs(err error, target **Error) bool {
	if be, ok := err.(*Error); ok {
		*target = be
		return true
	}
	return false
}
