package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
	"github.com/jbctechsolutions/inferswitch/translate"
)

// openAICompatAdapter calls any OpenAI-compatible /chat/completions endpoint
// (OpenAI itself, OpenRouter, LM-Studio, Cerebras, Groq, ...), grounded on
// the teacher's router/providers.go callOpenAICompat.
type openAICompatAdapter struct {
	name    string
	cfg     config.Backend
	limiter *rate.Limiter
	client  *http.Client
}

func (a *openAICompatAdapter) endpoint() string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/chat/completions"
}

func (a *openAICompatAdapter) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: creating openai-compatible request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	return req, nil
}

func (a *openAICompatAdapter) Chat(ctx context.Context, req canonical.Request) (canonical.Response, error) {
	if err := awaitLimiter(ctx, a.limiter); err != nil {
		return canonical.Response{}, classifyTransportError(ctx, err)
	}

	body, err := translate.OpenAIRequestBody(req, req.Model)
	if err != nil {
		return canonical.Response{}, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}

	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return canonical.Response{}, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return canonical.Response{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return canonical.Response{}, classifyTransportError(ctx, err)
	}
	if resp.StatusCode >= 300 {
		return canonical.Response{}, &Error{Kind: classifyHTTPStatus(resp.StatusCode, string(data)), StatusCode: resp.StatusCode, Message: string(data)}
	}

	out, err := translate.OpenAIResponseFromWire(data)
	if err != nil {
		return canonical.Response{}, &Error{Kind: ErrUpstreamError, Message: err.Error(), Err: err}
	}
	return out, nil
}

func (a *openAICompatAdapter) ChatStream(ctx context.Context, req canonical.Request) (canonical.EventStream, error) {
	if err := awaitLimiter(ctx, a.limiter); err != nil {
		return canonical.EventStream{}, classifyTransportError(ctx, err)
	}

	streamReq := req
	streamReq.Stream = true
	body, err := translate.OpenAIRequestBody(streamReq, req.Model)
	if err != nil {
		return canonical.EventStream{}, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		cancel()
		return canonical.EventStream{}, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		cancel()
		return canonical.EventStream{}, classifyTransportError(ctx, err)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return canonical.EventStream{}, &Error{Kind: classifyHTTPStatus(resp.StatusCode, string(data)), StatusCode: resp.StatusCode, Message: string(data)}
	}

	idle := newIdleTimeoutReader(resp.Body, a.cfg.Timeout(), cancel)
	return translate.ParseOpenAIStream(idle), nil
}

func (a *openAICompatAdapter) CountTokens(ctx context.Context, req canonical.Request) (int, error) {
	// OpenAI-compatible endpoints have no standard token-counting API, so
	// this adapter returns a local estimate instead (spec.md
	// §4.6 treats this as an approximation, not a hard requirement).
	return estimateTokens(req), nil
}

func (a *openAICompatAdapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL, nil)
	if err != nil {
		return &Error{Kind: ErrNetworkError, Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	resp.Body.Close()
	return nil
}

// estimateTokens is a rough, provider-agnostic token estimate (~4 chars per
// token) used only where the backend exposes no counting endpoint.
func estimateTokens(req canonical.Request) int {
	chars := 0
	for _, m := range req.Messages {
		for _, b := range m.Content {
			chars += len(b.Text)
		}
	}
	for _, b := range req.System {
		chars += len(b.Text)
	}
	if chars == 0 {
		return 0
	}
	return chars/4 + 1
}
