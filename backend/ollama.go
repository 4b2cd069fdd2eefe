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

// ollamaAdapter calls a local Ollama /api/chat endpoint, grounded on the
// teacher's router/providers.go callOllama. Ollama runs locally and
// typically needs no credential, matching spec.md's local-inference path.
type ollamaAdapter struct {
	name    string
	cfg     config.Backend
	limiter *rate.Limiter
	client  *http.Client
}

func (a *ollamaAdapter) endpoint() string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/api/chat"
}

func (a *ollamaAdapter) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *ollamaAdapter) Chat(ctx context.Context, req canonical.Request) (canonical.Response, error) {
	if err := awaitLimiter(ctx, a.limiter); err != nil {
		return canonical.Response{}, classifyTransportError(ctx, err)
	}

	body, err := translate.OllamaRequestBody(req, req.Model)
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

	out, err := translate.OllamaResponseFromWire(data)
	if err != nil {
		return canonical.Response{}, &Error{Kind: ErrUpstreamError, Message: err.Error(), Err: err}
	}
	return out, nil
}

func (a *ollamaAdapter) ChatStream(ctx context.Context, req canonical.Request) (canonical.EventStream, error) {
	if err := awaitLimiter(ctx, a.limiter); err != nil {
		return canonical.EventStream{}, classifyTransportError(ctx, err)
	}

	streamReq := req
	streamReq.Stream = true
	body, err := translate.OllamaRequestBody(streamReq, req.Model)
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
	return translate.ParseOllamaStream(idle), nil
}

func (a *ollamaAdapter) CountTokens(ctx context.Context, req canonical.Request) (int, error) {
	return estimateTokens(req), nil
}

func (a *ollamaAdapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(a.cfg.BaseURL, "/")+"/api/tags", nil)
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
