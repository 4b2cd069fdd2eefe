package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
	"github.com/jbctechsolutions/inferswitch/translate"
)

const anthropicAPIVersion = "2023-06-01"

// anthropicAdapter calls the Anthropic Messages API, grounded on the
// teacher's router/providers.go callAnthropic. It additionally supports
// OAuth bearer-token auth (spec.md §9) alongside the static x-api-key mode.
type anthropicAdapter struct {
	name    string
	cfg     config.Backend
	tokens  TokenSource
	limiter *rate.Limiter
	client  *http.Client
}

func (a *anthropicAdapter) endpoint() string {
	base := a.cfg.BaseURL
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return base + "/v1/messages"
}

func (a *anthropicAdapter) authenticate(ctx context.Context, req *http.Request) error {
	switch a.cfg.Auth.Mode {
	case config.AuthOAuth:
		header, err := bearerHeader(ctx, a.tokens)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", header)
		req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	default:
		req.Header.Set("x-api-key", a.cfg.APIKey)
	}
	return nil
}

func (a *anthropicAdapter) newRequest(ctx context.Context, body []byte, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: creating anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	if err := a.authenticate(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (a *anthropicAdapter) Chat(ctx context.Context, req canonical.Request) (canonical.Response, error) {
	if err := awaitLimiter(ctx, a.limiter); err != nil {
		return canonical.Response{}, classifyTransportError(ctx, err)
	}

	body, err := translate.AnthropicRequestBody(req, req.Model)
	if err != nil {
		return canonical.Response{}, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}

	httpReq, err := a.newRequest(ctx, body, false)
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

	out, err := translate.AnthropicResponseFromWire(data)
	if err != nil {
		return canonical.Response{}, &Error{Kind: ErrUpstreamError, Message: err.Error(), Err: err}
	}
	return out, nil
}

func (a *anthropicAdapter) ChatStream(ctx context.Context, req canonical.Request) (canonical.EventStream, error) {
	if err := awaitLimiter(ctx, a.limiter); err != nil {
		return canonical.EventStream{}, classifyTransportError(ctx, err)
	}

	streamReq := req
	streamReq.Stream = true
	body, err := translate.AnthropicRequestBody(streamReq, req.Model)
	if err != nil {
		return canonical.EventStream{}, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := a.newRequest(ctx, body, true)
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
	return translate.ParseAnthropicStream(idle), nil
}

func (a *anthropicAdapter) CountTokens(ctx context.Context, req canonical.Request) (int, error) {
	// Anthropic's count_tokens endpoint mirrors /v1/messages; reuse the same
	// body builder and swap the path, matching spec.md §6's
	// /v1/messages/count_tokens surface.
	if err := awaitLimiter(ctx, a.limiter); err != nil {
		return 0, classifyTransportError(ctx, err)
	}
	body, err := translate.AnthropicRequestBody(req, req.Model)
	if err != nil {
		return 0, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint()+"/count_tokens", bytes.NewReader(body))
	if err != nil {
		return 0, &Error{Kind: ErrBadRequest, Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	if err := a.authenticate(ctx, httpReq); err != nil {
		return 0, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return 0, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, classifyTransportError(ctx, err)
	}
	if resp.StatusCode >= 300 {
		return 0, &Error{Kind: classifyHTTPStatus(resp.StatusCode, string(data)), StatusCode: resp.StatusCode, Message: string(data)}
	}

	var decoded struct {
		InputTokens int `json:"input_tokens"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return 0, &Error{Kind: ErrUpstreamError, Message: err.Error(), Err: err}
	}
	return decoded.InputTokens, nil
}

func (a *anthropicAdapter) Health(ctx context.Context) error {
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
