// Package backend implements the Backend Adapter (C2): one Adapter per
// upstream kind (Anthropic, OpenAI-compatible, Ollama) translating the
// canonical request/response/event model to and from each provider's wire
// format, classifying failures into the closed ErrorKind taxonomy the
// pipeline's failover logic depends on (spec.md §4.2/§7). Grounded on the
// teacher's router/providers.go callAnthropic/callOpenAICompat/callOllama.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
)

// ErrorKind is the closed failure taxonomy every adapter reports through
// (spec.md §4.2/§7). Exactly one of these is attached to every non-nil
// error an Adapter returns.
type ErrorKind string

const (
	ErrRateLimited         ErrorKind = "rate_limited"
	ErrInsufficientCredits ErrorKind = "insufficient_credits"
	ErrAuthFailed          ErrorKind = "auth_failed"
	ErrBadRequest          ErrorKind = "bad_request"
	ErrUpstreamError       ErrorKind = "upstream_error"
	ErrNetworkError        ErrorKind = "network_error"
	ErrTimeout             ErrorKind = "timeout"
	ErrCanceled            ErrorKind = "canceled"
)

// Error wraps an upstream failure with its classification. The pipeline
// switches on Kind alone; Message and StatusCode are for logs and error
// envelopes only.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("backend: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// TokenSource supplies a bearer token for OAuth-authenticated backends
// (spec.md §9's get_bearer_token() capability). Implemented by the oauth
// package; accepted here as an interface so backend never imports oauth.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Adapter is the capability every upstream provider implements (spec.md
// §4.2 Design Notes: capability interface, not a class hierarchy).
type Adapter interface {
	Chat(ctx context.Context, req canonical.Request) (canonical.Response, error)
	ChatStream(ctx context.Context, req canonical.Request) (canonical.EventStream, error)
	CountTokens(ctx context.Context, req canonical.Request) (int, error)
	Health(ctx context.Context) error
}

// New constructs the Adapter appropriate for backendCfg.Kind. tokens may be
// nil for backends that never use oauth auth mode.
func New(name string, backendCfg config.Backend, tokens TokenSource) (Adapter, error) {
	limiter := newLimiter(backendCfg.RateLimitRPS)

	switch backendCfg.Kind {
	case config.KindAnthropic:
		return &anthropicAdapter{name: name, cfg: backendCfg, tokens: tokens, limiter: limiter, client: httpClient(backendCfg)}, nil
	case config.KindOpenAICompat:
		return &openAICompatAdapter{name: name, cfg: backendCfg, limiter: limiter, client: httpClient(backendCfg)}, nil
	case config.KindOllama:
		return &ollamaAdapter{name: name, cfg: backendCfg, limiter: limiter, client: httpClient(backendCfg)}, nil
	default:
		return nil, fmt.Errorf("backend: unknown kind %q for backend %q", backendCfg.Kind, name)
	}
}

func httpClient(cfg config.Backend) *http.Client {
	return &http.Client{Timeout: cfg.Timeout()}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// awaitLimiter blocks until the rate limiter admits one request, or ctx is
// canceled. A nil limiter (no configured rate_limit_rps) never blocks.
func awaitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// classifyHTTPStatus maps an HTTP status code to an ErrorKind per spec.md
// §4.2's table, generalizing the teacher's isRetryableStatus boolean into
// the full closed taxonomy.
func classifyHTTPStatus(status int, body string) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusPaymentRequired || looksLikeCreditMessage(body):
		return ErrInsufficientCredits
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthFailed
	case status >= 400 && status < 500:
		return ErrBadRequest
	case status >= 500:
		return ErrUpstreamError
	default:
		return ErrUpstreamError
	}
}

func looksLikeCreditMessage(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "insufficient") && (strings.Contains(lower, "credit") || strings.Contains(lower, "balance") || strings.Contains(lower, "quota"))
}

// classifyTransportError maps a transport-level failure (anything that
// never produced an HTTP response) to an ErrorKind.
func classifyTransportError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return &Error{Kind: ErrCanceled, Message: err.Error(), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &Error{Kind: ErrTimeout, Message: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrTimeout, Message: err.Error(), Err: err}
	}
	return &Error{Kind: ErrNetworkError, Message: err.Error(), Err: err}
}

// idleTimeoutReader wraps a streaming response body with a watchdog timer
// that cancels the stream's context if no Read makes progress within
// timeout — the "gap between bytes" idle timeout spec.md §4.2 requires,
// distinct from the total-deadline timeout applied to unary calls.
type idleTimeoutReader struct {
	io.ReadCloser
	cancel  context.CancelFunc
	timer   *time.Timer
	timeout time.Duration
}

func newIdleTimeoutReader(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutReader {
	r := &idleTimeoutReader{ReadCloser: body, cancel: cancel, timeout: timeout}
	r.timer = time.AfterFunc(timeout, cancel)
	return r
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleTimeoutReader) Close() error {
	r.timer.Stop()
	r.cancel()
	return r.ReadCloser.Close()
}

func bearerHeader(ctx context.Context, tokens TokenSource) (string, error) {
	if tokens == nil {
		return "", fmt.Errorf("backend: oauth auth requested but no token source configured")
	}
	tok, err := tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("backend: fetching oauth token: %w", err)
	}
	return "Bearer " + tok, nil
}
