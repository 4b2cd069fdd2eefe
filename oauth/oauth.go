// Package oauth implements the OAuth collaborator spec.md §9 describes: a
// synchronized bearer-token accessor for Anthropic's OAuth credential
// channel, consumed by backend.TokenSource. The device-code/PKCE user
// experience itself is explicitly out of scope (spec.md Non-goals); this
// package implements only the authorize/callback/status/refresh/logout
// surface and the get_bearer_token() capability the pipeline calls before
// every OAuth-authenticated Anthropic request.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// anthropicOAuthBeta is the header value the Anthropic adapter sends
// alongside an OAuth bearer token (spec.md §4.2).
const anthropicOAuthBeta = "oauth-2025-04-20"

// AnthropicBetaHeader returns the anthropic-beta header value to send
// alongside an OAuth bearer token.
func AnthropicBetaHeader() string { return anthropicOAuthBeta }

// endpoint mirrors Anthropic's public OAuth endpoints for the Claude Code
// client id; used only when no override is configured.
var endpoint = oauth2.Endpoint{
	AuthURL:  "https://console.anthropic.com/oauth/authorize",
	TokenURL: "https://console.anthropic.com/v1/oauth/token",
}

// StoredToken is the on-disk persisted credential, matching spec.md §6's
// note that persisted state lives "typically in a user config directory."
type StoredToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (t *StoredToken) expired(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	return now.Add(skew).After(t.ExpiresAt)
}

// Config configures the TokenSource: the OAuth client id (spec.md's
// `providers_auth.<name>.oauth.client_id`) and where the refreshed token is
// persisted between process restarts.
type Config struct {
	ClientID  string
	TokenPath string
	RedirectURL string
}

func (c Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.ClientID,
		Endpoint:    endpoint,
		RedirectURL: c.RedirectURL,
		Scopes:      []string{"org:create_api_key", "user:profile", "user:inference"},
	}
}

// TokenSource serves fresh bearer tokens to the Anthropic backend adapter,
// refreshing and persisting transparently. Token refresh is serialized by mu
// per spec.md §5's "token refresh serializes internally" note so concurrent
// requests never race to refresh the same credential twice.
type TokenSource struct {
	mu      sync.Mutex
	cfg     Config
	current *StoredToken
}

// New constructs a TokenSource, loading any persisted token from cfg.TokenPath.
// A missing file is not an error; Token will then fail until Exchange or
// SetToken populates a credential.
func New(cfg Config) (*TokenSource, error) {
	ts := &TokenSource{cfg: cfg}
	if cfg.TokenPath == "" {
		return ts, nil
	}
	tok, err := loadToken(cfg.TokenPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("oauth: loading persisted token: %w", err)
	}
	ts.current = tok
	return ts, nil
}

// Token implements backend.TokenSource: it returns a currently-valid access
// token, refreshing first if the stored token is expired or close to expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.current.expired(now, 30*time.Second) {
		return s.current.AccessToken, nil
	}
	if s.current == nil || s.current.RefreshToken == "" {
		return "", errors.New("oauth: no refresh token available; run oauth login first")
	}

	refreshed, err := s.refreshLocked(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth: refreshing token: %w", err)
	}
	return refreshed.AccessToken, nil
}

func (s *TokenSource) refreshLocked(ctx context.Context) (*StoredToken, error) {
	cfg := s.cfg.oauth2Config()
	base := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: s.current.RefreshToken})
	tok, err := base.Token()
	if err != nil {
		return nil, err
	}
	stored := fromOAuth2Token(tok)
	s.current = stored
	if s.cfg.TokenPath != "" {
		if err := saveToken(s.cfg.TokenPath, stored); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// AuthorizeURL returns the URL the user's browser should be redirected to
// for the authorization-code leg of the flow. state and codeChallenge are
// generated by the caller (httpapi) per standard PKCE practice; this package
// does not manufacture them since the PKCE UX itself is out of scope.
func (s *TokenSource) AuthorizeURL(state, codeChallenge string) string {
	cfg := s.cfg.oauth2Config()
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	return cfg.AuthCodeURL(state, opts...)
}

// Exchange completes the authorization-code leg, persisting the resulting
// token so subsequent Token calls succeed without another login.
func (s *TokenSource) Exchange(ctx context.Context, code, codeVerifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg.oauth2Config()
	tok, err := cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return fmt.Errorf("oauth: exchanging authorization code: %w", err)
	}
	stored := fromOAuth2Token(tok)
	s.current = stored
	if s.cfg.TokenPath != "" {
		return saveToken(s.cfg.TokenPath, stored)
	}
	return nil
}

// Status reports whether a usable credential is present and its expiry, for
// the GET /oauth/status surface.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

func (s *TokenSource) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.AccessToken == "" {
		return Status{}
	}
	return Status{Authenticated: true, ExpiresAt: s.current.ExpiresAt}
}

// Logout discards the in-memory and persisted credential.
func (s *TokenSource) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	if s.cfg.TokenPath == "" {
		return nil
	}
	if err := os.Remove(s.cfg.TokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("oauth: removing persisted token: %w", err)
	}
	return nil
}

func fromOAuth2Token(tok *oauth2.Token) *StoredToken {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		if exp, err := ExpiryFromAccessToken(tok.AccessToken); err == nil {
			expiresAt = exp
		}
	}
	return &StoredToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

func loadToken(path string) (*StoredToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("oauth: decoding persisted token: %w", err)
	}
	return &tok, nil
}

func saveToken(path string, tok *StoredToken) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("oauth: creating token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("oauth: encoding token: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpiryFromAccessToken reads the "exp" claim from a JWT-shaped access
// token, for backends that hand out self-describing JWTs instead of opaque
// tokens. fromOAuth2Token calls this whenever the token response itself
// omits expires_in, parsed without signature verification since the token's
// issuer already authenticated it.
func ExpiryFromAccessToken(accessToken string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("oauth: parsing access token claims: %w", err)
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, errors.New("oauth: no exp claim present")
	}
	return time.Unix(int64(expFloat), 0), nil
}
