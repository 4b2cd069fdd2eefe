package oauth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewWithNoPersistedTokenIsNotAnError(t *testing.T) {
	ts, err := New(Config{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := ts.Token(context.Background()); err == nil {
		t.Error("expected Token to fail before any login")
	}
}

func TestTokenReturnsUnexpiredAccessTokenWithoutRefresh(t *testing.T) {
	ts := &TokenSource{cfg: Config{ClientID: "client-1"}, current: &StoredToken{
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}

	got, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "tok-1" {
		t.Errorf("expected tok-1, got %q", got)
	}
}

func TestTokenFailsWithExpiredTokenAndNoRefreshToken(t *testing.T) {
	ts := &TokenSource{cfg: Config{ClientID: "client-1"}, current: &StoredToken{
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}}

	if _, err := ts.Token(context.Background()); err == nil {
		t.Error("expected an error when the stored token is expired with no refresh token")
	}
}

func TestStatusReflectsCurrentToken(t *testing.T) {
	ts := &TokenSource{}
	if got := ts.Status(); got.Authenticated {
		t.Error("expected unauthenticated status with no current token")
	}

	ts.current = &StoredToken{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}
	if got := ts.Status(); !got.Authenticated {
		t.Error("expected authenticated status once a token is present")
	}
}

func TestLogoutClearsPersistedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth.json")
	ts := &TokenSource{cfg: Config{TokenPath: path}, current: &StoredToken{AccessToken: "tok-1"}}
	if err := saveToken(path, ts.current); err != nil {
		t.Fatalf("saveToken: %v", err)
	}

	if err := ts.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if ts.Status().Authenticated {
		t.Error("expected unauthenticated status after logout")
	}
	if _, err := loadToken(path); err == nil {
		t.Error("expected persisted token file to be removed")
	}
}

func TestAuthorizeURLIncludesPKCEParams(t *testing.T) {
	ts := &TokenSource{cfg: Config{ClientID: "client-1", RedirectURL: "http://localhost:1455/callback"}}
	url := ts.AuthorizeURL("state-1", "challenge-1")
	if url == "" {
		t.Fatal("expected a non-empty authorize URL")
	}
	if !strings.Contains(url, "code_challenge=challenge-1") || !strings.Contains(url, "code_challenge_method=S256") {
		t.Errorf("expected PKCE code_challenge and S256 method in %q", url)
	}
}
