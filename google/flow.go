// Package google runs the "Log in with Google" flow for native clients: an
// authorization code request with PKCE, a loopback redirect, and verification of
// the returned ID token. The verified ID token is what the finance API accepts at
// /auth/google.
package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-finance-client/internal/config"
	"golang.org/x/oauth2"
)

var (
	// ErrNoIDToken is returned when the token response carries no id_token
	ErrNoIDToken = errors.New("no id_token in token response")
	// ErrNonceMismatch is returned when the ID token was not minted for this attempt
	ErrNonceMismatch = errors.New("id token nonce does not match")
	// ErrNotConfigured is returned when no Google client ID is configured
	ErrNotConfigured = errors.New("google sign-in is not configured")
)

// Flow holds the OAuth2 client configuration and the ID token verifier for one
// Google client ID.
type Flow struct {
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewFlow discovers the issuer's endpoints and keys and builds a Flow
func NewFlow(ctx context.Context, cfg config.GoogleConfig) (*Flow, error) {
	if cfg.GetGoogleClientID() == "" {
		return nil, ErrNotConfigured
	}

	provider, err := oidc.NewProvider(ctx, cfg.GetGoogleIssuer())
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return NewFlowWithVerifier(&oauth2.Config{
		ClientID:     cfg.GetGoogleClientID(),
		ClientSecret: cfg.GetGoogleClientSecret(),
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.GetGoogleRedirectURL(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}, provider.Verifier(&oidc.Config{
		ClientID: cfg.GetGoogleClientID(),
	})), nil
}

// NewFlowWithVerifier builds a Flow from explicit parts, e.g. a static key set in tests
func NewFlowWithVerifier(oc *oauth2.Config, verifier *oidc.IDTokenVerifier) *Flow {
	return &Flow{oauth2: oc, verifier: verifier}
}

// RedirectURL is where the browser is sent back with the authorization code
func (f *Flow) RedirectURL() string {
	return f.oauth2.RedirectURL
}

// Attempt is the per-login secret material. It must not be reused.
type Attempt struct {
	State    string
	Nonce    string
	Verifier string
}

// NewAttempt generates a fresh state, nonce and PKCE verifier
func NewAttempt() (Attempt, error) {
	state, err := randomString(24)
	if err != nil {
		return Attempt{}, err
	}
	nonce, err := randomString(24)
	if err != nil {
		return Attempt{}, err
	}
	return Attempt{State: state, Nonce: nonce, Verifier: oauth2.GenerateVerifier()}, nil
}

// AuthCodeURL is the consent page URL. The S256 challenge of verifier is sent
// instead of the verifier itself.
func (f *Flow) AuthCodeURL(state, nonce, verifier string) string {
	return f.oauth2.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Identity is a verified Google sign-in
type Identity struct {
	// IDToken is the raw, verified ID token to forward to the API.
	IDToken       string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Exchange trades the authorization code for tokens and verifies the ID token,
// including that it carries nonce.
func (f *Flow) Exchange(ctx context.Context, code, verifier, nonce string) (*Identity, error) {
	token, err := f.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrNoIDToken
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id token verification failed: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	return &Identity{
		IDToken:       rawIDToken,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
