package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const googleIssuer = "https://accounts.google.com"

// GoogleConfig carries the OAuth client registration for Google sign-in.
type GoogleConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
}

// GoogleIdentity is the verified outcome of a completed code exchange. The
// provider mechanics end here; session issuance proceeds exactly as for a
// password login.
type GoogleIdentity struct {
	Email string
	Name  string
}

// GoogleService wraps the OIDC discovery, code exchange, and ID token
// verification against Google.
type GoogleService struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
}

// NewGoogleService performs OIDC discovery and prepares the verifier.
func NewGoogleService(ctx context.Context, cfg GoogleConfig) (*GoogleService, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("google auth: client id and secret are required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("google auth: redirect url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google auth: discover provider: %w", err)
	}

	return &GoogleService{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		timeout:  timeout,
	}, nil
}

// AuthCodeURL builds the consent redirect for the supplied anti-forgery state.
func (s *GoogleService) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Exchange completes the authorization code flow and returns the verified identity.
func (s *GoogleService) Exchange(ctx context.Context, code string) (*GoogleIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google auth: exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("google auth: response missing id_token")
	}

	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("google auth: verify id token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google auth: decode claims: %w", err)
	}

	if strings.TrimSpace(claims.Email) == "" || !claims.EmailVerified {
		return nil, errors.New("google auth: verified email is required")
	}

	return &GoogleIdentity{
		Email: claims.Email,
		Name:  claims.Name,
	}, nil
}
