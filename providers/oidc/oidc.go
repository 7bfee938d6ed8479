// Package oidc implements an identity verifier for JWT identity tokens
// issued by an OpenID Connect provider. Signing keys are fetched from the
// provider's JWKS endpoint and cached with automatic refresh.
package oidc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/Jahnik/mcp2/providers"
)

const defaultMinRefreshInterval = 15 * time.Minute

// Config holds the verifier configuration.
type Config struct {
	// Issuer is the expected iss claim of identity tokens (required).
	Issuer string

	// JWKSURL is the provider's JWKS endpoint (required).
	JWKSURL string

	// Audience is the expected aud claim. Empty disables the audience
	// check (some providers issue tokens without one).
	Audience string

	// MinRefreshInterval is the minimum interval between JWKS refreshes.
	// Default: 15 minutes.
	MinRefreshInterval time.Duration

	// Logger for structured logging (optional).
	Logger *slog.Logger
}

// Verifier validates identity tokens against a remote JWKS.
type Verifier struct {
	config Config
	cache  *jwk.Cache
	logger *slog.Logger
}

var _ providers.Verifier = (*Verifier)(nil)

// New creates an OIDC identity verifier. The provided context bounds the
// lifetime of the background JWKS refresher.
func New(ctx context.Context, config Config) (*Verifier, error) {
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.JWKSURL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}
	if config.MinRefreshInterval <= 0 {
		config.MinRefreshInterval = defaultMinRefreshInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(config.JWKSURL, jwk.WithMinRefreshInterval(config.MinRefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	return &Verifier{
		config: config,
		cache:  cache,
		logger: config.Logger,
	}, nil
}

// Name returns the verifier name.
func (v *Verifier) Name() string {
	return "oidc"
}

// Verify parses and validates an identity token against the cached JWKS.
// The signature, issuer, expiry, and (if configured) audience are checked;
// on success the subject and the full claims snapshot are returned.
func (v *Verifier) Verify(ctx context.Context, identityToken string) (*providers.Identity, error) {
	keySet, err := v.cache.Get(ctx, v.config.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.config.Issuer),
	}
	if v.config.Audience != "" {
		options = append(options, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse([]byte(identityToken), options...)
	if err != nil {
		v.logger.Debug("Identity token verification failed", "error", err)
		return nil, fmt.Errorf("identity token verification failed: %w", err)
	}

	if token.Subject() == "" {
		return nil, fmt.Errorf("identity token has no subject")
	}

	claims, err := token.AsMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	identity := &providers.Identity{
		Subject: token.Subject(),
		Claims:  claims,
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}

	return identity, nil
}
