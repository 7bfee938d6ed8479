package server

import (
	"log/slog"
)

// BridgeScope is the scope that unlocks the identity bridge endpoint.
// It is injected into every issued token; callers cannot opt out.
const BridgeScope = "identity:bridge"

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's canonical issuer identifier (base URL, required)
	Issuer string

	// ResourceIdentifier is the audience placed in minted tokens.
	// Defaults to Issuer.
	ResourceIdentifier string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 30

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// SupportedScopes lists the scopes clients may request.
	// If empty, any requested scope is allowed.
	SupportedScopes []string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to extract the client IP.
	TrustedProxyCount int // default: 1

	// AllowInsecureHTTP allows a non-localhost http:// issuer.
	// Development only.
	AllowInsecureHTTP bool // default: false
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 30
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ResourceIdentifier == "" {
		config.ResourceIdentifier = config.Issuer
	}

	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP extraction",
			"trusted_proxy_count", config.TrustedProxyCount)
	}

	return config
}
