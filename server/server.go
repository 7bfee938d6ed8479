package server

import (
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/Jahnik/mcp2/instrumentation"
	"github.com/Jahnik/mcp2/jwt"
	"github.com/Jahnik/mcp2/providers"
	"github.com/Jahnik/mcp2/security"
	"github.com/Jahnik/mcp2/storage"
)

// Server implements the authorization and token issuance engine.
// It coordinates the flow using an identity verifier, a JWT signer, and
// storage backends.
type Server struct {
	verifier    providers.Verifier
	signer      *jwt.Signer
	tokenStore  storage.TokenStore
	clientStore storage.ClientStore
	flowStore   storage.FlowStore

	Auditor         *security.Auditor
	Encryptor       *security.Encryptor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new authorization server engine
func New(
	verifier providers.Verifier,
	signer *jwt.Signer,
	tokenStore storage.TokenStore,
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if verifier == nil {
		return nil, fmt.Errorf("identity verifier is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("token signer is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		verifier:    verifier,
		signer:      signer,
		tokenStore:  tokenStore,
		clientStore: clientStore,
		flowStore:   flowStore,
		Config:      config,
		Logger:      logger,
	}

	if err := srv.validateIssuerScheme(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetEncryptor sets the identity-token encryptor for server and storage
func (s *Server) SetEncryptor(enc *security.Encryptor) {
	s.Encryptor = enc

	type encryptorSetter interface {
		SetEncryptor(*security.Encryptor)
	}
	if setter, ok := s.tokenStore.(encryptorSetter); ok {
		setter.SetEncryptor(enc)
	}
}

// SetInstrumentation sets the instrumentation used for metrics and spans
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// Signer exposes the token signer for the HTTP layer (JWKS publication,
// bearer verification).
func (s *Server) Signer() *jwt.Signer {
	return s.signer
}

// validateIssuerScheme rejects a plaintext http issuer outside localhost.
// Tokens and codes over plain HTTP are exposed to interception.
func (s *Server) validateIssuerScheme() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	if issuerURL.Scheme == "https" {
		return nil
	}
	if issuerURL.Scheme != "http" {
		return fmt.Errorf("issuer must use http or https, got %q", issuerURL.Scheme)
	}

	if isLocalhostHostname(issuerURL.Hostname()) {
		s.Logger.Warn("Running over HTTP on localhost",
			"issuer", s.Config.Issuer)
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf("issuer must use HTTPS in production (got %s); set AllowInsecureHTTP=true for development", s.Config.Issuer)
	}

	s.Logger.Error("Running over HTTP on a non-localhost host",
		"issuer", s.Config.Issuer)
	return nil
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes and refresh tokens.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// safeTruncate truncates a string to maxLen characters without panicking.
// Used for logging opaque credential prefixes.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
