package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Jahnik/mcp2/jwt"
	"github.com/Jahnik/mcp2/security"
	"github.com/Jahnik/mcp2/storage"
)

// GrantType is the set of supported token grants. Anything else is
// rejected with unsupported_grant_type at the HTTP layer.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// ExchangeRequest carries the parameters of an authorization_code grant.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string
	ClientID     string
	ClientSecret string // required for confidential clients
	RedirectURI  string // optional, must match the code's URI when supplied
	ClientIP     string
}

// RefreshRequest carries the parameters of a refresh_token grant.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string // required for confidential clients
	ClientIP     string
}

// TokenGrant is the outcome of a successful grant, mirroring the RFC 6749
// token response.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
}

// ExchangeAuthorizationCode redeems a single-use authorization code for a
// freshly minted access token and a new refresh token.
//
// The code is first read without consuming it: client, redirect URI, and
// PKCE checks run against the snapshot, so a PKCE failure does not burn the
// code. The atomic redeem decides the winner when two requests race on the
// same code; the loser observes already-used and fails with invalid_grant.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req ExchangeRequest) (*TokenGrant, error) {
	if req.Code == "" {
		return nil, errInvalidRequest("code is required")
	}
	if req.ClientID == "" {
		return nil, errInvalidRequest("client_id is required")
	}

	if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP); err != nil {
		return nil, err
	}

	authCode, err := s.flowStore.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrExpired) {
			_ = s.flowStore.DeleteAuthorizationCode(ctx, req.Code)
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "authorization_code_expired")
			}
			return nil, errInvalidGrant("authorization code is invalid or expired")
		}
		s.Logger.Debug("Authorization code lookup failed",
			"client_id", req.ClientID,
			"code_prefix", safeTruncate(req.Code, 8),
			"error", err)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "invalid_authorization_code")
		}
		return nil, errInvalidGrant("authorization code is invalid or expired")
	}

	if authCode.Used {
		// Replay of a redeemed code indicates possible code theft.
		s.Logger.Error("Authorization code reuse detected",
			"client_id", req.ClientID,
			"code_prefix", safeTruncate(req.Code, 8))
		if s.Auditor != nil {
			s.Auditor.LogCodeReuse(req.ClientID, req.ClientIP)
		}
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordCodeReuseDetected(ctx)
		}
		_ = s.flowStore.DeleteAuthorizationCode(ctx, req.Code)
		return nil, errInvalidGrant("authorization code is invalid or expired")
	}

	if time.Now().After(authCode.ExpiresAt) {
		_ = s.flowStore.DeleteAuthorizationCode(ctx, req.Code)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(authCode.Subject, req.ClientID, req.ClientIP, "authorization_code_expired")
		}
		return nil, errInvalidGrant("authorization code is invalid or expired")
	}

	if authCode.ClientID != req.ClientID {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "client_id_mismatch")
		}
		return nil, errInvalidGrant("authorization code is invalid or expired")
	}

	if req.RedirectURI != "" && req.RedirectURI != authCode.RedirectURI {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(authCode.Subject, req.ClientID, req.ClientIP, "redirect_uri_mismatch")
		}
		return nil, errInvalidGrant("authorization code is invalid or expired")
	}

	if err := ValidatePKCE(req.CodeVerifier, authCode.CodeChallenge); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventPKCEValidationFailed,
				Subject:   authCode.Subject,
				ClientID:  req.ClientID,
				IPAddress: req.ClientIP,
				Details:   map[string]any{"reason": err.Error()},
			})
		}
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordPKCEValidationFailed(ctx, PKCEMethodS256)
		}
		return nil, errInvalidGrant("PKCE validation failed")
	}

	// All checks passed. Consume the code: exactly one concurrent redemption
	// can win this.
	if _, err := s.flowStore.RedeemAuthorizationCode(ctx, req.Code); err != nil {
		if errors.Is(err, storage.ErrAlreadyUsed) {
			if s.Auditor != nil {
				s.Auditor.LogCodeReuse(req.ClientID, req.ClientIP)
			}
			if s.Instrumentation != nil {
				s.Instrumentation.Metrics().RecordCodeReuseDetected(ctx)
			}
		}
		return nil, errInvalidGrant("authorization code is invalid or expired")
	}

	grant, err := s.issueTokens(ctx, authCode.Subject, req.ClientID, authCode.Scopes, authCode.IdentityToken)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.Subject, req.ClientID, req.ClientIP, grant.Scope)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordCodeExchange(ctx, req.ClientID)
	}

	return grant, nil
}

// RefreshAccessToken rotates a refresh token: the presented token is
// consumed atomically and a new access/refresh pair is issued carrying the
// same subject, scopes, and identity token.
func (s *Server) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*TokenGrant, error) {
	if req.RefreshToken == "" {
		return nil, errInvalidRequest("refresh_token is required")
	}
	if req.ClientID == "" {
		return nil, errInvalidRequest("client_id is required")
	}

	if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP); err != nil {
		return nil, err
	}

	// Read first. A client mismatch must not consume someone else's token.
	stored, err := s.tokenStore.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrExpired) {
			_ = s.tokenStore.DeleteRefreshToken(ctx, req.RefreshToken)
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "refresh_token_expired")
			}
			return nil, errInvalidGrant("refresh token is invalid or expired")
		}
		s.Logger.Debug("Refresh token lookup failed",
			"client_id", req.ClientID,
			"token_prefix", safeTruncate(req.RefreshToken, 8),
			"error", err)
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventRefreshTokenReuseDetected,
				ClientID:  req.ClientID,
				IPAddress: req.ClientIP,
			})
		}
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordRefreshReuseDetected(ctx)
		}
		return nil, errInvalidGrant("refresh token is invalid or expired")
	}

	if stored.ClientID != req.ClientID {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(stored.Subject, req.ClientID, req.ClientIP, "refresh_client_mismatch")
		}
		return nil, errInvalidGrant("refresh token is invalid or expired")
	}

	if time.Now().After(stored.ExpiresAt) {
		_ = s.tokenStore.DeleteRefreshToken(ctx, req.RefreshToken)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(stored.Subject, req.ClientID, req.ClientIP, "refresh_token_expired")
		}
		return nil, errInvalidGrant("refresh token is invalid or expired")
	}

	// Rotate: exactly one concurrent redemption can win the delete.
	consumed, err := s.tokenStore.AtomicGetAndDeleteRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordRefreshReuseDetected(ctx)
		}
		return nil, errInvalidGrant("refresh token is invalid or expired")
	}

	grant, err := s.issueTokens(ctx, consumed.Subject, req.ClientID, consumed.Scopes, consumed.IdentityToken)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(consumed.Subject, req.ClientID, req.ClientIP)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordTokenRefresh(ctx, req.ClientID)
	}

	return grant, nil
}

// issueTokens mints a JWT access token, persists its server-side record,
// and stores a fresh refresh token. The identity token is carried forward
// unchanged; it is never re-verified here.
func (s *Server) issueTokens(ctx context.Context, subject, clientID string, scopes []string, identityToken string) (*TokenGrant, error) {
	accessTTL := time.Duration(s.Config.AccessTokenTTL) * time.Second

	signed, expiresAt, err := s.signer.Mint(jwt.MintRequest{
		Subject:  subject,
		ClientID: clientID,
		Scopes:   scopes,
		Audience: s.Config.ResourceIdentifier,
		TTL:      accessTTL,
	})
	if err != nil {
		s.Logger.Error("Failed to mint access token", "client_id", clientID, "error", err)
		return nil, errServerError("failed to mint access token")
	}

	if err := s.tokenStore.SaveAccessToken(ctx, &storage.AccessToken{
		Token:         signed,
		ClientID:      clientID,
		Subject:       subject,
		IdentityToken: identityToken,
		Scopes:        scopes,
		ExpiresAt:     expiresAt,
	}); err != nil {
		s.Logger.Error("Failed to save access token record", "client_id", clientID, "error", err)
		return nil, errServerError("failed to store access token")
	}

	refreshToken := generateRandomToken()
	if err := s.tokenStore.SaveRefreshToken(ctx, &storage.RefreshToken{
		Token:         refreshToken,
		ClientID:      clientID,
		Subject:       subject,
		IdentityToken: identityToken,
		Scopes:        scopes,
		ExpiresAt:     time.Now().Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
	}); err != nil {
		s.Logger.Error("Failed to save refresh token", "client_id", clientID, "error", err)
		return nil, errServerError("failed to store refresh token")
	}

	return &TokenGrant{
		AccessToken:  signed,
		RefreshToken: refreshToken,
		TokenType:    jwt.TokenType,
		ExpiresIn:    s.Config.AccessTokenTTL,
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// authenticateClient checks the client exists and, for confidential
// clients, that the presented secret is valid. Public clients rely on PKCE
// and present no secret.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) error {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Client lookup failed", "client_id", clientID, "error", err)
			return errServerError("client lookup failed")
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, clientIP, "unknown_client")
		}
		return errInvalidClient("client authentication failed")
	}

	if client.ClientType == storage.ClientTypeConfidential {
		if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", clientID, clientIP, "invalid_client_secret")
			}
			return errInvalidClient("client authentication failed")
		}
	}

	return nil
}

// IntrospectionResult is the outcome of token introspection (RFC 7662).
type IntrospectionResult struct {
	Active   bool
	Subject  string
	Scope    string
	ClientID string
	Exp      int64
	Iat      int64
	Iss      string
	Aud      []string
}

// Introspect reports whether a token is an active access token this server
// minted. Signature, issuer, and expiry are verified; the audience is
// reported as-is rather than enforced, since the introspecting party may
// not be the addressed resource.
func (s *Server) Introspect(ctx context.Context, token string) *IntrospectionResult {
	claims, err := s.signer.Verify(token, nil)
	if err != nil {
		return &IntrospectionResult{Active: false}
	}

	result := &IntrospectionResult{
		Active:   true,
		Subject:  claims.Subject,
		Scope:    claims.Scope,
		ClientID: claims.ClientID,
		Iss:      claims.Issuer,
		Aud:      claims.Audience,
	}
	if claims.ExpiresAt != nil {
		result.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		result.Iat = claims.IssuedAt.Unix()
	}
	return result
}

// BridgeResult is the identity bridge response: the upstream identity
// token captured at authorization time, returned verbatim.
type BridgeResult struct {
	BridgedToken string
	ExpiresAt    time.Time
	Subject      string
	Scope        string
}

// BridgeIdentity looks up the caller's access-token record and returns the
// stored identity token. The bearer token must already be verified by the
// middleware; accessToken is the raw JWT string the caller presented.
//
// No freshness check is performed on the bridged token. Callers must
// tolerate receiving an identity token the upstream provider already
// considers expired.
func (s *Server) BridgeIdentity(ctx context.Context, accessToken, clientIP string) (*BridgeResult, error) {
	record, err := s.tokenStore.GetAccessToken(ctx, accessToken)
	if err != nil {
		s.Logger.Debug("Access token record not found for bridge",
			"token_prefix", safeTruncate(accessToken, 8),
			"error", err)
		return nil, errInvalidGrant("no identity is bridged to this token")
	}

	if s.Auditor != nil {
		s.Auditor.LogIdentityBridged(record.Subject, record.ClientID, clientIP)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordIdentityBridged(ctx, record.ClientID)
	}

	return &BridgeResult{
		BridgedToken: record.IdentityToken,
		ExpiresAt:    record.ExpiresAt,
		Subject:      record.Subject,
		Scope:        strings.Join(record.Scopes, " "),
	}, nil
}
