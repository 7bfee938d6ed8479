package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Jahnik/mcp2/security"
	"github.com/Jahnik/mcp2/storage"
)

// AuthorizeRequest carries the parameters of a completed authorization:
// the consent UI calls in with the client's original request parameters
// plus the identity token it obtained from the upstream provider.
type AuthorizeRequest struct {
	ClientID              string
	RedirectURI           string
	Scope                 string // space-separated, optional
	State                 string
	CodeChallenge         string
	CodeChallengeMethod   string
	ExternalIdentityToken string
	ExternalUserID        string // optional, cross-checked against the verified subject
	ClientIP              string
}

// AuthorizeResult is the successful outcome of an authorization: a
// single-use code the client redeems at the token endpoint.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
	State       string
}

// CompleteAuthorization validates an authorization request, verifies the
// supplied identity token, and issues a single-use authorization code
// bound to the verified identity.
//
// Failures before both the identity and the redirect URI are established
// return a plain *Error; there is nowhere safe to redirect to. Failures
// after that point return a *RedirectError so the HTTP layer can surface
// them on the confirmed redirect URI.
func (s *Server) CompleteAuthorization(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, errInvalidRequest("client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, errInvalidRequest("redirect_uri is required")
	}
	if req.CodeChallenge == "" {
		return nil, errInvalidRequest("code_challenge is required (PKCE is mandatory)")
	}
	if req.CodeChallengeMethod != PKCEMethodS256 {
		return nil, errInvalidRequest("code_challenge_method must be S256")
	}
	if req.ExternalIdentityToken == "" {
		return nil, errInvalidRequest("external_identity_token is required")
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Client lookup failed", "client_id", req.ClientID, "error", err)
			return nil, errServerError("client lookup failed")
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "unknown_client")
		}
		return nil, errInvalidClient("unknown client")
	}

	if !clientHasRedirectURI(client, req.RedirectURI) {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventInvalidRedirect,
				ClientID:  req.ClientID,
				IPAddress: req.ClientIP,
			})
		}
		return nil, errInvalidClient("redirect_uri is not registered for this client")
	}

	identity, err := s.verifier.Verify(ctx, req.ExternalIdentityToken)
	if err != nil {
		s.Logger.Debug("Identity verification failed",
			"client_id", req.ClientID,
			"provider", s.verifier.Name(),
			"error", err)
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventIdentityVerificationFailed,
				ClientID:  req.ClientID,
				IPAddress: req.ClientIP,
				Details:   map[string]any{"provider": s.verifier.Name()},
			})
		}
		return nil, errAccessDenied("identity verification failed")
	}

	if req.ExternalUserID != "" && req.ExternalUserID != identity.Subject {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(identity.Subject, req.ClientID, req.ClientIP, "external_user_id_mismatch")
		}
		return nil, errAccessDenied("external_user_id does not match the verified identity")
	}

	// Identity and redirect URI are both established. Failures from here on
	// are redirectable.

	finalScopes := ComputeFinalScopes(ParseScopes(req.Scope), s.Config.SupportedScopes)

	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              finalScopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Subject:             identity.Subject,
		IdentityToken:       req.ExternalIdentityToken,
		IdentityClaims:      identity.Claims,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		s.Logger.Error("Failed to save authorization code", "client_id", req.ClientID, "error", err)
		return nil, &RedirectError{
			RedirectURI: req.RedirectURI,
			State:       req.State,
			Err:         errServerError("failed to store authorization code"),
		}
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(identity.Subject, req.ClientID, req.ClientIP, strings.Join(finalScopes, " "))
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordCodeIssued(ctx, req.ClientID)
	}

	s.Logger.Info("Authorization code issued",
		"client_id", req.ClientID,
		"code_prefix", safeTruncate(authCode.Code, 8))

	return &AuthorizeResult{
		Code:        authCode.Code,
		RedirectURI: req.RedirectURI,
		State:       req.State,
	}, nil
}
