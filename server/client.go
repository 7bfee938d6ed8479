package server

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Jahnik/mcp2/storage"
)

// RegisterClientRequest carries the RFC 7591 registration parameters this
// server supports.
type RegisterClientRequest struct {
	RedirectURIs            []string
	ClientName              string
	Scopes                  []string
	TokenEndpointAuthMethod string // "none" (public) or "client_secret_post"
	ClientIP                string
}

// RegisterClientResult is a successful registration. ClientSecret is only
// set for confidential clients and is the sole time the plaintext secret
// exists; the store keeps a bcrypt hash.
type RegisterClientResult struct {
	ClientID     string
	ClientSecret string
	ClientType   string
	RedirectURIs []string
}

// RegisterClient creates a new client record. Clients registering with
// token_endpoint_auth_method "none" are public and rely on PKCE; any other
// supported method makes the client confidential and a secret is issued.
func (s *Server) RegisterClient(ctx context.Context, req RegisterClientRequest) (*RegisterClientResult, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, errInvalidRequest("at least one redirect_uri is required")
	}
	for _, uri := range req.RedirectURIs {
		if err := ValidateRedirectURIForRegistration(uri); err != nil {
			return nil, errInvalidRequest(err.Error())
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}

	clientType := storage.ClientTypePublic
	var clientSecret, secretHash string

	switch authMethod {
	case "none":
	case "client_secret_post", "client_secret_basic":
		clientType = storage.ClientTypeConfidential
		clientSecret = generateRandomToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			s.Logger.Error("Failed to hash client secret", "error", err)
			return nil, errServerError("failed to register client")
		}
		secretHash = string(hash)
	default:
		return nil, errInvalidRequest("unsupported token_endpoint_auth_method")
	}

	client := &storage.Client{
		ClientID:                generateRandomToken(),
		ClientSecretHash:        secretHash,
		ClientType:              clientType,
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              []string{string(GrantAuthorizationCode), string(GrantRefreshToken)},
		ResponseTypes:           []string{"code"},
		ClientName:              req.ClientName,
		Scopes:                  req.Scopes,
		CreatedAt:               time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		s.Logger.Error("Failed to save client", "error", err)
		return nil, errServerError("failed to register client")
	}

	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, clientType, req.ClientIP)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordClientRegistration(ctx, clientType)
	}

	s.Logger.Info("Client registered",
		"client_id", client.ClientID,
		"client_type", clientType)

	return &RegisterClientResult{
		ClientID:     client.ClientID,
		ClientSecret: clientSecret,
		ClientType:   clientType,
		RedirectURIs: req.RedirectURIs,
	}, nil
}
