package oauth

// Wire types for the HTTP surface. Field names follow RFC 6749/7662 snake
// case except the bridge response, which keeps its camelCase contract.

// AuthorizeCompleteRequest is the body of POST /authorize/complete, sent
// by the consent UI once the user has authenticated upstream.
type AuthorizeCompleteRequest struct {
	ClientID              string `json:"client_id"`
	RedirectURI           string `json:"redirect_uri"`
	Scope                 string `json:"scope,omitempty"`
	State                 string `json:"state,omitempty"`
	CodeChallenge         string `json:"code_challenge"`
	CodeChallengeMethod   string `json:"code_challenge_method"`
	ExternalIdentityToken string `json:"external_identity_token"`
	ExternalUserID        string `json:"external_user_id,omitempty"`
}

// AuthorizeCompleteResponse is the successful authorization outcome.
type AuthorizeCompleteResponse struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state,omitempty"`
}

// TokenRequest is the body of POST /token. The endpoint accepts both JSON
// and form encoding; this struct covers the JSON shape.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

// TokenResponse is the RFC 6749 token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionRequest is the body of POST /token/introspect.
type IntrospectionRequest struct {
	Token string `json:"token"`
}

// IntrospectionResponse is the RFC 7662 introspection response. All fields
// other than active are omitted for inactive tokens.
type IntrospectionResponse struct {
	Active   bool     `json:"active"`
	Subject  string   `json:"sub,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Exp      int64    `json:"exp,omitempty"`
	Iat      int64    `json:"iat,omitempty"`
	Iss      string   `json:"iss,omitempty"`
	Aud      []string `json:"aud,omitempty"`
}

// BridgeResponse is the identity bridge response: the upstream identity
// token captured at authorization time, returned verbatim.
type BridgeResponse struct {
	BridgedToken string `json:"bridgedToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	Subject      string `json:"subject"`
	Scope        string `json:"scope"`
}

// ClientRegistrationRequest is the RFC 7591 registration request subset
// this server supports.
type ClientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// ClientRegistrationResponse is the RFC 7591 registration response.
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// ServerMetadata is the RFC 8414 authorization server metadata document.
type ServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	JWKSURI                       string   `json:"jwks_uri"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// ErrorResponse is the flat JSON error body used across the wire surface.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
