package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jahnik/mcp2/instrumentation"
	"github.com/Jahnik/mcp2/security"
	"github.com/Jahnik/mcp2/server"
)

const contentTypeJSON = "application/json"

// Handler is a thin HTTP adapter for the authorization server engine.
// It parses requests, delegates to the server package, and maps engine
// errors onto the OAuth wire taxonomy.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers the full wire surface on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/authorize/complete", h.ServeAuthorizeComplete)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/token/introspect", h.ServeIntrospection)
	mux.Handle("/token/bridge", h.RequireScopes(server.BridgeScope)(http.HandlerFunc(h.ServeBridge)))
	mux.HandleFunc("/register", h.ServeClientRegistration)
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/jwks.json", h.ServeJWKS)
}

// ServeAuthorizeComplete handles POST /authorize/complete: the consent UI
// posts the client's authorization parameters together with the upstream
// identity token it obtained, and receives a single-use code.
func (h *Handler) ServeAuthorizeComplete(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.authorize_complete")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AuthorizeCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.finishRequest(ctx, span, "authorize_complete", http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request body"))
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	result, err := h.server.CompleteAuthorization(ctx, server.AuthorizeRequest{
		ClientID:              req.ClientID,
		RedirectURI:           req.RedirectURI,
		Scope:                 req.Scope,
		State:                 req.State,
		CodeChallenge:         req.CodeChallenge,
		CodeChallengeMethod:   req.CodeChallengeMethod,
		ExternalIdentityToken: req.ExternalIdentityToken,
		ExternalUserID:        req.ExternalUserID,
		ClientIP:              clientIP,
	})
	if err != nil {
		instrumentation.RecordError(span, err)

		// After identity and redirect URI are established, the engine wraps
		// failures so they can surface on the confirmed redirect URI.
		var redirectErr *server.RedirectError
		if errors.As(err, &redirectErr) {
			h.finishRequest(ctx, span, "authorize_complete", http.StatusFound, startTime)
			h.redirectWithError(w, r, redirectErr)
			return
		}

		status := h.writeEngineError(w, err)
		h.finishRequest(ctx, span, "authorize_complete", status, startTime)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, req.ClientID))
	instrumentation.SetSpanSuccess(span)
	h.finishRequest(ctx, span, "authorize_complete", http.StatusOK, startTime)

	h.writeJSON(w, http.StatusOK, AuthorizeCompleteResponse{
		Code:        result.Code,
		RedirectURI: result.RedirectURI,
		State:       result.State,
	})
}

// ServeToken handles POST /token for both supported grants. Standard OAuth
// clients send form encoding; JSON bodies are accepted as well.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.token")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.parseTokenRequest(r)
	if err != nil {
		h.finishRequest(ctx, span, "token", http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
		attribute.String(instrumentation.AttrClientID, req.ClientID),
	)

	var grant *server.TokenGrant
	switch server.GrantType(req.GrantType) {
	case server.GrantAuthorizationCode:
		grant, err = h.server.ExchangeAuthorizationCode(ctx, server.ExchangeRequest{
			Code:         req.Code,
			CodeVerifier: req.CodeVerifier,
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			RedirectURI:  req.RedirectURI,
			ClientIP:     clientIP,
		})
	case server.GrantRefreshToken:
		grant, err = h.server.RefreshAccessToken(ctx, server.RefreshRequest{
			RefreshToken: req.RefreshToken,
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			ClientIP:     clientIP,
		})
	default:
		h.finishRequest(ctx, span, "token", http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "unsupported grant type")
		h.writeOAuthError(w, ErrUnsupportedGrantType(fmt.Sprintf("Grant type %q not supported", req.GrantType)))
		return
	}

	if err != nil {
		h.logger.Warn("Token grant failed",
			"grant_type", req.GrantType,
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", err)
		instrumentation.RecordError(span, err)
		status := h.writeEngineError(w, err)
		h.finishRequest(ctx, span, "token", status, startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.finishRequest(ctx, span, "token", http.StatusOK, startTime)
	h.writeTokenResponse(w, grant)
}

// ServeIntrospection handles POST /token/introspect (RFC 7662).
//
// The endpoint is deliberately unauthenticated. Anyone holding a token
// string can learn whether it is active and read its claims; deployments
// that need confidentiality here must front this endpoint themselves.
func (h *Handler) ServeIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.introspect")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := h.parseIntrospectionToken(r)
	if token == "" {
		h.finishRequest(ctx, span, "introspect", http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("token is required"))
		return
	}

	result := h.server.Introspect(ctx, token)

	instrumentation.SetSpanSuccess(span)
	h.finishRequest(ctx, span, "introspect", http.StatusOK, startTime)

	if !result.Active {
		h.writeJSON(w, http.StatusOK, IntrospectionResponse{Active: false})
		return
	}
	h.writeJSON(w, http.StatusOK, IntrospectionResponse{
		Active:   true,
		Subject:  result.Subject,
		Scope:    result.Scope,
		ClientID: result.ClientID,
		Exp:      result.Exp,
		Iat:      result.Iat,
		Iss:      result.Iss,
		Aud:      result.Aud,
	})
}

// ServeBridge handles POST /token/bridge. The route is wrapped by
// RequireScopes with the bridge scope, so the identity in the context is
// already verified; the lookup keys on the raw token string.
func (h *Handler) ServeBridge(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.bridge")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity := IdentityFromContext(ctx)
	if identity == nil {
		h.finishRequest(ctx, span, "bridge", http.StatusUnauthorized, startTime)
		h.writeOAuthError(w, ErrInvalidToken("Missing verified identity"))
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	result, err := h.server.BridgeIdentity(ctx, identity.Token, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		// The token verified but its record is gone: swept after expiry or
		// never minted here. Not-found on the caller's own credential.
		h.finishRequest(ctx, span, "bridge", http.StatusNotFound, startTime)
		h.writeOAuthError(w, NewError(ErrorCodeInvalidGrant, "No identity is bridged to this token", http.StatusNotFound))
		return
	}

	instrumentation.AddFlowAttributes(span, identity.ClientID, identity.Subject, result.Scope)
	instrumentation.SetSpanSuccess(span)
	h.finishRequest(ctx, span, "bridge", http.StatusOK, startTime)

	h.writeJSON(w, http.StatusOK, BridgeResponse{
		BridgedToken: result.BridgedToken,
		ExpiresAt:    result.ExpiresAt.Unix(),
		Subject:      result.Subject,
		Scope:        result.Scope,
	})
}

// ServeClientRegistration handles POST /register (RFC 7591 subset).
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.register")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.finishRequest(ctx, span, "register", http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request body"))
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	result, err := h.server.RegisterClient(ctx, server.RegisterClientRequest{
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		Scopes:                  strings.Fields(req.Scope),
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		ClientIP:                clientIP,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		status := h.writeEngineError(w, err)
		h.finishRequest(ctx, span, "register", status, startTime)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.finishRequest(ctx, span, "register", http.StatusCreated, startTime)

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}
	h.writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:                result.ClientID,
		ClientSecret:            result.ClientSecret,
		RedirectURIs:            result.RedirectURIs,
		TokenEndpointAuthMethod: authMethod,
	})
}

// ServeAuthorizationServerMetadata handles the RFC 8414 discovery document.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := strings.TrimSuffix(h.server.Config.Issuer, "/")
	h.writeJSON(w, http.StatusOK, ServerMetadata{
		Issuer:                        issuer,
		AuthorizationEndpoint:         issuer + "/authorize/complete",
		TokenEndpoint:                 issuer + "/token",
		IntrospectionEndpoint:         issuer + "/token/introspect",
		RegistrationEndpoint:          issuer + "/register",
		JWKSURI:                       issuer + "/.well-known/jwks.json",
		ScopesSupported:               h.server.Config.SupportedScopes,
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{string(server.GrantAuthorizationCode), string(server.GrantRefreshToken)},
		CodeChallengeMethodsSupported: []string{server.PKCEMethodS256},
	})
}

// ServeJWKS handles the public key set document.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	set, err := h.server.Signer().JWKS()
	if err != nil {
		h.logger.Error("Failed to build JWKS", "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to build key set"))
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	_ = json.NewEncoder(w).Encode(set)
}

// parseTokenRequest reads a token request from either a JSON body or form
// encoding, depending on Content-Type.
func (h *Handler) parseTokenRequest(r *http.Request) (*TokenRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeJSON) {
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req := &TokenRequest{
		GrantType:    r.FormValue("grant_type"),
		Code:         r.FormValue("code"),
		CodeVerifier: r.FormValue("code_verifier"),
		RefreshToken: r.FormValue("refresh_token"),
		ClientID:     r.FormValue("client_id"),
		ClientSecret: r.FormValue("client_secret"),
		RedirectURI:  r.FormValue("redirect_uri"),
	}

	// RFC 6749 2.3.1: confidential clients may use HTTP Basic auth instead
	// of body parameters.
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		req.ClientID = basicID
		req.ClientSecret = basicSecret
	}

	return req, nil
}

func (h *Handler) parseIntrospectionToken(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeJSON) {
		var req IntrospectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return ""
		}
		return req.Token
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.FormValue("token")
}

// redirectWithError surfaces a post-identity failure on the confirmed
// redirect URI with error/error_description query parameters.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, redirectErr *server.RedirectError) {
	target, err := url.Parse(redirectErr.RedirectURI)
	if err != nil {
		// The URI was validated before the error was wrapped; a parse
		// failure here means a bug, fall back to a direct error.
		h.writeError(w, redirectErr.Err.Code, redirectErr.Err.Description, redirectErr.Err.Status)
		return
	}

	query := target.Query()
	query.Set("error", redirectErr.Err.Code)
	query.Set("error_description", redirectErr.Err.Description)
	if redirectErr.State != "" {
		query.Set("state", redirectErr.State)
	}
	target.RawQuery = query.Encode()

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// writeEngineError maps an engine error onto the wire and returns the HTTP
// status used. Unrecognized errors are masked as server_error.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) int {
	var engineErr *server.Error
	if errors.As(err, &engineErr) {
		h.writeError(w, engineErr.Code, engineErr.Description, engineErr.Status)
		return engineErr.Status
	}
	e := ErrServerError("Internal server error")
	h.writeOAuthError(w, e)
	return e.Status
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, grant *server.TokenGrant) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TokenType:    grant.TokenType,
		ExpiresIn:    grant.ExpiresIn,
		Scope:        grant.Scope,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", formatWWWAuthenticate("", code, description))
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeOAuthError writes a constructed OAuth error onto the wire.
func (h *Handler) writeOAuthError(w http.ResponseWriter, e *Error) {
	h.writeError(w, e.Code, e.Description, e.Status)
}

// writeInsufficientScopeError writes a 403 whose challenge names the
// scopes the resource requires (RFC 6750 3.1).
func (h *Handler) writeInsufficientScopeError(w http.ResponseWriter, requiredScopes []string, description string) {
	e := ErrInsufficientScope(description)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	scope := strings.Join(requiredScopes, " ")
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(scope, e.Code, e.Description))
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// formatWWWAuthenticate formats the WWW-Authenticate header value per
// RFC 6750. Quoted values are escaped following HTTP quoted-string rules.
func formatWWWAuthenticate(scope, errCode, errorDesc string) string {
	var params []string
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, escapeQuoted(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, escapeQuoted(errCode)))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, escapeQuoted(errorDesc)))
	}
	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}

func escapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// finishRequest stamps HTTP attributes onto the span and records request
// metrics. All instrumented endpoints are POST-only.
func (h *Handler) finishRequest(ctx context.Context, span trace.Span, endpoint string, status int, startTime time.Time) {
	instrumentation.AddHTTPAttributes(span, http.MethodPost, endpoint, status)
	if h.server.Instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, http.MethodPost, endpoint, status, durationMs)
}
