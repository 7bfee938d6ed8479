package oauth

import (
	"net/http"
	"strings"

	"github.com/Jahnik/mcp2/server"
)

// RequireScopes returns middleware that verifies the bearer token and
// enforces that it carries every required scope. On success the verified
// identity is attached to the request context.
//
// Verification accepts tokens addressed to the server's issuer or its
// configured resource identifier.
func (h *Handler) RequireScopes(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				h.writeOAuthError(w, ErrInvalidToken("Missing Authorization header"))
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				h.writeOAuthError(w, ErrInvalidToken("Invalid Authorization header format"))
				return
			}

			acceptedAudiences := []string{h.server.Config.Issuer}
			if h.server.Config.ResourceIdentifier != h.server.Config.Issuer {
				acceptedAudiences = append(acceptedAudiences, h.server.Config.ResourceIdentifier)
			}

			claims, err := h.server.Signer().Verify(token, acceptedAudiences)
			if err != nil {
				h.logger.Debug("Bearer verification failed", "error", err)
				h.writeOAuthError(w, ErrInvalidToken("Token verification failed"))
				return
			}

			scopes := claims.Scopes()
			if !server.HasAllScopes(scopes, requiredScopes) {
				h.writeInsufficientScopeError(w, requiredScopes, "Token is missing a required scope")
				return
			}

			ctx := ContextWithIdentity(r.Context(), &Identity{
				Token:    token,
				Subject:  claims.Subject,
				ClientID: claims.ClientID,
				Scopes:   scopes,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
