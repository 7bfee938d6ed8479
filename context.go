package oauth

import (
	"context"
)

// Identity is the verified bearer identity the middleware attaches to the
// request context for downstream handlers.
type Identity struct {
	// Token is the raw JWT string the caller presented.
	Token string
	// Subject is the sub claim.
	Subject string
	// ClientID is the client_id claim.
	ClientID string
	// Scopes is the parsed scope list.
	Scopes []string
}

type contextKey int

const identityContextKey contextKey = iota

// ContextWithIdentity returns a context carrying the verified identity.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the verified identity attached by the
// middleware, or nil if the request did not pass through RequireScopes.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey).(*Identity)
	return identity
}
