package providers

import (
	"context"
)

// Verifier verifies an externally issued identity token. It is the only
// external collaborator the token engine depends on: verification failure
// is a terminal failure of the authorization attempt — there is no retry
// or fallback path.
type Verifier interface {
	// Name returns the verifier name (e.g., "oidc", "mock")
	Name() string

	// Verify checks an identity token and returns the verified identity.
	// The token string itself is not returned; callers that need it keep
	// the value they passed in.
	Verify(ctx context.Context, identityToken string) (*Identity, error)
}

// Identity represents a verified identity from an external provider.
type Identity struct {
	// Subject is the unique user identifier asserted by the provider
	Subject string

	// Email is the user's email address, if the provider asserts one
	Email string

	// Name is the user's display name, if the provider asserts one
	Name string

	// Claims is the full verified claims snapshot. It is stored against
	// the authorization code exactly as verified here.
	Claims map[string]any
}
