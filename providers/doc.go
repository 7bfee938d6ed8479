// Package providers defines the identity-verifier interface and the
// Identity type for verified user information.
//
// The authorization server never owns user credentials: a caller completes
// an authorization by presenting a token issued by an external identity
// provider, and a Verifier implementation decides whether that token is
// genuine. The verified subject, claims snapshot, and the original token
// string are then bound to the issued authorization code.
//
// Implementations are provided in subpackages:
//   - providers/oidc: verifies identity tokens (JWTs) against a remote
//     JWKS published by an OpenID Connect provider
//   - providers/mock: mock verifier for testing
package providers
