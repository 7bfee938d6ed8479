// Package jwt mints and verifies the RS256 access tokens issued by the
// authorization server, and exports the signing key set for the JWKS
// endpoint. Access tokens are self-contained: resource servers verify them
// offline against the published key set.
package jwt
