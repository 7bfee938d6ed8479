// Package server implements the authorization and token issuance engine:
// authorization completion against a verified external identity, code
// exchange and refresh-token rotation, scope governance, PKCE validation,
// introspection, and the identity bridge lookup.
//
// The engine is transport-agnostic. The root package adapts it to HTTP.
package server
