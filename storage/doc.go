// Package storage provides interfaces and types for credential persistence.
//
// The storage package defines the core interfaces used throughout the library:
//   - ClientStore: registered OAuth clients
//   - FlowStore: authorization codes
//   - TokenStore: access-token records and refresh tokens
//
// The engine's security invariants live at this boundary: authorization
// codes are redeemed atomically exactly once, and refresh tokens are
// rotated through an atomic get-and-delete. Implementations must uphold
// both regardless of backend.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development, testing, and
//     single-instance deployments
package storage
