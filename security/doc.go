// Package security provides security-related functionality for the
// authorization server: audit logging with PII protection, encryption of
// stored identity tokens, client IP extraction, and secure response headers.
//
// # Audit Logging
//
// The Auditor emits structured security events through slog. User
// identifiers are hashed before logging so that audit trails never carry
// raw subjects. Event type constants are defined alongside the Auditor so
// call sites cannot drift apart in naming.
//
// # Identity Token Encryption
//
// Upstream identity tokens are held verbatim for the lifetime of the codes
// and tokens that carry them. The Encryptor wraps them in AES-256-GCM
// before they reach the store, so a memory dump or a future persistent
// backend never exposes raw upstream credentials. With no key configured
// the Encryptor is a transparent pass-through.
package security
