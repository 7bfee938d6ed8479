// Package memory provides an in-memory implementation of the storage
// interfaces.
//
// This package implements ClientStore, FlowStore, and TokenStore using Go
// maps guarded by a single mutex. It is suitable for development, testing,
// and single-instance deployments. State is not persisted: a process
// restart discards every code and token, and callers must tolerate
// re-authentication afterwards.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic single-use code redemption and refresh-token rotation
//   - Periodic sweep of expired entries (default every 5 minutes)
//   - Identity-token encryption at rest via security.Encryptor
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := server.New(verifier, signer, store, store, store, config, logger)
package memory
