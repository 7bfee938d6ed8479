// Package mock provides a mock implementation of the Verifier interface
// for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/Jahnik/mcp2/providers"
)

// Verifier is a mock implementation of providers.Verifier for testing.
type Verifier struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// VerifyFunc is called when Verify() is invoked
	VerifyFunc func(ctx context.Context, identityToken string) (*providers.Identity, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.Mutex
}

// NewVerifier creates a new mock verifier with default implementations
// that accept any non-empty token for subject "mock-user-123".
func NewVerifier() *Verifier {
	return &Verifier{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		VerifyFunc: func(_ context.Context, identityToken string) (*providers.Identity, error) {
			if identityToken == "" {
				return nil, fmt.Errorf("empty identity token")
			}
			return &providers.Identity{
				Subject: "mock-user-123",
				Email:   "mock@example.com",
				Name:    "Mock User",
				Claims: map[string]any{
					"sub":   "mock-user-123",
					"email": "mock@example.com",
				},
			}, nil
		},
	}
}

// Name returns the verifier name.
func (m *Verifier) Name() string {
	// LOCK PATTERN: lock only to update the counter and read the function
	// reference; release before calling the user function so it may call
	// other mock methods without deadlocking.
	m.mu.Lock()
	m.CallCounts["Name"]++
	fn := m.NameFunc
	m.mu.Unlock()

	if fn == nil {
		return "mock"
	}
	return fn()
}

// Verify checks an identity token and returns the verified identity.
func (m *Verifier) Verify(ctx context.Context, identityToken string) (*providers.Identity, error) {
	m.mu.Lock()
	m.CallCounts["Verify"]++
	fn := m.VerifyFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("VerifyFunc not configured")
	}
	return fn(ctx, identityToken)
}
