package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations. Callers match these
// with errors.Is to map storage failures onto the OAuth error taxonomy.
var (
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrAlreadyUsed indicates an authorization code has already been
	// redeemed. This is what the loser of a concurrent redemption race
	// observes.
	ErrAlreadyUsed = errors.New("storage: authorization code already used")

	// ErrExpired indicates the entry exists but its expiry has passed.
	ErrExpired = errors.New("storage: entry expired")
)

// Client type values.
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// ClientStore defines the interface for managing registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret against the stored hash
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// FlowStore defines the interface for managing authorization codes.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without
	// consuming it. Returns ErrNotFound if absent, ErrExpired if its
	// expiry has passed.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RedeemAuthorizationCode atomically marks a code as used and removes
	// it from the store, returning the record. Exactly one concurrent
	// caller succeeds; every other caller receives ErrAlreadyUsed or
	// ErrNotFound.
	// SECURITY: This operation MUST be atomic to prevent concurrent code
	// exchange attacks.
	RedeemAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for access-token records and refresh
// tokens. Access-token records are keyed by the JWT string itself; they
// back the identity bridge lookup. All methods accept context.Context.
type TokenStore interface {
	// SaveAccessToken saves an access-token record keyed by the JWT string
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access-token record by the JWT string.
	// Returns ErrNotFound if absent, ErrExpired if its expiry has passed.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access-token record
	DeleteAccessToken(ctx context.Context, token string) error

	// SaveRefreshToken saves a refresh token
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token without consuming it.
	// Returns ErrNotFound if absent, ErrExpired if its expiry has passed.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a
	// refresh token. This is the rotation primitive: exactly one
	// concurrent caller wins; the loser observes ErrNotFound.
	// SECURITY: This operation MUST be atomic to prevent concurrent
	// refresh attacks.
	AtomicGetAndDeleteRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token
	DeleteRefreshToken(ctx context.Context, token string) error
}

// Client represents a registered OAuth client. Records are looked up,
// never mutated after creation.
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientType              string // "public" or "confidential"
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	ClientName              string
	Scopes                  []string
	CreatedAt               time.Time
}

// AuthorizationCode represents an issued authorization code. It is a
// transient handoff artifact, not a credential: it lives for seconds, is
// redeemed at most once, and carries the verified upstream identity token
// verbatim so the token exchange can bridge it forward.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string         // verified external user id
	IdentityToken       string         // upstream identity token, stored verbatim
	IdentityClaims      map[string]any // verified claims snapshot
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// AccessToken is the server-side record behind a minted JWT, keyed by the
// JWT string. The IdentityToken is copied forward unchanged from the
// authorization code or the prior refresh token; it is never refreshed or
// re-validated for freshness. Deletion on expiry is memory reclamation,
// not a security control: the JWT's own exp claim makes the token
// unverifiable at the same moment.
type AccessToken struct {
	Token         string // the JWT string (map key)
	ClientID      string
	Subject       string
	IdentityToken string
	Scopes        []string
	ExpiresAt     time.Time
}

// RefreshToken is a single-use credential replaced on every redemption.
// The IdentityToken is carried forward unchanged across arbitrarily many
// rotations.
type RefreshToken struct {
	Token         string
	ClientID      string
	Subject       string
	IdentityToken string
	Scopes        []string
	ExpiresAt     time.Time
}
