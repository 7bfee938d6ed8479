package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Jahnik/mcp2/instrumentation"
	"github.com/Jahnik/mcp2/security"
	"github.com/Jahnik/mcp2/storage"
)

// DefaultSweepInterval is how often the background sweep removes expired
// entries. Expiry is always enforced at read time as well; the sweep only
// reclaims memory.
const DefaultSweepInterval = 5 * time.Minute

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	authCodes     map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// Identity-token encryption at rest (optional)
	encryptor *security.Encryptor

	// Instrumentation (optional)
	instrumentation *instrumentation.Instrumentation

	// Atomic counters for metrics (lock-free access during collection)
	codesCountAtomic         atomic.Int64
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	clientsCountAtomic       atomic.Int64

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default sweep interval.
func New() *Store {
	return NewWithInterval(DefaultSweepInterval)
}

// NewWithInterval creates a new in-memory store with a custom sweep
// interval. If sweepInterval is 0 or negative, the default is used.
func NewWithInterval(sweepInterval time.Duration) *Store {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	s := &Store{
		clients:       make(map[string]*storage.Client),
		authCodes:     make(map[string]*storage.AuthorizationCode),
		accessTokens:  make(map[string]*storage.AccessToken),
		refreshTokens: make(map[string]*storage.RefreshToken),
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		logger:        slog.Default(),
	}

	go s.sweepLoop()

	return s
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables identity-token encryption at rest.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
}

// SetInstrumentation enables storage metrics. Registers observable gauges
// for collection sizes.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.instrumentation = inst
	inst.RegisterStorageGauges(
		func() int64 { return s.codesCountAtomic.Load() },
		func() int64 { return s.accessTokensCountAtomic.Load() },
		func() int64 { return s.refreshTokensCountAtomic.Load() },
		func() int64 { return s.clientsCountAtomic.Load() },
	)
}

// Stop stops the background sweep goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
}

// ==================== ClientStore ====================

// SaveClient saves a registered client.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[client.ClientID] = &c
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	c := *client
	return &c, nil
}

// ValidateClientSecret validates a client's secret against the stored
// bcrypt hash using constant-time comparison.
func (s *Store) ValidateClientSecret(_ context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		return storage.ErrNotFound
	}
	if client.ClientSecretHash == "" {
		return fmt.Errorf("client %s has no secret (public client)", clientID)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return fmt.Errorf("invalid client secret")
	}
	return nil
}

// ListClients lists all registered clients.
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		c := *client
		clients = append(clients, &c)
	}
	return clients, nil
}

// ==================== FlowStore ====================

// SaveAuthorizationCode saves an issued authorization code. The identity
// token is encrypted at rest if an encryptor is configured.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	defer s.recordOp(ctx, "save_authorization_code", time.Now(), &err)

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code is required")
	}

	c := *code
	if s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(c.IdentityToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt identity token: %w", err)
		}
		c.IdentityToken = encrypted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCodes[c.Code] = &c
	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// Expired codes are reported as storage.ErrExpired.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	defer s.recordOp(ctx, "get_authorization_code", time.Now(), &err)

	s.mu.RLock()
	entry, ok := s.authCodes[code]
	if !ok {
		s.mu.RUnlock()
		return nil, storage.ErrNotFound
	}
	// Copy while the lock is held; RedeemAuthorizationCode mutates the
	// shared record under the write lock.
	c := *entry
	s.mu.RUnlock()

	if time.Now().After(c.ExpiresAt) {
		return nil, storage.ErrExpired
	}

	return s.decryptCode(&c)
}

// RedeemAuthorizationCode atomically marks a code as used and removes it
// from the store. The mark and the delete happen under a single critical
// section so that exactly one of any number of concurrent redemptions
// succeeds.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	defer s.recordOp(ctx, "redeem_authorization_code", time.Now(), &err)

	s.mu.Lock()
	entry, ok := s.authCodes[code]
	if !ok {
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	if entry.Used {
		s.mu.Unlock()
		return nil, storage.ErrAlreadyUsed
	}
	entry.Used = true
	c := *entry
	delete(s.authCodes, code)
	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.mu.Unlock()

	return s.decryptCode(&c)
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.authCodes, code)
	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	return nil
}

// decryptCode decrypts the identity token of a copy the caller owns.
func (s *Store) decryptCode(c *storage.AuthorizationCode) (*storage.AuthorizationCode, error) {
	if s.encryptor != nil {
		decrypted, err := s.encryptor.Decrypt(c.IdentityToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt identity token: %w", err)
		}
		c.IdentityToken = decrypted
	}
	return c, nil
}

// ==================== TokenStore ====================

// SaveAccessToken saves an access-token record keyed by the JWT string.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	defer s.recordOp(ctx, "save_access_token", time.Now(), &err)

	if token == nil || token.Token == "" {
		return fmt.Errorf("access token is required")
	}

	t := *token
	if s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(t.IdentityToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt identity token: %w", err)
		}
		t.IdentityToken = encrypted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens[t.Token] = &t
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	return nil
}

// GetAccessToken retrieves an access-token record by the JWT string.
// Expired records are reported as storage.ErrExpired.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	defer s.recordOp(ctx, "get_access_token", time.Now(), &err)

	s.mu.RLock()
	entry, ok := s.accessTokens[token]
	if !ok {
		s.mu.RUnlock()
		return nil, storage.ErrNotFound
	}
	t := *entry
	s.mu.RUnlock()

	if time.Now().After(t.ExpiresAt) {
		return nil, storage.ErrExpired
	}

	if s.encryptor != nil {
		decrypted, err := s.encryptor.Decrypt(t.IdentityToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt identity token: %w", err)
		}
		t.IdentityToken = decrypted
	}
	return &t, nil
}

// DeleteAccessToken removes an access-token record.
func (s *Store) DeleteAccessToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	return nil
}

// SaveRefreshToken saves a refresh token.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	defer s.recordOp(ctx, "save_refresh_token", time.Now(), &err)

	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token is required")
	}

	t := *token
	if s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(t.IdentityToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt identity token: %w", err)
		}
		t.IdentityToken = encrypted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens[t.Token] = &t
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
// Expired tokens are reported as storage.ErrExpired.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	defer s.recordOp(ctx, "get_refresh_token", time.Now(), &err)

	s.mu.RLock()
	entry, ok := s.refreshTokens[token]
	if !ok {
		s.mu.RUnlock()
		return nil, storage.ErrNotFound
	}
	t := *entry
	s.mu.RUnlock()

	if time.Now().After(t.ExpiresAt) {
		return nil, storage.ErrExpired
	}

	return s.decryptRefreshToken(&t)
}

// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a
// refresh token. Exactly one of any number of concurrent callers receives
// the record; every other caller observes ErrNotFound.
func (s *Store) AtomicGetAndDeleteRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	defer s.recordOp(ctx, "redeem_refresh_token", time.Now(), &err)

	s.mu.Lock()
	entry, ok := s.refreshTokens[token]
	if !ok {
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	t := *entry
	delete(s.refreshTokens, token)
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.mu.Unlock()

	return s.decryptRefreshToken(&t)
}

// DeleteRefreshToken removes a refresh token.
func (s *Store) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	return nil
}

// decryptRefreshToken decrypts the identity token of a copy the caller owns.
func (s *Store) decryptRefreshToken(t *storage.RefreshToken) (*storage.RefreshToken, error) {
	if s.encryptor != nil {
		decrypted, err := s.encryptor.Decrypt(t.IdentityToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt identity token: %w", err)
		}
		t.IdentityToken = decrypted
	}
	return t, nil
}

// recordOp reports a storage-operation metric when instrumentation is set.
func (s *Store) recordOp(ctx context.Context, operation string, start time.Time, errp *error) {
	if s.instrumentation == nil {
		return
	}
	result := "success"
	if *errp != nil {
		result = "error"
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

// ==================== Sweep ====================

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

// sweep deletes every entry whose expiry has passed. Clients have no
// expiry and are never swept.
func (s *Store) sweep() {
	now := time.Now()

	s.mu.Lock()

	var codes, access, refresh int
	for code, entry := range s.authCodes {
		if now.After(entry.ExpiresAt) {
			delete(s.authCodes, code)
			codes++
		}
	}
	for token, entry := range s.accessTokens {
		if now.After(entry.ExpiresAt) {
			delete(s.accessTokens, token)
			access++
		}
	}
	for token, entry := range s.refreshTokens {
		if now.After(entry.ExpiresAt) {
			delete(s.refreshTokens, token)
			refresh++
		}
	}

	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))

	s.mu.Unlock()

	if codes+access+refresh > 0 {
		s.logger.Debug("Swept expired entries",
			"authorization_codes", codes,
			"access_tokens", access,
			"refresh_tokens", refresh)
	}
}
