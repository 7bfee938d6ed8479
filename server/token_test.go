package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Jahnik/mcp2/internal/testutil"
	"github.com/Jahnik/mcp2/storage"
)

// issueCode drives a fresh authorization and returns the code with its
// matching PKCE pair.
func issueCode(t *testing.T, setup *testSetup, clientID string) (string, testutil.PKCEPair) {
	t.Helper()
	pair := testutil.GeneratePKCEPair()
	code := setup.authorize(t, clientID, "https://client.example/cb", "read", "upstream-token", pair)
	return code, pair
}

func TestExchangeAuthorizationCode(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	grant, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code:         code,
		CodeVerifier: pair.Verifier,
		ClientID:     "client-1",
		RedirectURI:  "https://client.example/cb",
	})
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode: %v", err)
	}

	if grant.TokenType != "Bearer" {
		t.Errorf("token type = %q", grant.TokenType)
	}
	if grant.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d", grant.ExpiresIn)
	}
	if grant.RefreshToken == "" {
		t.Error("no refresh token issued")
	}

	claims, err := setup.signer.Verify(grant.AccessToken, []string{testIssuer})
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if claims.Subject != "mock-user-123" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("client_id = %q", claims.ClientID)
	}
	if !containsScope(claims.Scopes(), BridgeScope) {
		t.Errorf("scope %q missing %s", claims.Scope, BridgeScope)
	}

	record, err := setup.store.GetAccessToken(context.Background(), grant.AccessToken)
	if err != nil {
		t.Fatalf("access token record not stored: %v", err)
	}
	if record.IdentityToken != "upstream-token" {
		t.Errorf("identity token = %q", record.IdentityToken)
	}
}

func TestExchangeAuthorizationCodeSingleUse(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	req := ExchangeRequest{Code: code, CodeVerifier: pair.Verifier, ClientID: "client-1"}
	if _, err := setup.server.ExchangeAuthorizationCode(context.Background(), req); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err := setup.server.ExchangeAuthorizationCode(context.Background(), req)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCodeConcurrent(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	const workers = 20
	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
				Code:         code,
				CodeVerifier: pair.Verifier,
				ClientID:     "client-1",
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("concurrent exchanges succeeded %d times, want exactly 1", got)
	}
}

func TestExchangeExpiredCode(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	pair := testutil.GeneratePKCEPair()

	expired := testutil.NewTestAuthorizationCode("expired-code", "client-1", "https://client.example/cb",
		pair.Challenge, "user-1", "upstream-token")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := setup.store.SaveAuthorizationCode(context.Background(), expired); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	_, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code:         "expired-code",
		CodeVerifier: pair.Verifier,
		ClientID:     "client-1",
	})
	assertErrorCode(t, err, ErrorCodeInvalidGrant)

	// The expired code is purged on sight.
	if _, err := setup.store.GetAuthorizationCode(context.Background(), "expired-code"); err == nil {
		t.Error("expired code still in store")
	}
}

func TestExchangeClientMismatch(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	setup.registerClient(t, "client-2", "https://other.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	_, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code:         code,
		CodeVerifier: pair.Verifier,
		ClientID:     "client-2",
	})
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestExchangeRedirectMismatch(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	_, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code:         code,
		CodeVerifier: pair.Verifier,
		ClientID:     "client-1",
		RedirectURI:  "https://client.example/other",
	})
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestExchangePKCEFailureDoesNotConsumeCode(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	wrong := testutil.GeneratePKCEPair()
	_, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code:         code,
		CodeVerifier: wrong.Verifier,
		ClientID:     "client-1",
	})
	assertErrorCode(t, err, ErrorCodeInvalidGrant)

	// The legitimate client can still redeem with the correct verifier.
	if _, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code:         code,
		CodeVerifier: pair.Verifier,
		ClientID:     "client-1",
	}); err != nil {
		t.Fatalf("retry with correct verifier failed: %v", err)
	}
}

func TestRefreshAccessTokenRotation(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	first, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code: code, CodeVerifier: pair.Verifier, ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	second, err := setup.server.RefreshAccessToken(context.Background(), RefreshRequest{
		RefreshToken: first.RefreshToken,
		ClientID:     "client-1",
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if second.AccessToken == first.AccessToken {
		t.Error("access token was not replaced")
	}
	if second.Scope != first.Scope {
		t.Errorf("scope changed across rotation: %q != %q", second.Scope, first.Scope)
	}

	// The identity token rides along unchanged.
	record, err := setup.store.GetAccessToken(context.Background(), second.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if record.IdentityToken != "upstream-token" {
		t.Errorf("identity token = %q after rotation", record.IdentityToken)
	}

	// The consumed refresh token is gone.
	_, err = setup.server.RefreshAccessToken(context.Background(), RefreshRequest{
		RefreshToken: first.RefreshToken,
		ClientID:     "client-1",
	})
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshAccessTokenConcurrent(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	grant, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code: code, CodeVerifier: pair.Verifier, ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	const workers = 20
	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := setup.server.RefreshAccessToken(context.Background(), RefreshRequest{
				RefreshToken: grant.RefreshToken,
				ClientID:     "client-1",
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("concurrent refreshes succeeded %d times, want exactly 1", got)
	}
}

func TestRefreshClientMismatchDoesNotConsume(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	setup.registerClient(t, "client-2", "https://other.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	grant, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code: code, CodeVerifier: pair.Verifier, ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	_, err = setup.server.RefreshAccessToken(context.Background(), RefreshRequest{
		RefreshToken: grant.RefreshToken,
		ClientID:     "client-2",
	})
	assertErrorCode(t, err, ErrorCodeInvalidGrant)

	// The rightful client still holds a valid token.
	if _, err := setup.server.RefreshAccessToken(context.Background(), RefreshRequest{
		RefreshToken: grant.RefreshToken,
		ClientID:     "client-1",
	}); err != nil {
		t.Fatalf("legitimate refresh failed after mismatch attempt: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")

	if err := setup.store.SaveRefreshToken(context.Background(), &storage.RefreshToken{
		Token:     "stale-refresh",
		ClientID:  "client-1",
		Subject:   "user-1",
		Scopes:    []string{"read"},
		ExpiresAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("SaveRefreshToken: %v", err)
	}

	_, err := setup.server.RefreshAccessToken(context.Background(), RefreshRequest{
		RefreshToken: "stale-refresh",
		ClientID:     "client-1",
	})
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestConfidentialClientAuthentication(t *testing.T) {
	setup := newTestSetup(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	client := testutil.NewTestClient("conf-client", "https://client.example/cb")
	client.ClientType = storage.ClientTypeConfidential
	client.ClientSecretHash = string(hash)
	client.TokenEndpointAuthMethod = "client_secret_post"
	if err := setup.store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	code, pair := issueCode(t, setup, "conf-client")

	_, err = setup.server.ExchangeAuthorizationCode(ctx, ExchangeRequest{
		Code:         code,
		CodeVerifier: pair.Verifier,
		ClientID:     "conf-client",
		ClientSecret: "wrong",
	})
	assertErrorCode(t, err, ErrorCodeInvalidClient)

	if _, err := setup.server.ExchangeAuthorizationCode(ctx, ExchangeRequest{
		Code:         code,
		CodeVerifier: pair.Verifier,
		ClientID:     "conf-client",
		ClientSecret: "s3cret",
	}); err != nil {
		t.Fatalf("exchange with correct secret failed: %v", err)
	}
}

func TestIntrospect(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	grant, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code: code, CodeVerifier: pair.Verifier, ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	result := setup.server.Introspect(context.Background(), grant.AccessToken)
	if !result.Active {
		t.Fatal("minted token introspects as inactive")
	}
	if result.Subject != "mock-user-123" {
		t.Errorf("sub = %q", result.Subject)
	}
	if result.ClientID != "client-1" {
		t.Errorf("client_id = %q", result.ClientID)
	}
	if result.Iss != testIssuer {
		t.Errorf("iss = %q", result.Iss)
	}
	if result.Exp == 0 {
		t.Error("exp not reported")
	}

	if got := setup.server.Introspect(context.Background(), "not-a-jwt"); got.Active {
		t.Error("garbage token introspects as active")
	}
	if got := setup.server.Introspect(context.Background(), ""); got.Active {
		t.Error("empty token introspects as active")
	}
}

func TestBridgeIdentity(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	grant, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code: code, CodeVerifier: pair.Verifier, ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	result, err := setup.server.BridgeIdentity(context.Background(), grant.AccessToken, "127.0.0.1")
	if err != nil {
		t.Fatalf("BridgeIdentity: %v", err)
	}
	if result.BridgedToken != "upstream-token" {
		t.Errorf("bridged token = %q, want the upstream token verbatim", result.BridgedToken)
	}
	if result.Subject != "mock-user-123" {
		t.Errorf("subject = %q", result.Subject)
	}
}

func TestBridgeIdentityUnknownToken(t *testing.T) {
	setup := newTestSetup(t)

	_, err := setup.server.BridgeIdentity(context.Background(), "unknown-token", "127.0.0.1")
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestBridgeIdentitySurvivesRotation(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	code, pair := issueCode(t, setup, "client-1")

	first, err := setup.server.ExchangeAuthorizationCode(context.Background(), ExchangeRequest{
		Code: code, CodeVerifier: pair.Verifier, ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	second, err := setup.server.RefreshAccessToken(context.Background(), RefreshRequest{
		RefreshToken: first.RefreshToken,
		ClientID:     "client-1",
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	result, err := setup.server.BridgeIdentity(context.Background(), second.AccessToken, "127.0.0.1")
	if err != nil {
		t.Fatalf("BridgeIdentity: %v", err)
	}
	if result.BridgedToken != "upstream-token" {
		t.Errorf("bridged token = %q after rotation", result.BridgedToken)
	}
}
