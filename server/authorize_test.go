package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Jahnik/mcp2/internal/testutil"
	"github.com/Jahnik/mcp2/providers"
)

func assertErrorCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", wantCode)
	}
	var oErr *Error
	if !errors.As(err, &oErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if oErr.Code != wantCode {
		t.Errorf("error code = %q, want %q", oErr.Code, wantCode)
	}
}

func TestCompleteAuthorizationIssuesCode(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	pair := testutil.GeneratePKCEPair()

	result, err := setup.server.CompleteAuthorization(context.Background(), AuthorizeRequest{
		ClientID:              "client-1",
		RedirectURI:           "https://client.example/cb",
		Scope:                 "read write",
		State:                 "state-abc",
		CodeChallenge:         pair.Challenge,
		CodeChallengeMethod:   PKCEMethodS256,
		ExternalIdentityToken: "upstream-token",
	})
	if err != nil {
		t.Fatalf("CompleteAuthorization: %v", err)
	}
	if result.Code == "" {
		t.Fatal("empty code")
	}
	if result.State != "state-abc" {
		t.Errorf("state = %q", result.State)
	}

	stored, err := setup.store.GetAuthorizationCode(context.Background(), result.Code)
	if err != nil {
		t.Fatalf("stored code not found: %v", err)
	}
	if stored.Subject != "mock-user-123" {
		t.Errorf("subject = %q", stored.Subject)
	}
	if stored.IdentityToken != "upstream-token" {
		t.Errorf("identity token = %q", stored.IdentityToken)
	}
	if !containsScope(stored.Scopes, BridgeScope) {
		t.Errorf("scopes %v missing %s", stored.Scopes, BridgeScope)
	}
	if !containsScope(stored.Scopes, "read") || !containsScope(stored.Scopes, "write") {
		t.Errorf("requested scopes dropped: %v", stored.Scopes)
	}
}

func TestCompleteAuthorizationRejectsPlainMethod(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")

	_, err := setup.server.CompleteAuthorization(context.Background(), AuthorizeRequest{
		ClientID:              "client-1",
		RedirectURI:           "https://client.example/cb",
		CodeChallenge:         "some-challenge-value-of-sufficient-length-43chars",
		CodeChallengeMethod:   "plain",
		ExternalIdentityToken: "upstream-token",
	})
	assertErrorCode(t, err, ErrorCodeInvalidRequest)
}

func TestCompleteAuthorizationMissingParameters(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	pair := testutil.GeneratePKCEPair()

	base := AuthorizeRequest{
		ClientID:              "client-1",
		RedirectURI:           "https://client.example/cb",
		CodeChallenge:         pair.Challenge,
		CodeChallengeMethod:   PKCEMethodS256,
		ExternalIdentityToken: "upstream-token",
	}

	tests := []struct {
		name   string
		mutate func(*AuthorizeRequest)
	}{
		{"missing client_id", func(r *AuthorizeRequest) { r.ClientID = "" }},
		{"missing redirect_uri", func(r *AuthorizeRequest) { r.RedirectURI = "" }},
		{"missing code_challenge", func(r *AuthorizeRequest) { r.CodeChallenge = "" }},
		{"missing method", func(r *AuthorizeRequest) { r.CodeChallengeMethod = "" }},
		{"missing identity token", func(r *AuthorizeRequest) { r.ExternalIdentityToken = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := setup.server.CompleteAuthorization(context.Background(), req)
			assertErrorCode(t, err, ErrorCodeInvalidRequest)
		})
	}
}

func TestCompleteAuthorizationUnknownClient(t *testing.T) {
	setup := newTestSetup(t)
	pair := testutil.GeneratePKCEPair()

	_, err := setup.server.CompleteAuthorization(context.Background(), AuthorizeRequest{
		ClientID:              "no-such-client",
		RedirectURI:           "https://client.example/cb",
		CodeChallenge:         pair.Challenge,
		CodeChallengeMethod:   PKCEMethodS256,
		ExternalIdentityToken: "upstream-token",
	})
	assertErrorCode(t, err, ErrorCodeInvalidClient)
}

func TestCompleteAuthorizationUnregisteredRedirect(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	pair := testutil.GeneratePKCEPair()

	_, err := setup.server.CompleteAuthorization(context.Background(), AuthorizeRequest{
		ClientID:              "client-1",
		RedirectURI:           "https://evil.example/cb",
		CodeChallenge:         pair.Challenge,
		CodeChallengeMethod:   PKCEMethodS256,
		ExternalIdentityToken: "upstream-token",
	})
	assertErrorCode(t, err, ErrorCodeInvalidClient)
}

func TestCompleteAuthorizationIdentityVerificationFailure(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	pair := testutil.GeneratePKCEPair()

	setup.verifier.VerifyFunc = func(_ context.Context, _ string) (*providers.Identity, error) {
		return nil, fmt.Errorf("signature verification failed")
	}

	_, err := setup.server.CompleteAuthorization(context.Background(), AuthorizeRequest{
		ClientID:              "client-1",
		RedirectURI:           "https://client.example/cb",
		CodeChallenge:         pair.Challenge,
		CodeChallengeMethod:   PKCEMethodS256,
		ExternalIdentityToken: "tampered-token",
	})
	assertErrorCode(t, err, ErrorCodeAccessDenied)

	if setup.verifier.CallCounts["Verify"] != 1 {
		t.Errorf("Verify call count = %d", setup.verifier.CallCounts["Verify"])
	}
}

func TestCompleteAuthorizationExternalUserIDMismatch(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")
	pair := testutil.GeneratePKCEPair()

	_, err := setup.server.CompleteAuthorization(context.Background(), AuthorizeRequest{
		ClientID:              "client-1",
		RedirectURI:           "https://client.example/cb",
		CodeChallenge:         pair.Challenge,
		CodeChallengeMethod:   PKCEMethodS256,
		ExternalIdentityToken: "upstream-token",
		ExternalUserID:        "someone-else",
	})
	assertErrorCode(t, err, ErrorCodeAccessDenied)
}

func TestCompleteAuthorizationScopeIntersection(t *testing.T) {
	setup := newTestSetup(t)
	setup.registerClient(t, "client-1", "https://client.example/cb")

	// Restrict the server to a known scope set; disallowed ones are dropped
	// silently rather than failing the request.
	setup.server.Config.SupportedScopes = []string{"read"}
	pair := testutil.GeneratePKCEPair()

	code := setup.authorize(t, "client-1", "https://client.example/cb", "read admin", "upstream-token", pair)

	stored, err := setup.store.GetAuthorizationCode(context.Background(), code)
	if err != nil {
		t.Fatalf("stored code not found: %v", err)
	}
	if containsScope(stored.Scopes, "admin") {
		t.Errorf("disallowed scope survived: %v", stored.Scopes)
	}
	if !containsScope(stored.Scopes, "read") {
		t.Errorf("allowed scope dropped: %v", stored.Scopes)
	}
	if !containsScope(stored.Scopes, BridgeScope) {
		t.Errorf("bridge scope missing: %v", stored.Scopes)
	}
}
