package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T, issuer string) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := NewSigner(key, issuer)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func TestNewSignerValidation(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if _, err := NewSigner(nil, "https://auth.example"); err == nil {
		t.Error("nil key accepted")
	}
	if _, err := NewSigner(key, ""); err == nil {
		t.Error("empty issuer accepted")
	}

	signer, err := NewSigner(key, "https://auth.example")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if signer.KeyID() == "" {
		t.Error("key ID is empty")
	}

	// Same key material must yield the same kid across restarts.
	again, _ := NewSigner(key, "https://auth.example")
	if signer.KeyID() != again.KeyID() {
		t.Errorf("kid not stable: %q vs %q", signer.KeyID(), again.KeyID())
	}
}

func TestMintAndVerify(t *testing.T) {
	signer := newTestSigner(t, "https://auth.example")

	token, expiresAt, err := signer.Mint(MintRequest{
		Subject:  "user-1",
		ClientID: "client-1",
		Scopes:   []string{"read", "identity:bridge"},
		TTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("unexpected expiry %v", expiresAt)
	}

	claims, err := signer.Verify(token, []string{"https://auth.example"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("client_id = %q", claims.ClientID)
	}
	if got := claims.Scopes(); len(got) != 2 || got[0] != "read" || got[1] != "identity:bridge" {
		t.Errorf("scopes = %v", got)
	}
	if claims.Issuer != "https://auth.example" {
		t.Errorf("iss = %q", claims.Issuer)
	}
}

func TestMintValidation(t *testing.T) {
	signer := newTestSigner(t, "https://auth.example")

	tests := []struct {
		name string
		req  MintRequest
	}{
		{"missing subject", MintRequest{ClientID: "c", TTL: time.Hour}},
		{"missing client", MintRequest{Subject: "u", TTL: time.Hour}},
		{"zero TTL", MintRequest{Subject: "u", ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := signer.Mint(tt.req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	signer := newTestSigner(t, "https://auth.example")

	token, _, err := signer.Mint(MintRequest{
		Subject:  "user-1",
		ClientID: "client-1",
		Audience: "https://resource.example",
		TTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := signer.Verify(token, []string{"https://resource.example"}); err != nil {
		t.Errorf("matching audience rejected: %v", err)
	}
	if _, err := signer.Verify(token, []string{"https://other.example"}); err == nil {
		t.Error("wrong audience accepted")
	}
}

func TestVerifyRejectsWrongIssuerKey(t *testing.T) {
	signer := newTestSigner(t, "https://auth.example")
	other := newTestSigner(t, "https://auth.example")

	token, _, err := signer.Mint(MintRequest{
		Subject:  "user-1",
		ClientID: "client-1",
		TTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := other.Verify(token, nil); err == nil {
		t.Error("token signed with a different key accepted")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	signer := newTestSigner(t, "https://auth.example")

	token, _, err := signer.Mint(MintRequest{
		Subject:  "user-1",
		ClientID: "client-1",
		TTL:      time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := signer.Verify(token, nil); err == nil {
		t.Error("expired token accepted")
	}
}

func TestEmptyScopeSplitsToEmptyList(t *testing.T) {
	claims := &AccessClaims{Scope: ""}
	if got := claims.Scopes(); len(got) != 0 {
		t.Errorf("empty scope should yield empty list, got %v", got)
	}
}

func TestJWKS(t *testing.T) {
	signer := newTestSigner(t, "https://auth.example")

	set, err := signer.JWKS()
	if err != nil {
		t.Fatalf("JWKS: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", set.Len())
	}

	key, _ := set.Key(0)
	if key.KeyID() != signer.KeyID() {
		t.Errorf("kid mismatch: %q vs %q", key.KeyID(), signer.KeyID())
	}
	if key.Algorithm().String() != "RS256" {
		t.Errorf("alg = %q", key.Algorithm())
	}
	if !strings.EqualFold(key.KeyType().String(), "RSA") {
		t.Errorf("kty = %q", key.KeyType())
	}
}
