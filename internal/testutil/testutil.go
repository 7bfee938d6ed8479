package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/Jahnik/mcp2/storage"
)

// GenerateTestRSAKey returns a 2048-bit RSA key for signing in tests.
func GenerateTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// PKCEPair is a matched verifier/challenge pair for the S256 method.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCEPair returns a fresh verifier and its S256 challenge.
func GeneratePKCEPair() PKCEPair {
	verifier := oauth2.GenerateVerifier()
	return PKCEPair{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
	}
}

// S256Challenge computes the S256 code challenge for a verifier.
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateRandomString returns an unguessable URL-safe string.
func GenerateRandomString() string {
	return oauth2.GenerateVerifier()
}

// NewTestClient returns a public client fixture registered for the given
// redirect URIs.
func NewTestClient(clientID string, redirectURIs ...string) *storage.Client {
	if len(redirectURIs) == 0 {
		redirectURIs = []string{"https://client.example/cb"}
	}
	return &storage.Client{
		ClientID:                clientID,
		ClientType:              storage.ClientTypePublic,
		RedirectURIs:            redirectURIs,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		CreatedAt:               time.Now(),
	}
}

// NewTestAuthorizationCode returns an unexpired code fixture bound to the
// given client and PKCE challenge.
func NewTestAuthorizationCode(code, clientID, redirectURI, challenge, subject, identityToken string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scopes:              []string{"read", "identity:bridge"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Subject:             subject,
		IdentityToken:       identityToken,
		CreatedAt:           now,
		ExpiresAt:           now.Add(30 * time.Second),
	}
}
