package jwt

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// TokenType is the token_type value reported alongside minted tokens.
const TokenType = "Bearer"

// AccessClaims is the claim set carried by minted access tokens.
type AccessClaims struct {
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	jwtlib.RegisteredClaims
}

// Scopes returns the scope claim split into individual scope strings.
func (c *AccessClaims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// MintRequest describes the access token to mint.
type MintRequest struct {
	Subject  string
	ClientID string
	Scopes   []string
	Audience string
	TTL      time.Duration
}

// Signer mints and verifies RS256 access tokens with a single signing key.
type Signer struct {
	key    *rsa.PrivateKey
	issuer string
	keyID  string
}

// NewSigner creates a signer from an RSA private key. The key ID is derived
// from the public key so that it stays stable across restarts with the same
// key material.
func NewSigner(key *rsa.PrivateKey, issuer string) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	keyID, err := deriveKeyID(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}

	return &Signer{
		key:    key,
		issuer: issuer,
		keyID:  keyID,
	}, nil
}

// KeyID returns the kid placed in token headers and the published key set.
func (s *Signer) KeyID() string {
	return s.keyID
}

// Issuer returns the iss claim value of minted tokens.
func (s *Signer) Issuer() string {
	return s.issuer
}

// Mint signs a new access token and returns it with its expiry.
func (s *Signer) Mint(req MintRequest) (string, time.Time, error) {
	if req.Subject == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if req.ClientID == "" {
		return "", time.Time{}, fmt.Errorf("client ID is required")
	}
	if req.TTL <= 0 {
		return "", time.Time{}, fmt.Errorf("TTL must be positive")
	}

	audience := req.Audience
	if audience == "" {
		audience = s.issuer
	}

	now := time.Now()
	expiresAt := now.Add(req.TTL)

	claims := &AccessClaims{
		Scope:    strings.Join(req.Scopes, " "),
		ClientID: req.ClientID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   req.Subject,
			Audience:  jwtlib.ClaimStrings{audience},
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify parses and validates an access token. The signature, issuer, and
// expiry are always checked. If acceptedAudiences is non-empty the aud
// claim must intersect it.
func (s *Signer) Verify(tokenString string, acceptedAudiences []string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	_, err := jwtlib.ParseWithClaims(tokenString, claims,
		func(token *jwtlib.Token) (any, error) {
			if kid, ok := token.Header["kid"].(string); ok && kid != s.keyID {
				return nil, fmt.Errorf("unknown key ID %q", kid)
			}
			return &s.key.PublicKey, nil
		},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodRS256.Alg()}),
		jwtlib.WithIssuer(s.issuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if len(acceptedAudiences) > 0 && !audienceMatches(claims.Audience, acceptedAudiences) {
		return nil, fmt.Errorf("token audience %v not accepted", claims.Audience)
	}

	return claims, nil
}

// JWKS returns the public key set for the jwks.json endpoint.
func (s *Signer) JWKS() (jwk.Set, error) {
	key, err := jwk.FromRaw(&s.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWK: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, s.keyID); err != nil {
		return nil, fmt.Errorf("failed to set kid: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		return nil, fmt.Errorf("failed to set alg: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set use: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("failed to add key to set: %w", err)
	}
	return set, nil
}

func audienceMatches(audience jwtlib.ClaimStrings, accepted []string) bool {
	for _, aud := range audience {
		for _, want := range accepted {
			if aud == want {
				return true
			}
		}
	}
	return false
}

func deriveKeyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:16], nil
}
