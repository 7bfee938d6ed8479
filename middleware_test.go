package oauth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Jahnik/mcp2/jwt"
)

func TestRequireScopesInsufficientScope(t *testing.T) {
	stack := newTestStack(t)

	// A token that verifies fine but never went through authorization, so
	// it lacks the bridge scope.
	signed, _, err := stack.signer.Mint(jwt.MintRequest{
		Subject:  "user-1",
		ClientID: "client-1",
		Scopes:   []string{"read"},
		TTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/token/bridge", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	challenge := rec.Header().Get("WWW-Authenticate")
	if !strings.Contains(challenge, "insufficient_scope") {
		t.Errorf("WWW-Authenticate = %q", challenge)
	}
	if !strings.Contains(challenge, `scope="identity:bridge"`) {
		t.Errorf("challenge does not name the required scope: %q", challenge)
	}
	errResp := decodeJSON[ErrorResponse](t, rec)
	if errResp.Error != "insufficient_scope" {
		t.Errorf("error = %q", errResp.Error)
	}
}

func TestRequireScopesRejectsWrongAudience(t *testing.T) {
	stack := newTestStack(t)

	signed, _, err := stack.signer.Mint(jwt.MintRequest{
		Subject:  "user-1",
		ClientID: "client-1",
		Scopes:   []string{"identity:bridge"},
		Audience: "https://some-other-resource.example",
		TTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/token/bridge", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequireScopesMalformedHeader(t *testing.T) {
	stack := newTestStack(t)

	for _, header := range []string{"Basic abc123", "Bearer", "Bearer "} {
		req := httptest.NewRequest(http.MethodPost, "/token/bridge", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		stack.mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q status = %d", header, rec.Code)
		}
	}
}
