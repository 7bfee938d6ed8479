package server

import (
	"testing"

	"github.com/Jahnik/mcp2/internal/testutil"
)

func TestValidateRedirectURIForRegistration(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"https", "https://client.example/cb", false},
		{"https with port and path", "https://client.example:8443/a/b?c=d", false},
		{"http loopback", "http://localhost:3000/cb", false},
		{"http 127.0.0.1", "http://127.0.0.1:8765/cb", false},
		{"http IPv6 loopback", "http://[::1]:8765/cb", false},
		{"custom native scheme", "com.example.app:/oauth/callback", false},

		{"http public host", "http://client.example/cb", true},
		{"fragment", "https://client.example/cb#frag", true},
		{"javascript scheme", "javascript:alert(1)", true},
		{"data scheme", "data:text/html,x", true},
		{"file scheme", "file:///etc/passwd", true},
		{"no scheme", "client.example/cb", true},
		{"https without host", "https:///cb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRedirectURIForRegistration(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRedirectURIForRegistration(%q) = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestClientHasRedirectURI(t *testing.T) {
	client := testutil.NewTestClient("client-1",
		"https://client.example/cb",
		"http://localhost:3000/cb")

	if !clientHasRedirectURI(client, "https://client.example/cb") {
		t.Error("registered URI rejected")
	}
	// Matching is exact; no prefix or subpath acceptance.
	if clientHasRedirectURI(client, "https://client.example/cb/extra") {
		t.Error("subpath accepted")
	}
	if clientHasRedirectURI(client, "https://client.example/CB") {
		t.Error("case-variant accepted")
	}
	if clientHasRedirectURI(client, "https://evil.example/cb") {
		t.Error("foreign URI accepted")
	}
}
