package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Jahnik/mcp2/storage"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// dangerousSchemes lists URI schemes that must never be allowed as redirect
// targets.
var dangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// loopbackHostnames lists recognized loopback hosts for development.
var loopbackHostnames = []string{"localhost", "127.0.0.1", "::1", "[::1]"}

func isLocalhostHostname(hostname string) bool {
	for _, h := range loopbackHostnames {
		if hostname == h {
			return true
		}
	}
	return false
}

// ValidateRedirectURIForRegistration validates a redirect URI presented at
// client registration time. Fragments are prohibited (OAuth 2.0 Security
// BCP 4.1.3) and dangerous schemes are rejected outright. Plain http is
// only accepted on loopback hosts.
func ValidateRedirectURIForRegistration(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("redirect_uri: invalid URI format")
	}

	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri: fragments are not allowed")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("redirect_uri: scheme is required")
	}
	for _, bad := range dangerousSchemes {
		if scheme == bad {
			return fmt.Errorf("redirect_uri: scheme %q is not allowed", scheme)
		}
	}

	if scheme == SchemeHTTP && !isLocalhostHostname(parsed.Hostname()) {
		return fmt.Errorf("redirect_uri: http is only allowed on loopback hosts")
	}
	if (scheme == SchemeHTTP || scheme == SchemeHTTPS) && parsed.Host == "" {
		return fmt.Errorf("redirect_uri: host is required")
	}

	return nil
}

// clientHasRedirectURI reports whether redirectURI exactly matches one of
// the client's registered URIs. Matching is exact string comparison; no
// prefix or pattern matching.
func clientHasRedirectURI(client *storage.Client, redirectURI string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return true
		}
	}
	return false
}
