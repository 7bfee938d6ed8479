package server

import (
	"strings"
)

// ParseScopes splits a space-separated scope string into a list.
// An empty string yields an empty list.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// ComputeFinalScopes computes the scopes bound to an authorization code and
// every token minted from it. Requested scopes are intersected with the
// allowed set (an empty allowed set permits everything), deduplicated
// preserving request order, and the bridge scope is appended if absent.
//
// The bridge scope is always added, even when the caller omitted it or
// tried to exclude it, so that every issued token can later be exchanged
// for the bridged identity token.
func ComputeFinalScopes(requested, allowed []string) []string {
	final := make([]string, 0, len(requested)+1)
	seen := make(map[string]bool, len(requested)+1)

	for _, scope := range requested {
		if scope == "" || seen[scope] {
			continue
		}
		if len(allowed) > 0 && !containsScope(allowed, scope) {
			continue
		}
		seen[scope] = true
		final = append(final, scope)
	}

	if !seen[BridgeScope] {
		final = append(final, BridgeScope)
	}

	return final
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether granted contains every element of required.
func HasAllScopes(granted, required []string) bool {
	for _, r := range required {
		if !containsScope(granted, r) {
			return false
		}
	}
	return true
}
