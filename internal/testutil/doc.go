// Package testutil provides testing utilities and fixtures shared across
// the authorization server's test suites: PKCE pairs, RSA test keys, and
// store fixtures.
package testutil
