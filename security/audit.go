package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Event type constants for security audit logging.
const (
	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an authorization code is presented twice
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventPKCEValidationFailed is logged when the code_verifier does not match the challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when an unregistered redirect URI is presented
	EventInvalidRedirect = "invalid_redirect"

	// Token lifecycle events

	// EventTokenIssued is logged when an access token is minted
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventRefreshTokenReuseDetected is logged when a rotated-out refresh token is replayed
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected"

	// Identity bridge events

	// EventIdentityBridged is logged when a stored identity token is released to a caller
	EventIdentityBridged = "identity_bridged"

	// EventIdentityVerificationFailed is logged when an upstream identity token fails verification
	EventIdentityVerificationFailed = "identity_verification_failed"

	// Client events

	// EventClientRegistered is logged when a new client is registered
	EventClientRegistered = "client_registered"

	// EventAuthFailure is logged when client or token authentication fails
	EventAuthFailure = "auth_failure"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(subject, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeReuse logs when an already-redeemed authorization code is replayed
func (a *Auditor) LogCodeReuse(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs when an access token is minted
func (a *Auditor) LogTokenIssued(subject, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs when a refresh token is rotated
func (a *Auditor) LogTokenRefreshed(subject, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": true,
		},
	})
}

// LogIdentityBridged logs when a stored identity token is released
func (a *Auditor) LogIdentityBridged(subject, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventIdentityBridged,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(subject, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
