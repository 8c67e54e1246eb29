// Package security provides security features for the consent flow including
// audit logging, ledger encryption at rest, submit rate limiting, and
// redirect URL validation.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// User identifiers are hashed before logging; client identifiers are public
// and logged as-is.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
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
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogConsentGranted logs an explicit user approval of a client.
func (a *Auditor) LogConsentGranted(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     "consent_granted",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogConsentDenied logs an explicit user denial of a client.
func (a *Auditor) LogConsentDenied(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "consent_denied",
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogAutoApproval logs a silent re-approval based on a fresh ledger record.
func (a *Auditor) LogAutoApproval(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "consent_auto_approved",
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogAutoApprovalDegraded logs an auto-approval attempt that fell back to the
// interactive prompt. This is informational; it is never surfaced to users.
func (a *Auditor) LogAutoApprovalDegraded(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     "consent_auto_approval_degraded",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidRequest logs an authorization request rejected before any
// network call was made.
func (a *Auditor) LogInvalidRequest(clientID string, missing []string) {
	a.LogEvent(Event{
		Type:     "invalid_authorize_request",
		ClientID: clientID,
		Details: map[string]any{
			"missing_params": missing,
		},
	})
}

// LogSubmitFailure logs a failed approve/deny submission.
func (a *Auditor) LogSubmitFailure(userID, clientID, action, reason string) {
	a.LogEvent(Event{
		Type:     "consent_submit_failed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"action": action,
			"reason": reason,
		},
	})
}

// LogUnsafeRedirect logs a redirect URL from the backend that failed safety
// validation and was not followed.
func (a *Auditor) LogUnsafeRedirect(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     "unsafe_redirect_blocked",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a decision submission rejected by rate limiting.
func (a *Auditor) LogRateLimitExceeded(userID string) {
	a.LogEvent(Event{
		Type:   "rate_limit_exceeded",
		UserID: userID,
	})
}

// hashForLogging creates a truncated SHA-256 hash of sensitive data for
// logging. The truncation keeps logs correlatable without being reversible
// into the original identifier.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(value))
	return hex.EncodeToString(hash[:])[:16]
}
