// Package ledger implements the approval ledger: a per-user, client-scoped
// durable record of "this client was approved at time T" with a rolling
// time-to-live. It answers auto-approval checks from locally persisted state
// only and performs no network calls.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-consent/security"
	"github.com/giantswarm/oauth-consent/storage"
)

const (
	// DefaultTTL is how long an approval stays fresh.
	DefaultTTL = 30 * 24 * time.Hour

	// DefaultKeyPrefix namespaces ledger keys within the KV store.
	DefaultKeyPrefix = "approved:"
)

// Config holds configuration for the approval ledger.
type Config struct {
	// KV is the persistence surface for approval records (required)
	KV storage.KV

	// TTL is how long an approval stays fresh (default: 30 days)
	TTL time.Duration

	// KeyPrefix namespaces ledger keys (default: "approved:")
	KeyPrefix string

	// Encryptor enables encryption of stored records (optional)
	Encryptor *security.Encryptor

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Ledger records and answers client approvals per user.
//
// Each user has an isolated record set: the store key embeds the user
// identifier, so one user's approvals can never silently apply to another
// session on a shared deployment. The stored value is a JSON mapping of
// client ID to approval time in epoch milliseconds.
type Ledger struct {
	kv        storage.KV
	ttl       time.Duration
	keyPrefix string
	encryptor *security.Encryptor
	logger    *slog.Logger

	// now is the clock; replaced in tests to exercise expiry.
	now func() time.Time
}

// New creates a new approval ledger.
func New(cfg *Config) (*Ledger, error) {
	if cfg == nil || cfg.KV == nil {
		return nil, fmt.Errorf("kv store is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		kv:        cfg.KV,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		encryptor: cfg.Encryptor,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// TTL returns the configured freshness window.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// IsApproved reports whether clientID has a fresh approval under userID.
// An empty user ID, a missing record set, a missing entry, an expired entry,
// and corrupt stored data all yield false; this method never fails.
func (l *Ledger) IsApproved(ctx context.Context, userID, clientID string) bool {
	if userID == "" || clientID == "" {
		return false
	}

	approvedAt, ok := l.approvals(ctx, userID)[clientID]
	if !ok {
		return false
	}

	age := l.now().UnixMilli() - approvedAt
	return age >= 0 && age < l.ttl.Milliseconds()
}

// RecordApproval upserts an approval for clientID under userID at the
// current time. Other clients' entries under the same user are preserved,
// and the record set's storage TTL is refreshed, so every new approval
// restarts the expiry clock.
func (l *Ledger) RecordApproval(ctx context.Context, userID, clientID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if clientID == "" {
		return fmt.Errorf("client id is required")
	}

	approvals := l.approvals(ctx, userID)
	approvals[clientID] = l.now().UnixMilli()

	data, err := json.Marshal(approvals)
	if err != nil {
		return fmt.Errorf("failed to serialize approvals: %w", err)
	}

	value := string(data)
	if l.encryptor.IsEnabled() {
		value, err = l.encryptor.Encrypt(value)
		if err != nil {
			return fmt.Errorf("failed to encrypt approvals: %w", err)
		}
	}

	if err := l.kv.Set(ctx, l.key(userID), value, l.ttl); err != nil {
		return fmt.Errorf("failed to store approvals: %w", err)
	}

	return nil
}

// approvals loads the user's record set. Missing or corrupt data is treated
// as an empty set, never as an error: a broken ledger must degrade to "ask
// the user again", not break the flow.
func (l *Ledger) approvals(ctx context.Context, userID string) map[string]int64 {
	value, err := l.kv.Get(ctx, l.key(userID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.logger.Warn("Failed to read approval records, treating as empty", "error", err)
		}
		return map[string]int64{}
	}

	if l.encryptor.IsEnabled() {
		value, err = l.encryptor.Decrypt(value)
		if err != nil {
			l.logger.Warn("Failed to decrypt approval records, treating as empty", "error", err)
			return map[string]int64{}
		}
	}

	var approvals map[string]int64
	if err := json.Unmarshal([]byte(value), &approvals); err != nil || approvals == nil {
		l.logger.Warn("Corrupt approval records, treating as empty", "error", err)
		return map[string]int64{}
	}

	return approvals
}

func (l *Ledger) key(userID string) string {
	return l.keyPrefix + userID
}
