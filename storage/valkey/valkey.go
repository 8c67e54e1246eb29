// Package valkey provides a Valkey-backed implementation of the storage.KV
// interface. Use it when several consent gateway instances must share one
// approval ledger; the in-memory store is sufficient for single-instance
// deployments.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-consent/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "consent:"

	// connectionVerifyTimeout is the timeout for initial connection verification.
	connectionVerifyTimeout = 5 * time.Second

	// MaxValueSize is the maximum size of a stored value (64KB). A single
	// ledger entry is a small JSON object; anything near this limit
	// indicates a bug or an abuse attempt.
	MaxValueSize = 64 * 1024
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Username is the optional username for Valkey authentication
	Username string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "consent:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.KV.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface check.
var _ storage.KV = (*Store)(nil)

// New creates a new Valkey-backed store and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify the server is reachable before handing the store out.
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Address, err)
	}

	logger.Info("Connected to Valkey storage", "address", cfg.Address, "prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// key builds the namespaced Valkey key.
func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get retrieves the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Set stores value under key. TTL handling is delegated to Valkey's native
// key expiry so expired approvals disappear without a cleanup job.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if len(value) > MaxValueSize {
		return fmt.Errorf("value exceeds maximum allowed size (%d bytes)", MaxValueSize)
	}

	var err error
	if ttl > 0 {
		err = s.client.Do(ctx, s.client.B().Set().Key(s.key(key)).Value(value).Ex(ttl).Build()).Error()
	} else {
		err = s.client.Do(ctx, s.client.B().Set().Key(s.key(key)).Value(value).Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Delete removes the value stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Close releases the underlying Valkey connection.
func (s *Store) Close() {
	s.client.Close()
}
