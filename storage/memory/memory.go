// Package memory provides an in-memory implementation of the storage.KV
// interface. It is suitable for development, testing, and single-instance
// deployments; approvals do not survive a restart and are not shared between
// instances.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oauth-consent/storage"
)

// DefaultCleanupInterval is how often expired entries are removed.
const DefaultCleanupInterval = time.Minute

// entry is a stored value with an optional absolute expiry.
type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is an in-memory implementation of storage.KV.
// It is safe for concurrent use. Call Stop when the store is no longer
// needed to terminate the background cleanup goroutine.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger

	// now is the clock; replaced in tests to exercise expiry.
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCleanupInterval overrides the interval at which expired entries are
// swept. Values <= 0 fall back to DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithLogger sets the logger used for cleanup reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an in-memory store and starts its cleanup goroutine.
func New(opts ...Option) *Store {
	s := &Store{
		entries:         make(map[string]entry),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Get retrieves the value stored under key.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return "", storage.ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key with the given ttl.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	return nil
}

// Delete removes the value stored under key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	return nil
}

// Len returns the number of live entries. Used by tests and size metrics.
func (s *Store) Len() int {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Stop terminates the background cleanup goroutine. Safe to call multiple
// times.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// cleanupLoop periodically removes expired entries so the map does not grow
// without bound under key churn.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) removeExpired() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Removed expired entries", "count", removed, "remaining", len(s.entries))
	}
}
