package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxEntries bounds the number of tracked identifiers.
	defaultMaxEntries = 10000

	// defaultCleanupInterval is how often inactive limiters are removed.
	defaultCleanupInterval = 5 * time.Minute

	// inactivityThreshold is how long a limiter may sit unused before the
	// cleanup loop removes it.
	inactivityThreshold = 10 * time.Minute
)

// limiterEntry tracks a rate limiter and its last access time.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier rate limiting using the token bucket
// algorithm. The consent handler applies it per user to decision
// submissions, so a stuck or malicious frontend cannot hammer the authorize
// endpoint with approve/deny calls.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter with automatic cleanup of
// inactive entries. requestsPerSecond and burst follow x/time/rate semantics.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		limiters:        make(map[string]*limiterEntry),
		rate:            requestsPerSecond,
		burst:           burst,
		maxEntries:      defaultMaxEntries,
		logger:          logger,
		cleanupInterval: defaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow checks if a request from the given identifier is allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[identifier]; ok {
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	// At capacity: evict the stalest entry rather than growing without bound.
	if len(rl.limiters) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastAccess: now,
	}
	rl.limiters[identifier] = entry

	return entry.limiter.Allow()
}

// evictOldest removes the least recently accessed entry.
// Must be called with the mutex held.
func (rl *RateLimiter) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, entry := range rl.limiters {
		if oldestID == "" || entry.lastAccess.Before(oldest) {
			oldestID = id
			oldest = entry.lastAccess
		}
	}
	if oldestID != "" {
		delete(rl.limiters, oldestID)
		rl.logger.Debug("Rate limiter eviction", "current_entries", len(rl.limiters))
	}
}

// cleanupLoop periodically removes inactive rate limiters to prevent memory
// leaks from one-off identifiers.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.removeInactive()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) removeInactive() {
	cutoff := time.Now().Add(-inactivityThreshold)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, id)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("Removed inactive rate limiters", "count", removed, "remaining", len(rl.limiters))
	}
}

// Stop terminates the background cleanup goroutine. Safe to call multiple
// times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}
