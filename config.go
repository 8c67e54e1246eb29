package consent

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth-consent/instrumentation"
)

// Default rate limit for decision submissions, per user.
const (
	DefaultRateLimitPerSecond = 5
	DefaultRateLimitBurst     = 10
)

// ApprovalsConfig controls the approval ledger.
type ApprovalsConfig struct {
	// TTL is how long an approval stays fresh (default: 30 days)
	TTL time.Duration

	// KeyPrefix namespaces ledger keys in the KV store (default: "approved:")
	KeyPrefix string

	// EncryptionSecret, when set, encrypts ledger records at rest with a
	// key derived from it. Leave empty to store records in the clear.
	EncryptionSecret string
}

// RateLimitConfig controls per-user throttling of decision submissions.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate (default: 5)
	RequestsPerSecond int

	// Burst is the burst allowance (default: 10)
	Burst int

	// Disabled turns rate limiting off entirely
	Disabled bool
}

// SecurityConfig controls the security posture of the flow.
type SecurityConfig struct {
	// AllowHTTPRedirects permits plain http redirect targets. Leave false
	// outside of development.
	AllowHTTPRedirects bool

	// EnableAuditLogging emits security audit events with hashed user IDs
	EnableAuditLogging bool
}

// Config is the top-level configuration for the consent service.
type Config struct {
	// BackendBaseURL is the backend authorization API base URL (required)
	BackendBaseURL string

	// HTTPClient is a custom HTTP client for backend calls (optional)
	HTTPClient *http.Client

	// Approvals configures the approval ledger
	Approvals ApprovalsConfig

	// RateLimit configures decision submission throttling
	RateLimit RateLimitConfig

	// Security configures audit logging and redirect policy
	Security SecurityConfig

	// Instrumentation configures metrics and tracing (noop when nil)
	Instrumentation *instrumentation.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// applyDefaults fills in unset fields with safe defaults.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = DefaultRateLimitPerSecond
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BackendBaseURL == "" {
		return fmt.Errorf("backend base URL is required")
	}
	return nil
}
