// Package consent implements an OAuth 2.0 authorization consent flow with
// auto-approval memory. A flow validates the inbound authorization request,
// silently re-approves clients the user approved recently, and otherwise
// shows a consent prompt whose approve/deny decision is submitted to a
// backend authorization API. Approvals are remembered per user in a
// pluggable KV store for thirty days.
package consent

import (
	"context"
	"fmt"

	"github.com/giantswarm/oauth-consent/authz"
	"github.com/giantswarm/oauth-consent/flow"
	"github.com/giantswarm/oauth-consent/instrumentation"
	"github.com/giantswarm/oauth-consent/ledger"
	"github.com/giantswarm/oauth-consent/security"
	"github.com/giantswarm/oauth-consent/storage"
)

// Service wires the consent flow together: the backend protocol client, the
// approval ledger over the supplied KV store, rate limiting, audit logging,
// and instrumentation. It is safe for concurrent use.
type Service struct {
	cfg     *Config
	flows   *flow.Service
	ledger  *ledger.Ledger
	limiter *security.RateLimiter
	auditor *security.Auditor
	inst    *instrumentation.Instrumentation
}

// New creates a consent service backed by the given KV store. The store
// holds approval records only; everything else is stateless.
func New(cfg *Config, kv storage.KV) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if kv == nil {
		return nil, fmt.Errorf("kv store is required")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	instCfg := instrumentation.Config{}
	if cfg.Instrumentation != nil {
		instCfg = *cfg.Instrumentation
	}
	inst, err := instrumentation.New(instCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}

	auditor := security.NewAuditor(cfg.Logger, cfg.Security.EnableAuditLogging)

	encryptor, err := security.NewEncryptorFromSecret(cfg.Approvals.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	led, err := ledger.New(&ledger.Config{
		KV:        kv,
		TTL:       cfg.Approvals.TTL,
		KeyPrefix: cfg.Approvals.KeyPrefix,
		Encryptor: encryptor,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create approval ledger: %w", err)
	}

	client, err := authz.New(&authz.Config{
		BaseURL:         cfg.BackendBaseURL,
		HTTPClient:      cfg.HTTPClient,
		Logger:          cfg.Logger,
		Instrumentation: inst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization client: %w", err)
	}

	flows, err := flow.NewService(&flow.Config{
		Client:             client,
		Ledger:             led,
		Logger:             cfg.Logger,
		Auditor:            auditor,
		Instrumentation:    inst,
		AllowHTTPRedirects: cfg.Security.AllowHTTPRedirects,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create flow service: %w", err)
	}

	var limiter *security.RateLimiter
	if !cfg.RateLimit.Disabled {
		limiter = security.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.Logger)
	}

	return &Service{
		cfg:     cfg,
		flows:   flows,
		ledger:  led,
		limiter: limiter,
		auditor: auditor,
		inst:    inst,
	}, nil
}

// Begin starts a consent flow for the given session and request. See
// flow.Service.Begin for the resulting states.
func (s *Service) Begin(ctx context.Context, session *Session, request *AuthorizeRequest) *Flow {
	return s.flows.Begin(ctx, session, request)
}

// BeginInteractive starts a consent flow that skips the auto-approval
// shortcut. See flow.Service.BeginInteractive.
func (s *Service) BeginInteractive(ctx context.Context, session *Session, request *AuthorizeRequest) *Flow {
	return s.flows.BeginInteractive(ctx, session, request)
}

// IsApproved reports whether the user has a fresh approval for the client.
// Exposed for hosts that render their own consent surface.
func (s *Service) IsApproved(ctx context.Context, userID, clientID string) bool {
	return s.ledger.IsApproved(ctx, userID, clientID)
}

// Instrumentation returns the service's instrumentation for handler wiring.
func (s *Service) Instrumentation() *instrumentation.Instrumentation {
	return s.inst
}

// Close releases background resources: the rate limiter's cleanup goroutine
// and the instrumentation providers. The KV store is owned by the caller and
// is not closed here.
func (s *Service) Close(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.inst.Shutdown(ctx)
}
