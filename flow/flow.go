// Package flow implements the consent flow state machine. A Flow starts in
// a loading state, consults the approval ledger for a silent auto-approval,
// and otherwise loads client metadata and waits for the user's decision.
// A flow always leaves the user with a redirect, an explicit failure, or a
// re-enterable prompt; never an unbounded pending state.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-consent/authz"
	"github.com/giantswarm/oauth-consent/instrumentation"
	"github.com/giantswarm/oauth-consent/security"
)

// User-facing failure messages for the two terminal failure paths that are
// not backend errors.
const (
	// MsgInvalidRequest is shown when required OAuth parameters are missing.
	MsgInvalidRequest = "invalid OAuth request parameters"

	// MsgNotAuthenticated is shown when no usable session is present.
	MsgNotAuthenticated = "user authentication required"
)

// ErrDecisionInFlight is returned when a decision arrives while a previous
// one is still being submitted. The duplicate is dropped, not queued.
var ErrDecisionInFlight = errors.New("a decision is already being processed")

// ErrNotAwaitingDecision is returned when a decision arrives in any state
// other than prompt ready.
var ErrNotAwaitingDecision = errors.New("flow is not awaiting a decision")

// AuthorizationClient performs the flow's two backend calls.
type AuthorizationClient interface {
	FetchClientInfo(ctx context.Context, clientID string) (*authz.ClientInfo, error)
	SubmitDecision(ctx context.Context, request *authz.Request, action authz.Action, bearerToken string) (*authz.Decision, error)
}

// ApprovalLedger answers and records per-user client approvals.
type ApprovalLedger interface {
	IsApproved(ctx context.Context, userID, clientID string) bool
	RecordApproval(ctx context.Context, userID, clientID string) error
}

// Config holds configuration for the flow service.
type Config struct {
	// Client performs backend calls (required)
	Client AuthorizationClient

	// Ledger backs auto-approval (required)
	Ledger ApprovalLedger

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Auditor records security-relevant events (optional)
	Auditor *security.Auditor

	// Instrumentation enables tracing and metrics (optional)
	Instrumentation *instrumentation.Instrumentation

	// AllowHTTPRedirects permits plain http redirect targets. Leave false
	// outside of development.
	AllowHTTPRedirects bool
}

// Service creates consent flows. It is safe for concurrent use; each Flow
// carries its own state.
type Service struct {
	client    AuthorizationClient
	ledger    ApprovalLedger
	logger    *slog.Logger
	auditor   *security.Auditor
	tracer    trace.Tracer
	metrics   *instrumentation.Metrics
	allowHTTP bool
}

// NewService creates a new flow service.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil || cfg.Client == nil {
		return nil, fmt.Errorf("authorization client is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("approval ledger is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		client:    cfg.Client,
		ledger:    cfg.Ledger,
		logger:    logger,
		auditor:   cfg.Auditor,
		tracer:    tracenoop.NewTracerProvider().Tracer("flow"),
		allowHTTP: cfg.AllowHTTPRedirects,
	}
	if cfg.Instrumentation != nil {
		s.tracer = cfg.Instrumentation.Tracer("flow")
		s.metrics = cfg.Instrumentation.Metrics()
	}

	return s, nil
}

// Failure is a terminal, user-facing failure. Message is safe to render;
// underlying causes stay in logs.
type Failure struct {
	Message string
}

// Flow is one consent flow for one request under one session. Methods are
// safe for concurrent use.
type Flow struct {
	svc     *Service
	session *Session
	request *authz.Request
	started time.Time

	mu          sync.Mutex
	state       State
	clientInfo  *authz.ClientInfo
	redirectURL string
	failure     *Failure
	submitErr   string
}

// Begin validates the request, runs the auto-approval check, and on a miss
// loads client metadata for the consent prompt. It returns a Flow in one of
// three states: prompt ready, redirecting, or failed. Begin never returns
// an error for flow-level failures; those are carried in the Flow so the
// caller can render them.
func (s *Service) Begin(ctx context.Context, session *Session, request *authz.Request) *Flow {
	return s.begin(ctx, session, request, true)
}

// BeginInteractive is Begin without the auto-approval shortcut: the flow
// goes straight to the consent prompt. Use it when an explicit decision is
// already in hand, so a fresh ledger record can never submit an approval on
// behalf of a user who is about to deny.
func (s *Service) BeginInteractive(ctx context.Context, session *Session, request *authz.Request) *Flow {
	return s.begin(ctx, session, request, false)
}

func (s *Service) begin(ctx context.Context, session *Session, request *authz.Request, useShortcut bool) *Flow {
	ctx, span := s.tracer.Start(ctx, instrumentation.SpanFlowStart,
		trace.WithAttributes(attribute.String(instrumentation.AttrClientID, clientIDForTrace(request))))
	defer span.End()

	f := &Flow{
		svc:     s,
		session: session,
		request: request,
		started: time.Now(),
		state:   StateLoading,
	}
	s.metrics.RecordFlowStarted(ctx)

	if request == nil || !request.Valid() {
		s.auditor.LogInvalidRequest(clientIDForTrace(request), missingParams(request))
		f.fail(ctx, MsgInvalidRequest)
		return f
	}
	if !session.Authenticated() {
		f.fail(ctx, MsgNotAuthenticated)
		return f
	}

	if useShortcut {
		f.state = StateAutoApproving
		if s.ledger.IsApproved(ctx, session.UserID, request.ClientID) {
			if f.autoApprove(ctx) {
				return f
			}
			// Fall through to the interactive prompt. The user only ever
			// sees the normal consent page, not the failed shortcut.
		} else {
			s.metrics.RecordAutoApproval(ctx, "miss")
		}
	}

	info, err := s.client.FetchClientInfo(ctx, request.ClientID)
	if err != nil {
		s.logger.Error("Failed to load client metadata",
			"client_id", request.ClientID,
			"error", err)
		f.fail(ctx, authz.MsgClientLookupFailed)
		return f
	}

	f.clientInfo = info
	f.state = StatePromptReady
	return f
}

// autoApprove submits an approval without user interaction. It reports
// whether the shortcut resolved the flow; any anomaly (failed submission,
// no redirect target, unsafe redirect target) silently degrades to the
// interactive prompt. The ledger already holds a fresh record, so nothing
// new is written here.
func (f *Flow) autoApprove(ctx context.Context) bool {
	s := f.svc

	decision, err := s.client.SubmitDecision(ctx, f.request, authz.ActionApprove, f.session.BearerToken())
	if err != nil {
		return f.degradeAutoApproval(ctx, err.Error())
	}

	redirectURL := ""
	if decision != nil {
		redirectURL = decision.RedirectURL
	}
	if redirectURL == "" {
		return f.degradeAutoApproval(ctx, "no redirect target")
	}
	if category, ok := f.checkRedirect(ctx, redirectURL); !ok {
		return f.degradeAutoApproval(ctx, "unsafe redirect target: "+category)
	}

	s.auditor.LogAutoApproval(f.session.UserID, f.request.ClientID)
	s.metrics.RecordAutoApproval(ctx, "approved")
	f.state = StateRedirecting
	f.redirectURL = redirectURL
	s.metrics.RecordFlowOutcome(ctx, string(StateRedirecting), durationMs(f.started))
	return true
}

func (f *Flow) degradeAutoApproval(ctx context.Context, reason string) bool {
	s := f.svc
	s.logger.Warn("Auto-approval degraded to interactive prompt",
		"client_id", f.request.ClientID,
		"reason", reason)
	s.auditor.LogAutoApprovalDegraded(f.session.UserID, f.request.ClientID, reason)
	s.metrics.RecordAutoApproval(ctx, "degraded")
	return false
}

// Approve submits the user's approval.
func (f *Flow) Approve(ctx context.Context) error {
	return f.decide(ctx, authz.ActionApprove)
}

// Deny submits the user's refusal. A denial is never remembered; the next
// request from the same client prompts again.
func (f *Flow) Deny(ctx context.Context) error {
	return f.decide(ctx, authz.ActionDeny)
}

func (f *Flow) decide(ctx context.Context, action authz.Action) error {
	f.mu.Lock()
	switch f.state {
	case StateSubmitting:
		f.mu.Unlock()
		return ErrDecisionInFlight
	case StatePromptReady:
		// proceed
	default:
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotAwaitingDecision, state)
	}
	f.state = StateSubmitting
	f.submitErr = ""
	f.mu.Unlock()

	s := f.svc
	decision, err := s.client.SubmitDecision(ctx, f.request, action, f.session.BearerToken())

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		s.logger.Error("Decision submission failed",
			"client_id", f.request.ClientID,
			"action", action,
			"error", err)
		s.auditor.LogSubmitFailure(f.session.UserID, f.request.ClientID, string(action), err.Error())
		s.metrics.RecordDecision(ctx, string(action), "error")

		// Recoverable: back to the prompt with the metadata intact so
		// the user can retry without reloading.
		f.state = StatePromptReady
		f.submitErr = authz.MsgSubmitFailed
		return err
	}

	switch action {
	case authz.ActionApprove:
		s.auditor.LogConsentGranted(f.session.UserID, f.request.ClientID, f.request.Scope)
		// The ledger write lands before any redirect so a repeat visit
		// hits the shortcut even if navigation tears the page down. If
		// it fails the approval itself still stands.
		if err := s.ledger.RecordApproval(ctx, f.session.UserID, f.request.ClientID); err != nil {
			s.logger.Warn("Failed to record approval, next visit will prompt again",
				"client_id", f.request.ClientID,
				"error", err)
		}
	case authz.ActionDeny:
		s.auditor.LogConsentDenied(f.session.UserID, f.request.ClientID)
	}

	redirectURL := ""
	if decision != nil {
		redirectURL = decision.RedirectURL
	}
	if redirectURL == "" {
		// The backend accepted the decision but produced nowhere to
		// send the user. Not an error; the prompt surfaces it as
		// "nothing to do".
		f.state = StatePromptReady
		s.metrics.RecordDecision(ctx, string(action), "noop")
		return nil
	}

	if _, ok := f.checkRedirect(ctx, redirectURL); !ok {
		s.metrics.RecordDecision(ctx, string(action), "error")
		f.fail(ctx, authz.MsgSubmitFailed)
		return nil
	}

	f.state = StateRedirecting
	f.redirectURL = redirectURL
	s.metrics.RecordDecision(ctx, string(action), "redirected")
	s.metrics.RecordFlowOutcome(ctx, string(StateRedirecting), durationMs(f.started))
	return nil
}

// checkRedirect validates a backend redirect target, logging and counting a
// rejection. It returns the rejection category and whether the target is
// safe to follow.
func (f *Flow) checkRedirect(ctx context.Context, redirectURL string) (string, bool) {
	s := f.svc

	err := security.ValidateRedirectURL(redirectURL, s.allowHTTP)
	if err == nil {
		return "", true
	}

	category := "invalid"
	var rerr *security.RedirectURLError
	if errors.As(err, &rerr) {
		category = rerr.Category
	}
	s.logger.Error("Refusing unsafe redirect target",
		"client_id", f.request.ClientID,
		"category", category)
	s.auditor.LogUnsafeRedirect(f.session.UserID, f.request.ClientID, category)
	s.metrics.RecordUnsafeRedirect(ctx, category)
	return category, false
}

// fail moves to the failure terminal with a user-facing message.
func (f *Flow) fail(ctx context.Context, message string) {
	f.state = StateFailed
	f.failure = &Failure{Message: message}
	f.svc.metrics.RecordFlowOutcome(ctx, string(StateFailed), durationMs(f.started))
}

// State returns the flow's current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ClientInfo returns the metadata for the consent prompt. It is non-nil
// whenever the flow is prompt ready, and stays available through a failed
// submission retry.
func (f *Flow) ClientInfo() *authz.ClientInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clientInfo
}

// Request returns the original authorization request parameters.
func (f *Flow) Request() *authz.Request {
	return f.request
}

// RedirectURL returns the redirect target. It is non-empty exactly when the
// flow is redirecting.
func (f *Flow) RedirectURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redirectURL
}

// Failure returns the terminal failure, or nil if the flow has not failed.
func (f *Flow) Failure() *Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// SubmitError returns the user-facing message for the most recent failed
// submission, or "" if the last submission succeeded or none was made.
func (f *Flow) SubmitError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitErr
}

func clientIDForTrace(request *authz.Request) string {
	if request == nil {
		return ""
	}
	return request.ClientID
}

func missingParams(request *authz.Request) []string {
	if request == nil {
		return []string{"client_id", "redirect_uri", "response_type"}
	}
	return request.MissingParams()
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
