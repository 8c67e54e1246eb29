package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the consent flow library
type Metrics struct {
	// Flow metrics
	FlowStarted  metric.Int64Counter
	FlowOutcome  metric.Int64Counter
	FlowDuration metric.Float64Histogram

	// Auto-approval metrics
	AutoApprovalAttempts metric.Int64Counter

	// Decision metrics
	Decisions metric.Int64Counter

	// Backend API metrics
	BackendAPICalls    metric.Int64Counter
	BackendAPIDuration metric.Float64Histogram

	// HTTP layer metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Security metrics
	RateLimitExceeded metric.Int64Counter
	UnsafeRedirects   metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	flowMeter := inst.Meter("flow")
	authzMeter := inst.Meter("authz")
	httpMeter := inst.Meter("http")

	var err error
	m.FlowStarted, err = flowMeter.Int64Counter(
		"consent.flow.started",
		metric.WithDescription("Number of consent flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.started counter: %w", err)
	}

	m.FlowOutcome, err = flowMeter.Int64Counter(
		"consent.flow.outcome",
		metric.WithDescription("Terminal states reached by consent flows"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.outcome counter: %w", err)
	}

	m.FlowDuration, err = flowMeter.Float64Histogram(
		"consent.flow.duration",
		metric.WithDescription("Duration of the consent flow start path in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.duration histogram: %w", err)
	}

	m.AutoApprovalAttempts, err = flowMeter.Int64Counter(
		"consent.auto_approval",
		metric.WithDescription("Auto-approval checks by result (approved, degraded, or miss)"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auto_approval counter: %w", err)
	}

	m.Decisions, err = flowMeter.Int64Counter(
		"consent.decisions",
		metric.WithDescription("User consent decisions by action and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.BackendAPICalls, err = authzMeter.Int64Counter(
		"consent.backend.calls",
		metric.WithDescription("Calls to the backend authorization API"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend.calls counter: %w", err)
	}

	m.BackendAPIDuration, err = authzMeter.Float64Histogram(
		"consent.backend.duration",
		metric.WithDescription("Backend authorization API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend.duration histogram: %w", err)
	}

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"consent.http.requests.total",
		metric.WithDescription("Total number of HTTP requests handled"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"consent.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.RateLimitExceeded, err = httpMeter.Int64Counter(
		"consent.ratelimit.exceeded",
		metric.WithDescription("Decision submissions rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.UnsafeRedirects, err = flowMeter.Int64Counter(
		"consent.redirect.blocked",
		metric.WithDescription("Backend redirect URLs rejected by safety validation"),
		metric.WithUnit("{redirect}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redirect.blocked counter: %w", err)
	}

	return m, nil
}

// RecordFlowStarted records the start of a consent flow.
func (m *Metrics) RecordFlowStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.FlowStarted.Add(ctx, 1)
}

// RecordFlowOutcome records the state a flow start path ended in.
func (m *Metrics) RecordFlowOutcome(ctx context.Context, state string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrFlowState, state))
	m.FlowOutcome.Add(ctx, 1, attrs)
	m.FlowDuration.Record(ctx, durationMs, attrs)
}

// RecordAutoApproval records an auto-approval check result
// ("approved", "degraded", or "miss").
func (m *Metrics) RecordAutoApproval(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.AutoApprovalAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}

// RecordDecision records a user decision and its outcome
// ("redirected", "noop", or "error").
func (m *Metrics) RecordDecision(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAction, action),
		attribute.String(AttrResult, outcome),
	))
}

// RecordBackendCall records a backend API call with its result.
func (m *Metrics) RecordBackendCall(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrResult, result),
	)
	m.BackendAPICalls.Add(ctx, 1, attrs)
	m.BackendAPIDuration.Record(ctx, durationMs, attrs)
}

// RecordUnsafeRedirect records a blocked redirect URL by category.
func (m *Metrics) RecordUnsafeRedirect(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.UnsafeRedirects.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrCategory, category)))
}

// RecordHTTPRequest records a handled HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, status int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", endpoint),
		attribute.Int("http.status_code", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordRateLimitExceeded records a rate-limited decision submission.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1)
}
