// Package authz implements the protocol client for the backend OAuth
// authorization API. It performs the two network calls of the consent flow
// (client metadata lookup and decision submission) and normalizes their
// failure modes into typed errors; it never touches the approval ledger.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-consent/instrumentation"
)

const (
	// clientInfoPath is the backend endpoint for client metadata lookup.
	clientInfoPath = "/oauth/client"

	// authorizePath is the backend endpoint for decision submission.
	authorizePath = "/oauth/authorize"

	// defaultTimeout bounds each backend call. The flow has no retry, so
	// a hung call would otherwise strand the user in a loading state.
	defaultTimeout = 30 * time.Second

	// maxResponseBody caps how much of a backend response is read (1MB).
	maxResponseBody = 1 << 20

	tokenTypeBearer = "Bearer"
)

// Config holds configuration for the authorization client.
type Config struct {
	// BaseURL is the backend API base, e.g. "https://auth.internal/api/v1" (required)
	BaseURL string

	// HTTPClient is a custom HTTP client. If nil, a client with a 30s
	// timeout is used.
	HTTPClient *http.Client

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Instrumentation enables tracing and metrics for backend calls (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Client performs the consent flow's two network calls against the backend
// authorization server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *instrumentation.Metrics
}

// New creates a new authorization client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		tracer:     tracenoop.NewTracerProvider().Tracer("authz"),
	}
	if cfg.Instrumentation != nil {
		c.tracer = cfg.Instrumentation.Tracer("authz")
		c.metrics = cfg.Instrumentation.Metrics()
	}

	return c, nil
}

// FetchClientInfo looks up the metadata for the requesting client.
// A non-success status or an unparsable body yields a *LookupError; there is
// no retry, a single failed attempt surfaces immediately.
func (c *Client) FetchClientInfo(ctx context.Context, clientID string) (*ClientInfo, error) {
	ctx, span := c.tracer.Start(ctx, instrumentation.SpanFetchClientInfo,
		trace.WithAttributes(attribute.String(instrumentation.AttrClientID, clientID)))
	defer span.End()

	start := time.Now()
	info, err := c.fetchClientInfo(ctx, clientID)
	c.recordCall(ctx, span, "fetch_client_info", start, err)
	return info, err
}

func (c *Client) fetchClientInfo(ctx context.Context, clientID string) (*ClientInfo, error) {
	reqURL := c.baseURL + clientInfoPath + "?client_id=" + url.QueryEscape(clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &LookupError{ClientID: clientID, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &LookupError{ClientID: clientID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Client metadata lookup failed",
			"client_id", clientID,
			"status", resp.StatusCode)
		return nil, &LookupError{ClientID: clientID, StatusCode: resp.StatusCode}
	}

	var info ClientInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&info); err != nil {
		return nil, &LookupError{ClientID: clientID, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	return &info, nil
}

// decisionRequest is the authorize endpoint body: the original request
// parameters plus the user's action, forwarded verbatim.
type decisionRequest struct {
	Request
	Action Action `json:"action"`
}

// SubmitDecision posts the approve/deny decision plus the original request
// parameters to the authorize endpoint, authenticated with the bearer token.
// A non-success status yields a *SubmitError. A successful response may omit
// redirect_url; that is not an error.
func (c *Client) SubmitDecision(ctx context.Context, request *Request, action Action, bearerToken string) (*Decision, error) {
	ctx, span := c.tracer.Start(ctx, instrumentation.SpanSubmitDecision,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrClientID, request.ClientID),
			attribute.String(instrumentation.AttrAction, string(action)),
		))
	defer span.End()

	start := time.Now()
	decision, err := c.submitDecision(ctx, request, action, bearerToken)
	c.recordCall(ctx, span, "submit_decision", start, err)
	return decision, err
}

func (c *Client) submitDecision(ctx context.Context, request *Request, action Action, bearerToken string) (*Decision, error) {
	if !action.Valid() {
		return nil, &SubmitError{Action: action, Err: fmt.Errorf("unknown action %q", action)}
	}

	body, err := json.Marshal(decisionRequest{Request: *request, Action: action})
	if err != nil {
		return nil, &SubmitError{Action: action, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authorizePath, bytes.NewReader(body))
	if err != nil {
		return nil, &SubmitError{Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", tokenTypeBearer+" "+bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmitError{Action: action, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Decision submission failed",
			"client_id", request.ClientID,
			"action", action,
			"status", resp.StatusCode)
		return nil, &SubmitError{Action: action, StatusCode: resp.StatusCode}
	}

	var decision Decision
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&decision); err != nil {
		return nil, &SubmitError{Action: action, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	return &decision, nil
}

// recordCall finishes span/metric bookkeeping for one backend call.
func (c *Client) recordCall(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.metrics.RecordBackendCall(ctx, operation, result, durationMs)
}
