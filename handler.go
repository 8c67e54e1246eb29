package consent

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth-consent/authz"
	"github.com/giantswarm/oauth-consent/flow"
	"github.com/giantswarm/oauth-consent/instrumentation"
)

// maxDecisionBody caps the decision request body (64KB). The body is a
// handful of OAuth parameters; anything larger is not a legitimate client.
const maxDecisionBody = 64 * 1024

// SessionResolver extracts the authenticated session from an incoming
// request. The host application owns authentication (cookies, token
// verification); the handler only consumes the result. Returning a nil
// session or an error yields an unauthorized response.
type SessionResolver func(r *http.Request) (*Session, error)

// SessionResponse is the JSON body for the session endpoint.
type SessionResponse struct {
	// Status is "redirecting" or "prompt"
	Status string `json:"status"`

	// RedirectURL is set when Status is "redirecting"
	RedirectURL string `json:"redirect_url,omitempty"`

	// Client is set when Status is "prompt"
	Client *ClientInfo `json:"client,omitempty"`
}

// DecisionResponse is the JSON body for the decision endpoint. Status is
// "redirecting" when the backend produced a redirect target, "noop" when it
// accepted the decision without one.
type DecisionResponse struct {
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// decisionInput is the decision endpoint request body: the original
// authorization parameters plus the user's action.
type decisionInput struct {
	AuthorizeRequest
	Action Action `json:"action"`
}

// Handler is the JSON HTTP surface of the consent service, consumed by the
// consent page frontend.
type Handler struct {
	svc     *Service
	resolve SessionResolver
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewHandler creates an HTTP handler for the consent service.
func NewHandler(svc *Service, resolver SessionResolver) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("session resolver is required")
	}
	return &Handler{
		svc:     svc,
		resolve: resolver,
		logger:  svc.cfg.Logger,
		metrics: svc.inst.Metrics(),
	}, nil
}

// RegisterRoutes registers the consent endpoints on mux under prefix,
// e.g. prefix "/consent" yields GET /consent/session and
// POST /consent/decision.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/session", h.instrument("session", h.handleSession))
	mux.HandleFunc("POST "+prefix+"/decision", h.instrument("decision", h.handleDecision))
}

// handleSession runs the flow start path for the authorization parameters in
// the query string. A remembered approval is submitted silently and the
// response carries the redirect; otherwise the response carries the client
// metadata for the consent prompt.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	session := h.sessionFromRequest(r)

	q := r.URL.Query()
	request := &AuthorizeRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}

	f := h.svc.Begin(r.Context(), session, request)

	switch f.State() {
	case StateRedirecting:
		h.writeJSON(w, http.StatusOK, SessionResponse{
			Status:      "redirecting",
			RedirectURL: f.RedirectURL(),
		})
	case StatePromptReady:
		h.writeJSON(w, http.StatusOK, SessionResponse{
			Status: "prompt",
			Client: f.ClientInfo(),
		})
	default:
		h.writeError(w, errorForFailure(f.Failure()))
	}
}

// handleDecision executes an approve/deny decision. The body repeats the
// authorization parameters so the endpoint is stateless; they are forwarded
// to the backend exactly as received.
func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	session := h.sessionFromRequest(r)
	if !session.Authenticated() {
		h.writeError(w, NewUnauthorizedError(flow.MsgNotAuthenticated))
		return
	}

	if h.svc.limiter != nil && !h.svc.limiter.Allow(session.UserID) {
		h.svc.auditor.LogRateLimitExceeded(session.UserID)
		h.metrics.RecordRateLimitExceeded(r.Context())
		h.writeError(w, NewRateLimitError())
		return
	}

	var input decisionInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDecisionBody)).Decode(&input); err != nil {
		h.writeError(w, NewInvalidRequestError("malformed request body"))
		return
	}
	if !input.Action.Valid() {
		h.writeError(w, NewInvalidRequestError("action must be \"approve\" or \"deny\""))
		return
	}

	// The auto-approval shortcut submits an approve, so it may only serve
	// a posted approve. A deny must reach the backend as a deny even when
	// the ledger holds a fresh record for this client.
	var f *Flow
	if input.Action == ActionApprove {
		f = h.svc.Begin(r.Context(), session, &input.AuthorizeRequest)
	} else {
		f = h.svc.BeginInteractive(r.Context(), session, &input.AuthorizeRequest)
	}

	switch f.State() {
	case StateRedirecting:
		// A remembered approval already resolved the posted approve.
		h.writeJSON(w, http.StatusOK, DecisionResponse{
			Status:      "redirecting",
			RedirectURL: f.RedirectURL(),
		})
		return
	case StatePromptReady:
		// proceed to the decision
	default:
		h.writeError(w, errorForFailure(f.Failure()))
		return
	}

	var err error
	if input.Action == ActionApprove {
		err = f.Approve(r.Context())
	} else {
		err = f.Deny(r.Context())
	}
	if err != nil {
		h.writeError(w, NewAuthorizationFailedError(authz.MsgSubmitFailed))
		return
	}

	switch f.State() {
	case StateFailed:
		h.writeError(w, errorForFailure(f.Failure()))
	case StatePromptReady:
		// Accepted, but the backend produced no redirect target.
		h.writeJSON(w, http.StatusOK, DecisionResponse{Status: "noop"})
	default:
		h.writeJSON(w, http.StatusOK, DecisionResponse{
			Status:      "redirecting",
			RedirectURL: f.RedirectURL(),
		})
	}
}

// sessionFromRequest resolves the session, treating resolver failures as an
// anonymous session. The flow turns an anonymous session into an
// unauthorized failure, so the error surface stays in one place.
func (h *Handler) sessionFromRequest(r *http.Request) *Session {
	session, err := h.resolve(r)
	if err != nil {
		h.logger.Warn("Session resolution failed", "error", err)
		return nil
	}
	return session
}

// errorForFailure maps a terminal flow failure onto the API error taxonomy.
func errorForFailure(f *flow.Failure) *Error {
	if f == nil {
		return NewServerError("unexpected flow state")
	}
	switch f.Message {
	case flow.MsgInvalidRequest:
		return NewInvalidRequestError(f.Message)
	case flow.MsgNotAuthenticated:
		return NewUnauthorizedError(f.Message)
	case authz.MsgClientLookupFailed:
		return NewClientLookupError(f.Message)
	case authz.MsgSubmitFailed:
		return NewAuthorizationFailedError(f.Message)
	default:
		return NewServerError(f.Message)
	}
}

// instrument wraps an endpoint with request logging and HTTP metrics.
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1000.0
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, endpoint, rec.status, durationMs)
		h.logger.Debug("Handled consent request",
			"endpoint", endpoint,
			"status", rec.status,
			"duration_ms", durationMs)
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, apiErr *Error) {
	h.writeJSON(w, apiErr.Status, ErrorResponse{
		Error:            apiErr.Code,
		ErrorDescription: apiErr.Description,
	})
}
