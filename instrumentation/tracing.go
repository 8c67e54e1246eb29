package instrumentation

// Common span and metric attribute keys.
//
// SECURITY WARNING: Never put actual credential values (bearer tokens, state
// parameters used for CSRF, cookie contents) into traces or metrics. Only
// record metadata: identifiers, operation names, result labels.
const (
	// Flow attributes
	AttrClientID  = "consent.client_id"  // Requesting client identifier (non-secret)
	AttrFlowState = "consent.flow.state" // State a flow ended in
	AttrAction    = "consent.action"     // approve or deny
	AttrResult    = "consent.result"     // Operation result label
	AttrCategory  = "consent.category"   // Error/validation category

	// Backend API attributes
	AttrOperation  = "consent.backend.operation" // fetch_client_info or submit_decision
	AttrStatusCode = "consent.backend.status"    // HTTP status from the backend
)

// Span names used around the two backend network calls.
const (
	SpanFetchClientInfo = "consent.fetch_client_info"
	SpanSubmitDecision  = "consent.submit_decision"
	SpanFlowStart       = "consent.flow.start"
)
