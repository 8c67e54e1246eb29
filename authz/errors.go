package authz

import "fmt"

// User-facing failure messages. These mirror what the consent UI shows; the
// wrapped detail stays in logs only.
const (
	// MsgClientLookupFailed is shown when client metadata cannot be fetched.
	MsgClientLookupFailed = "failed to retrieve application information"

	// MsgSubmitFailed is shown when an approve/deny submission fails.
	MsgSubmitFailed = "error processing authorization request"
)

// LookupError indicates the client metadata fetch failed: the backend
// answered with a non-success status, or the response body could not be
// parsed as ClientInfo.
type LookupError struct {
	// ClientID is the client whose metadata was requested
	ClientID string

	// StatusCode is the HTTP status from the backend, or 0 for
	// transport/parse failures
	StatusCode int

	// Err is the underlying cause, if any
	Err error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d", MsgClientLookupFailed, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", MsgClientLookupFailed, e.Err)
	}
	return MsgClientLookupFailed
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// SubmitError indicates an approve/deny submission failed: the backend
// answered with a non-success status, or the request never reached it.
type SubmitError struct {
	// Action is the decision that was being submitted
	Action Action

	// StatusCode is the HTTP status from the backend, or 0 for
	// transport/parse failures
	StatusCode int

	// Err is the underlying cause, if any
	Err error
}

func (e *SubmitError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d", MsgSubmitFailed, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", MsgSubmitFailed, e.Err)
	}
	return MsgSubmitFailed
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
