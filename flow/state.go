package flow

// State is the phase a consent flow is in.
type State string

const (
	// StateLoading is the initial phase before validation has run.
	StateLoading State = "loading"

	// StateAutoApproving means the ledger is being consulted and, on a
	// hit, the approval is being submitted without showing a prompt.
	StateAutoApproving State = "auto_approving"

	// StatePromptReady means client metadata is loaded and the flow is
	// waiting for the user's decision.
	StatePromptReady State = "prompt_ready"

	// StateSubmitting means a decision is in flight to the backend.
	// Further decisions are dropped until it resolves.
	StateSubmitting State = "submitting"

	// StateRedirecting is the success terminal: the decision was
	// accepted and the flow carries a validated redirect target.
	StateRedirecting State = "redirecting"

	// StateFailed is the failure terminal: the flow cannot proceed and
	// carries a user-facing failure message.
	StateFailed State = "failed"
)

// Terminal reports whether the flow is finished, successfully or not.
func (s State) Terminal() bool {
	return s == StateRedirecting || s == StateFailed
}
