package consent

import (
	"github.com/giantswarm/oauth-consent/authz"
	"github.com/giantswarm/oauth-consent/flow"
)

// Core types re-exported from their defining packages so embedding hosts can
// work with the consent package alone.

// AuthorizeRequest carries the inbound OAuth authorization request parameters.
type AuthorizeRequest = authz.Request

// ClientInfo is the metadata describing a requesting application.
type ClientInfo = authz.ClientInfo

// Decision is the backend's response to a submitted decision.
type Decision = authz.Decision

// Action is the user's consent decision.
type Action = authz.Action

// The two decision actions.
const (
	ActionApprove = authz.ActionApprove
	ActionDeny    = authz.ActionDeny
)

// Session is the authenticated identity a consent flow runs under.
type Session = flow.Session

// Flow is one consent flow for one request under one session.
type Flow = flow.Flow

// State is the phase a consent flow is in.
type State = flow.State

// Flow states.
const (
	StateLoading       = flow.StateLoading
	StateAutoApproving = flow.StateAutoApproving
	StatePromptReady   = flow.StatePromptReady
	StateSubmitting    = flow.StateSubmitting
	StateRedirecting   = flow.StateRedirecting
	StateFailed        = flow.StateFailed
)
