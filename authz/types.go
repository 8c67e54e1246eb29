package authz

// Request carries the inbound OAuth authorization request parameters.
// The JSON tags match the wire format of both the authorize page query
// string and the backend authorize endpoint body.
type Request struct {
	// ClientID identifies the application requesting access (required)
	ClientID string `json:"client_id"`

	// RedirectURI is where the user lands after the decision (required)
	RedirectURI string `json:"redirect_uri"`

	// ResponseType is the OAuth response type, e.g. "code" (required)
	ResponseType string `json:"response_type"`

	// Scope is the space-separated list of requested scopes (optional)
	Scope string `json:"scope"`

	// State is an opaque value passed through to the redirect unchanged (optional)
	State string `json:"state"`
}

// MissingParams returns the names of required parameters that are empty.
// A request is valid iff this returns an empty slice.
func (r *Request) MissingParams() []string {
	var missing []string
	if r.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if r.RedirectURI == "" {
		missing = append(missing, "redirect_uri")
	}
	if r.ResponseType == "" {
		missing = append(missing, "response_type")
	}
	return missing
}

// Valid reports whether all required parameters are present.
func (r *Request) Valid() bool {
	return r.ClientID != "" && r.RedirectURI != "" && r.ResponseType != ""
}

// Action is the user's consent decision.
type Action string

const (
	// ActionApprove grants the client access.
	ActionApprove Action = "approve"

	// ActionDeny refuses the client access.
	ActionDeny Action = "deny"
)

// Valid reports whether the action is one of the two known decisions.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionDeny
}

// ClientInfo is the metadata describing a requesting application,
// fetched by client_id for the consent prompt.
type ClientInfo struct {
	// ClientID is the unique client identifier
	ClientID string `json:"client_id"`

	// Name is the display name shown on the consent prompt
	Name string `json:"name"`

	// CreatedAt is when the client was registered (RFC 3339)
	CreatedAt string `json:"created_at"`
}

// Decision is the backend's response to a submitted approve/deny decision.
// RedirectURL may be empty; a decision that produced no redirect is still a
// successful decision.
type Decision struct {
	RedirectURL string `json:"redirect_url,omitempty"`
}
