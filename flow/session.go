package flow

import "golang.org/x/oauth2"

// Session is the authenticated identity a consent flow runs under. The
// credential itself is issued by the host application; this package only
// consumes it.
type Session struct {
	// UserID scopes approval records. Two sessions with the same UserID
	// share an auto-approval history.
	UserID string

	// Token authenticates decision submissions to the backend.
	Token *oauth2.Token
}

// Authenticated reports whether the session can run a consent flow.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != "" && s.Token != nil && s.Token.Valid()
}

// BearerToken returns the access token for the Authorization header.
func (s *Session) BearerToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}
