package security

import (
	"fmt"
	"net/url"
	"strings"
)

// Redirect URL validation error categories for metrics and logging.
const (
	RedirectErrorCategoryInvalidFormat    = "invalid_format"
	RedirectErrorCategoryBlockedScheme    = "blocked_scheme"
	RedirectErrorCategorySchemeNotAllowed = "scheme_not_allowed"
	RedirectErrorCategoryFragment         = "fragment_not_allowed"
	RedirectErrorCategoryMissingHost      = "missing_host"
)

// blockedSchemes are never followed, regardless of configuration. A backend
// that returns any of these in redirect_url is either misconfigured or
// compromised, and following them would hand the attacker script execution
// or local file access in the user's browser.
var blockedSchemes = map[string]bool{
	"javascript": true,
	"data":       true,
	"vbscript":   true,
	"file":       true,
	"blob":       true,
	"about":      true,
}

// RedirectURLError describes why a redirect URL was rejected.
// Category is stable for metrics; Reason is the human-readable detail.
type RedirectURLError struct {
	Category string
	Reason   string
}

func (e *RedirectURLError) Error() string {
	return fmt.Sprintf("unsafe redirect url: %s", e.Reason)
}

// ValidateRedirectURL checks that a redirect URL returned by the backend is
// safe to follow. The backend is the authority on where an authorization
// should land, but the consent gateway still refuses to forward the user's
// browser to a dangerous destination.
//
// allowHTTP permits plain http URLs for local development; production
// deployments leave it false and only follow https.
func ValidateRedirectURL(rawURL string, allowHTTP bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &RedirectURLError{
			Category: RedirectErrorCategoryInvalidFormat,
			Reason:   fmt.Sprintf("parse error: %v", err),
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return &RedirectURLError{
			Category: RedirectErrorCategoryInvalidFormat,
			Reason:   "relative URLs are not allowed",
		}
	}

	if blockedSchemes[scheme] {
		return &RedirectURLError{
			Category: RedirectErrorCategoryBlockedScheme,
			Reason:   fmt.Sprintf("scheme %q is blocked", scheme),
		}
	}

	switch scheme {
	case "https":
		// always allowed
	case "http":
		if !allowHTTP {
			return &RedirectURLError{
				Category: RedirectErrorCategorySchemeNotAllowed,
				Reason:   "http redirects are not allowed (set AllowHTTPRedirects for development)",
			}
		}
	default:
		return &RedirectURLError{
			Category: RedirectErrorCategorySchemeNotAllowed,
			Reason:   fmt.Sprintf("scheme %q is not allowed", scheme),
		}
	}

	if parsed.Host == "" {
		return &RedirectURLError{
			Category: RedirectErrorCategoryMissingHost,
			Reason:   "URL has no host",
		}
	}

	// OAuth 2.0 Security BCP Section 4.1.3: redirect targets must not carry
	// fragments.
	if parsed.Fragment != "" {
		return &RedirectURLError{
			Category: RedirectErrorCategoryFragment,
			Reason:   "URL contains a fragment",
		}
	}

	return nil
}
