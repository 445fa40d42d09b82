// Package auth implements the client side of the typedown auth protocol:
// a scope-aware token cache, the mint client talking to the relay, the
// popup controller driving interactive consent, and the orchestrator that
// composes them into a single GetAccessToken contract.
package auth

import "github.com/typedown-app/typedown/internal/scope"

// Drive OAuth scopes, re-exported for SDK callers.
const (
	ScopeDrive     = scope.Drive
	ScopeDriveFile = scope.DriveFile
)

// ScopeResolver decides which scope the current page needs. The default is
// the per-file scope; a page can request the drive-wide scope explicitly
// (e.g. when it embeds a file browser).
type ScopeResolver struct {
	requested string
}

// NewScopeResolver builds a resolver from the page's requested short code.
// Unrecognized codes fall back to the per-file scope.
func NewScopeResolver(requestedCode string) *ScopeResolver {
	r := &ScopeResolver{}
	if scope.FromCode(requestedCode) == scope.Drive {
		r.requested = scope.Drive
	}
	return r
}

// Desired returns the scope the page wants a token for.
func (r *ScopeResolver) Desired() string {
	if r.requested != "" {
		return r.requested
	}
	return scope.DriveFile
}

// ScopeSatisfies reports whether a granted scope set covers the desired
// scope. See scope.Satisfies for the rule.
func ScopeSatisfies(granted, desired string) bool {
	return scope.Satisfies(granted, desired)
}
