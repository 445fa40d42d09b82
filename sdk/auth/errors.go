package auth

import "errors"

// Error taxonomy of the client auth layer. Callers branch on these with
// errors.Is; everything else coming out of this package is transient and may
// be retried by the user.
var (
	// ErrNoSession means the relay has no usable refresh session: the cookie
	// is absent, expired, or failed to decrypt. Interactive consent is the
	// only way forward.
	ErrNoSession = errors.New("auth: no session")

	// ErrScopeNotGranted means consent completed but the granted scope still
	// does not satisfy the desired one. Not retried automatically.
	ErrScopeNotGranted = errors.New("auth: requested scope was not granted")

	// ErrPolicyRestricted means an identity-provider admin policy denied the
	// exchange. Surfaced to the user verbatim, never retried.
	ErrPolicyRestricted = errors.New("auth: access restricted by organization policy")

	// ErrPopupTimeout means the interactive flow was not completed before
	// the popup wait gave up.
	ErrPopupTimeout = errors.New("auth: authorization window timed out")
)
