package types

import "errors"

// Integration and analysis failures collapse into four classes. Callers
// branch with errors.Is; everything else rides along via %w wrapping.
var (
	// ErrAuthenticationFailed means the credential or consent is bad. The
	// source stays down until the user re-authenticates; sibling sources
	// are unaffected.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNetwork covers transport failures, timeouts and non-success HTTP
	// statuses. Transient: retried on the next cycle.
	ErrNetwork = errors.New("network error")

	// ErrRateLimited means the upstream throttled us. Not a failure; the
	// caller backs off and retries later.
	ErrRateLimited = errors.New("rate limited")

	// ErrParsing means a payload could not be decoded into the expected
	// shape. Logged and dropped unless the upstream resends differently.
	ErrParsing = errors.New("parsing error")
)
