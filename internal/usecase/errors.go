package usecase

import "errors"

// Error taxonomy for the reconciliation pipeline. Callers match with
// errors.Is; wrapped messages carry provider/endpoint/record context.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")

	// ErrTransientNetwork marks retryable 5xx/timeout failures. Surfaced only
	// after the retry budget is exhausted.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrRateLimitExceeded marks a provider that kept answering 429 through
	// the whole backoff budget. The provider is degraded for the run.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrFatalRequest marks non-retryable 4xx responses. The provider's
	// contribution is skipped for the entity type, the run continues.
	ErrFatalRequest = errors.New("fatal request failure")

	// ErrAmbiguousResolution marks a record whose identity matched two
	// distinct canonical entities equally well. Never auto-guessed.
	ErrAmbiguousResolution = errors.New("ambiguous identity resolution")

	// ErrPersistence marks a per-record commit failure. The batch continues.
	ErrPersistence = errors.New("persistence failure")

	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
