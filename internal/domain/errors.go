package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrInvalidIntent  = errors.New("invalid order intent")
	ErrNoPrice        = errors.New("price unavailable")
	ErrLockHeld       = errors.New("lock already held")
	ErrTickInProgress = errors.New("tick already in progress")
	ErrRiskLimit      = errors.New("position limit exceeded")
)

// HTTPStatusError is implemented by errors that carry the HTTP status code
// returned by a remote API (broker, LLM provider).
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// StatusOf extracts the HTTP status carried anywhere in err's chain.
// It returns 0 when no status is attached.
func StatusOf(err error) int {
	var se HTTPStatusError
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return 0
}
