/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import "errors"

// Every error returned to a client wraps one of these.
var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrCapacityExceeded        = errors.New("capacity exceeded")
	ErrCodeGenerationExhausted = errors.New("code generation exhausted")
)

// Kind returns a short machine-readable name for err, suitable for
// sending to clients.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrCodeGenerationExhausted):
		return "code_generation_exhausted"
	default:
		return "internal"
	}
}
