package cloud

import (
	"errors"
	"fmt"
)

// APIError is a typed platform error carrying the provider error code.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud api error %s: %s", e.Code, e.Message)
}

// transientCodes are throttling/availability signatures that warrant a retry.
var transientCodes = map[string]struct{}{
	"Throttling":                  {},
	"ThrottlingException":         {},
	"RequestLimitExceeded":        {},
	"TooManyRequestsException":    {},
	"ServiceUnavailable":          {},
	"ServiceUnavailableException": {},
	"InternalError":               {},
	"InternalFailure":             {},
}

// IsTransient reports whether err carries a rate-limit, throttling,
// service-unavailable, or internal-error signature. Everything else is treated
// as permanent and surfaced immediately.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, ok := transientCodes[apiErr.Code]
	return ok
}
