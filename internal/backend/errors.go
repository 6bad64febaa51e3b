package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned for 401/403. Before login this is the expected outcome.
	ErrUnauthorized     = errors.New("not authenticated")
	ErrMalformedPayload = errors.New("malformed response payload")
	ErrSubmitRejected   = errors.New("script submission rejected")
)

// StatusError is an unexpected non-2xx response.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Operation, e.Code)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Operation, e.Code, e.Body)
}
