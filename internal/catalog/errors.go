package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is returned for a blank query before any network call.
	ErrInvalidQuery = errors.New("catalog: query is empty")

	// ErrUnavailable wraps transport-level failures (refused, timeout).
	ErrUnavailable = errors.New("catalog: remote unavailable")

	// ErrProtocol wraps responses that cannot be decoded into the expected
	// envelope, or that lack the expected result field.
	ErrProtocol = errors.New("catalog: unexpected response shape")

	// ErrDetailNotFound means the description marker is absent from the task
	// page — usually the site layout has changed.
	ErrDetailNotFound = errors.New("catalog: description marker not found")
)

// StatusError reports a non-success HTTP status together with the raw body,
// so the caller can surface both to operators. Search never returns an empty
// result set for a server-side error.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: remote returned %d: %s", e.StatusCode, e.Body)
}
