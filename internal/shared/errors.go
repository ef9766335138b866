package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated occurs when no actor was resolved upstream.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden occurs when the actor lacks the required role.
	ErrForbidden = errors.New("forbidden")
)
