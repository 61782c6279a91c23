// Package api provides the HTTP client for the document backend.
package api

import (
	"errors"
	"fmt"
)

// AuthError indicates the backend rejected the credential. Unlike every other
// failure, an auth failure is fatal for the whole batch: every outstanding
// request is equally invalid, so the coordinator cancels all in-flight work.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (status %d)", e.StatusCode)
}

// ErrDuplicateDocument indicates the backend rejected an upload as a
// duplicate of an existing document.
var ErrDuplicateDocument = errors.New("document already exists")

// ServerError carries a non-auth error response from the backend.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error (status %d)", e.StatusCode)
}

// IsAuthError reports whether err (or anything it wraps) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
