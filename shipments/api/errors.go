package api

import (
	"errors"
	"fmt"
)

// AuthError means no valid credential could be obtained, or the backend
// rejected the one we had. Not retried automatically; recovery is
// re-authentication.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure: no connectivity, DNS, timeout.
// Callers may retry these; everything else is surfaced as-is.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response. Message carries the server-supplied
// error text verbatim when the body had one.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Server Error: %d", e.StatusCode)
}

// NotFoundError reports that the backend has no shipment with the given id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("shipment %s not found", e.ID)
}

// UploadError is a failed signature upload. It is distinct from status-update
// failures because by the time the upload runs the shipment is already
// Delivered server-side; delivery succeeded, proof did not.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("signature upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is transport-level and therefore worth an
// automatic retry.
func IsNetwork(err error) bool {
	var networkErr *NetworkError
	return errors.As(err, &networkErr)
}
