package remote

import (
	"errors"
	"fmt"
)

// ErrNoAccessToken is returned when an authenticated call is made without a token.
var ErrNoAccessToken = errors.New("no access token")

// AuthError is returned when a remote service rejects the credential.
// It is only recoverable by obtaining a new refresh token.
type AuthError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: credential rejected (%d): %s", e.Op, e.StatusCode, e.Body)
}

// ProtocolError is returned when a response body is empty, malformed or
// missing required fields. For the refresh call it means the refresh token
// is invalid or expired.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is returned for other non-success responses and for transport
// failures. StatusCode is 0 when no response was received.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %v", e.Op, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same call may succeed: transport
// failures and 5xx responses.
func (e *RemoteError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// AsAuth checks if an error is an AuthError and returns it.
func AsAuth(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// AsProtocol checks if an error is a ProtocolError and returns it.
func AsProtocol(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// AsRemote checks if an error is a RemoteError and returns it.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsCredentialError reports whether err means the credential is no longer
// usable (an AuthError, or a ProtocolError from the refresh call).
func IsCredentialError(err error) bool {
	if _, ok := AsAuth(err); ok {
		return true
	}
	pe, ok := AsProtocol(err)
	return ok && pe.Op == OpRefresh
}
