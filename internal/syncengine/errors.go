package syncengine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by ReconcileFiles before any catalog has been loaded.
	ErrNotReady = errors.New("catalog not loaded yet")

	// ErrNotAuthenticated is returned by ReconcileFiles when no access token
	// has been obtained.
	ErrNotAuthenticated = errors.New("no access token, refresh the credential first")

	// ErrEmptyRefreshToken rejects an operator update without a token.
	ErrEmptyRefreshToken = errors.New("refresh token must not be empty")
)

// FilesystemError reports a storage failure while placing an artifact.
type FilesystemError struct {
	Op   string // "stat" or "write"
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// AsFilesystem extracts a *FilesystemError from err.
func AsFilesystem(err error) (*FilesystemError, bool) {
	var fe *FilesystemError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
