// Package storage defines where mirrored artifacts are placed. Keys are
// slash-separated relative paths of the form <car>/<track>/<file>.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/MichelGerding/remote-iracing-setups/internal/storage/local"
	s3backend "github.com/MichelGerding/remote-iracing-setups/internal/storage/s3"
)

// Backend is the interface for artifact storage.
type Backend interface {
	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// PutObject writes the whole object, creating any missing parent
	// directories. Readers never observe a partially written object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// Location describes where key lives, for logs and events.
	Location(key string) string

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "local" (default) or "s3"
	Local   local.Config
	S3      s3backend.Config
}

// New creates the configured backend.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return local.New(cfg.Local)
	case "s3":
		return s3backend.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
