package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RefreshTokenPlaceholder marks a config file the operator has not filled in.
const RefreshTokenPlaceholder = "PASTE_YOUR_REFRESH_TOKEN_HERE"

// FileDocument is the on-disk JSON layout.
type FileDocument struct {
	RefreshToken  string `json:"refresh_token"`
	JWTToken      string `json:"jwt_token,omitempty"`
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"admin_password"`
}

// FileStore is the file-backed configuration. It implements
// credential.Persister: every credential mutation rewrites the whole file.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc FileDocument
}

// LoadFile reads the config file at path. A missing file is created with
// placeholder values and reported as an error so the operator can fill it in.
func LoadFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		fs := &FileStore{path: path, doc: FileDocument{
			RefreshToken:  RefreshTokenPlaceholder,
			AdminUsername: "admin",
			AdminPassword: "changeme",
		}}
		if err := fs.write(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("created default config at %s: paste your refresh token into it and restart", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc FileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if doc.RefreshToken == "" || doc.RefreshToken == RefreshTokenPlaceholder {
		return nil, fmt.Errorf("config %s has no refresh token: paste yours into refresh_token and restart", path)
	}
	return &FileStore{path: path, doc: doc}, nil
}

// Document returns a copy of the current file contents.
func (f *FileStore) Document() FileDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc
}

// SaveCredential implements credential.Persister.
func (f *FileStore) SaveCredential(accessToken, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.JWTToken = accessToken
	f.doc.RefreshToken = refreshToken
	return f.write()
}

// write replaces the file atomically. Callers hold f.mu or own f exclusively.
func (f *FileStore) write() error {
	data, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
