// Package protocol defines the wire types of the remote services and of the
// control surface.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RefreshRequest is the body for POST /auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by POST /auth/refresh-token.
type RefreshResponse struct {
	IDToken      string  `json:"idToken"`
	RefreshToken string  `json:"refreshToken"`
	ExpiresIn    Seconds `json:"expiresIn"`
}

// Seconds is a duration encoded as a number of seconds. The auth service
// sends it as a quoted string ("3600"); plain numbers are accepted too.
type Seconds time.Duration

// UnmarshalJSON accepts "3600", 3600 and null.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == "" {
			*s = 0
			return nil
		}
		data = []byte(str)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid seconds value %q: %w", data, err)
	}
	*s = Seconds(time.Duration(n) * time.Second)
	return nil
}

// MarshalJSON writes the value as a quoted number of seconds.
func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(time.Duration(s)/time.Second), 10))
}

// Duration returns the value as a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// CatalogEntry describes a car or a track.
type CatalogEntry struct {
	ID          uint32  `json:"id"`
	DisplayName string  `json:"displayName"`
	IRacingPath *string `json:"iracingPath,omitempty"`
}

// Catalog is returned by GET /get-all-metadata.
type Catalog struct {
	Cars   map[string]CatalogEntry `json:"cars"`
	Tracks map[string]CatalogEntry `json:"tracks"`
}

// Artifact is a single entry of GET /member/get-datapack-files.
type Artifact struct {
	FileName    string `json:"fileName"`
	DisplayName string `json:"displayName"`
	TrackID     uint32 `json:"trackId"`
	CarID       uint32 `json:"carId"`
	PackID      string `json:"datapackId"`
	SessionID   string `json:"sessionId"`
}

// ─── Control surface ────────────────────────────────────────────────────────

// ErrorResponse is returned on control surface errors. Downloaded is set
// when a failed download run still wrote files.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       int    `json:"code"`
	Downloaded int    `json:"downloaded,omitempty"`
}

// MessageResponse is returned when a control surface action succeeds.
type MessageResponse struct {
	Message string `json:"message"`
}

// DownloadResponse is returned by POST /admin/api/download.
type DownloadResponse struct {
	Message    string `json:"message"`
	Downloaded int    `json:"downloaded"`
}

// CredentialResponse is returned by GET /admin/api/credential.
type CredentialResponse struct {
	AccessToken string     `json:"accessToken"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// UpdateRefreshTokenRequest is the body for POST /admin/api/update-refresh-token.
type UpdateRefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// StatusResponse is returned by GET /admin/api/status.
type StatusResponse struct {
	Authenticated  bool       `json:"authenticated"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	CatalogLoaded  bool       `json:"catalogLoaded"`
	Cars           int        `json:"cars"`
	Tracks         int        `json:"tracks"`
	Storage        string     `json:"storage"`
}

// SyncEvent is streamed by GET /admin/api/events.
type SyncEvent struct {
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	Count     int    `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
