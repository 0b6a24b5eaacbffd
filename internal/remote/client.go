// Package remote is a thin client for the auth, catalog and member services.
// The client holds no mutable state and performs exactly one HTTP round-trip
// per call, without retries.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
	"github.com/MichelGerding/remote-iracing-setups/internal/protocol"
)

// Operation names used in errors, logs and metrics.
const (
	OpRefresh  = "refresh credential"
	OpCatalog  = "fetch catalog"
	OpList     = "list artifacts"
	OpDownload = "download artifact"
)

// Default service base URLs.
const (
	DefaultAuthURL    = "https://auth.apexracinguk.com"
	DefaultCatalogURL = "https://simdata.apexracinguk.com"
	DefaultMemberURL  = "https://member.apexracinguk.com"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4 << 10

// Config holds client configuration.
type Config struct {
	AuthURL    string
	CatalogURL string
	MemberURL  string

	// Timeout bounds a whole request. Zero leaves only the transport's own
	// dial and handshake limits in place.
	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client talks to the remote services.
type Client struct {
	authURL    string
	catalogURL string
	memberURL  string
	httpClient *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = DefaultCatalogURL
	}
	if cfg.MemberURL == "" {
		cfg.MemberURL = DefaultMemberURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		authURL:    strings.TrimRight(cfg.AuthURL, "/"),
		catalogURL: strings.TrimRight(cfg.CatalogURL, "/"),
		memberURL:  strings.TrimRight(cfg.MemberURL, "/"),
		httpClient: httpClient,
	}
}

// do sends req and records the round-trip. A transport failure is returned
// as a RemoteError.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(op, 0, time.Since(start))
		logging.Debug("remote request failed", zap.String("op", op), zap.Error(err))
		return nil, &RemoteError{Op: op, Err: err}
	}
	metrics.RecordRemoteRequest(op, resp.StatusCode, time.Since(start))
	logging.Debug("remote response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}

// RefreshCredential exchanges a refresh token for a new access token and a
// rotated refresh token.
func (c *Client) RefreshCredential(ctx context.Context, refreshToken string) (*protocol.RefreshResponse, error) {
	body, err := json.Marshal(protocol.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/auth/refresh-token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(OpRefresh, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &AuthError{Op: OpRefresh, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProtocolError{Op: OpRefresh, Reason: "read response", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ProtocolError{Op: OpRefresh, Reason: "empty response; the refresh token is invalid or expired"}
	}

	var result protocol.RefreshResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &ProtocolError{Op: OpRefresh, Reason: "parse response", Err: err}
	}
	if result.IDToken == "" || result.RefreshToken == "" {
		return nil, &ProtocolError{Op: OpRefresh, Reason: "response is missing idToken or refreshToken"}
	}
	return &result, nil
}

// FetchCatalog fetches the car and track metadata.
func (c *Client) FetchCatalog(ctx context.Context) (*protocol.Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL+"/get-all-metadata", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(OpCatalog, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &RemoteError{Op: OpCatalog, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var result protocol.Catalog
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &RemoteError{Op: OpCatalog, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse catalog: %w", err)}
	}
	return &result, nil
}

// ListArtifacts lists the artifact files available to the account.
func (c *Client) ListArtifacts(ctx context.Context, accessToken string) ([]protocol.Artifact, error) {
	if accessToken == "" {
		return nil, ErrNoAccessToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.memberURL+"/member/get-datapack-files", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("authorization", accessToken)

	resp, err := c.do(OpList, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &AuthError{Op: OpList, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var files []protocol.Artifact
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, &ProtocolError{Op: OpList, Reason: "parse artifact list", Err: err}
	}
	return files, nil
}

// DownloadArtifact fetches the full contents of one artifact.
func (c *Client) DownloadArtifact(ctx context.Context, accessToken, packID, sessionID, fileName string) ([]byte, error) {
	if accessToken == "" {
		return nil, ErrNoAccessToken
	}

	fileURL := c.memberURL + "/member/download-datapack-file/" +
		url.PathEscape(packID) + "/" + url.PathEscape(sessionID) + "/" + url.PathEscape(fileName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("authorization", accessToken)

	resp, err := c.do(OpDownload, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &RemoteError{Op: OpDownload, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Op: OpDownload, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}
