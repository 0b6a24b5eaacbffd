package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
	"github.com/MichelGerding/remote-iracing-setups/internal/protocol"
)

func init() {
	logging.InitNop()
}

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{AuthURL: ts.URL, CatalogURL: ts.URL, MemberURL: ts.URL})
	return c, ts
}

func TestRefreshCredential_Success(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/refresh-token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		var req protocol.RefreshRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "refresh-1" {
			t.Errorf("expected refresh-1, got %q", req.RefreshToken)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"idToken":"id-2","refreshToken":"refresh-2","expiresIn":"3600"}`))
	}))
	defer ts.Close()

	resp, err := c.RefreshCredential(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.IDToken != "id-2" || resp.RefreshToken != "refresh-2" {
		t.Errorf("unexpected tokens: %+v", resp)
	}
	if resp.ExpiresIn.Duration() != time.Hour {
		t.Errorf("expected 1h validity, got %v", resp.ExpiresIn.Duration())
	}
}

func TestRefreshCredential_Rejected(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "TOKEN_EXPIRED", http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := c.RefreshCredential(context.Background(), "stale")
	ae, ok := AsAuth(err)
	if !ok {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if ae.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", ae.StatusCode)
	}
	if ae.Body != "TOKEN_EXPIRED" {
		t.Errorf("expected body TOKEN_EXPIRED, got %q", ae.Body)
	}
	if !IsCredentialError(err) {
		t.Error("expected credential error")
	}
}

func TestRefreshCredential_EmptyBody(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	_, err := c.RefreshCredential(context.Background(), "stale")
	pe, ok := AsProtocol(err)
	if !ok {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Op != OpRefresh {
		t.Errorf("expected op %q, got %q", OpRefresh, pe.Op)
	}
	if !IsCredentialError(err) {
		t.Error("empty refresh response should count as a credential error")
	}
}

func TestRefreshCredential_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      `<html>oops</html>`,
		"missing token": `{"refreshToken":"r"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer ts.Close()

			_, err := c.RefreshCredential(context.Background(), "x")
			if _, ok := AsProtocol(err); !ok {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestFetchCatalog(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get-all-metadata" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"cars":{"5":{"id":5,"displayName":"Car Five"}},"tracks":{}}`))
	}))
	defer ts.Close()

	cat, err := c.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Cars["5"].DisplayName != "Car Five" {
		t.Errorf("unexpected catalog: %+v", cat)
	}
}

func TestFetchCatalog_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, "bad gateway"},
		{"malformed", http.StatusOK, "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := c.FetchCatalog(context.Background())
			re, ok := AsRemote(err)
			if !ok {
				t.Fatalf("expected RemoteError, got %v", err)
			}
			if re.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, re.StatusCode)
			}
		})
	}
}

func TestListArtifacts(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "jwt-1" {
			t.Errorf("expected raw token in authorization header, got %q", got)
		}
		w.Write([]byte(`[{"fileName":"a.sto","displayName":"A.sto","trackId":9,"carId":5,"datapackId":"p1","sessionId":"s1"}]`))
	}))
	defer ts.Close()

	files, err := c.ListArtifacts(context.Background(), "jwt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	f := files[0]
	if f.PackID != "p1" || f.SessionID != "s1" || f.CarID != 5 || f.TrackID != 9 {
		t.Errorf("unexpected artifact: %+v", f)
	}
}

func TestListArtifacts_NoToken(t *testing.T) {
	var calls int
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer ts.Close()

	_, err := c.ListArtifacts(context.Background(), "")
	if !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("expected ErrNoAccessToken, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no request, got %d", calls)
	}
}

func TestListArtifacts_Expired(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := c.ListArtifacts(context.Background(), "old")
	if _, ok := AsAuth(err); !ok {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestDownloadArtifact(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/member/download-datapack-file/p1/s1/my setup.sto" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "jwt-1" {
			t.Error("missing authorization header")
		}
		w.Write([]byte("setup-bytes"))
	}))
	defer ts.Close()

	data, err := c.DownloadArtifact(context.Background(), "jwt-1", "p1", "s1", "my setup.sto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "setup-bytes" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestDownloadArtifact_NotFound(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := c.DownloadArtifact(context.Background(), "jwt-1", "p", "s", "f.sto")
	re, ok := AsRemote(err)
	if !ok {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.StatusCode != http.StatusNotFound || re.Temporary() {
		t.Errorf("unexpected error: %+v", re)
	}
}

func TestTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(Config{CatalogURL: url})
	_, err := c.FetchCatalog(context.Background())
	re, ok := AsRemote(err)
	if !ok {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.StatusCode != 0 || !re.Temporary() {
		t.Errorf("expected temporary transport error, got %+v", re)
	}
}

func TestConcurrentCalls(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cars":{},"tracks":{}}`))
	}))
	defer ts.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.FetchCatalog(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}
