// Package api provides the control surface HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MichelGerding/remote-iracing-setups/internal/credential"
	"github.com/MichelGerding/remote-iracing-setups/internal/events"
	"github.com/MichelGerding/remote-iracing-setups/internal/history"
	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
	"github.com/MichelGerding/remote-iracing-setups/internal/protocol"
	"github.com/MichelGerding/remote-iracing-setups/webapp"
)

const maxRequestBody = 64 << 10

// Engine is the set of sync operations the control surface triggers.
type Engine interface {
	Credential() credential.Credential
	Status() protocol.StatusResponse
	History(ctx context.Context, limit int) ([]history.Run, error)
	RefreshCredential(ctx context.Context) error
	UpdateRefreshToken(ctx context.Context, refreshToken string) error
	RefreshCatalog(ctx context.Context) error
	ReconcileFiles(ctx context.Context) (int, error)
}

// Config configures the server.
type Config struct {
	Admin                 AdminCredential
	AuthFailuresPerMinute int // 0 disables the failed-login limiter
}

// Server is the control surface.
type Server struct {
	engine      Engine
	broadcaster *events.Broadcaster
	admin       AdminCredential
	limiter     *FailureLimiter
	pages       fs.FS
}

// NewServer creates a new server. broadcaster may be nil, in which case the
// event stream answers 503.
func NewServer(engine Engine, broadcaster *events.Broadcaster, cfg Config) *Server {
	return &Server{
		engine:      engine,
		broadcaster: broadcaster,
		admin:       cfg.Admin,
		limiter:     NewFailureLimiter(cfg.AuthFailuresPerMinute),
		pages:       webapp.Assets,
	}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /{$}", s.page("info.html"))
	mux.HandleFunc("GET /health", s.handleHealth)

	// Admin endpoints
	admin := http.NewServeMux()
	admin.HandleFunc("GET /admin/{$}", s.page("admin.html"))
	admin.HandleFunc("GET /admin/api/credential", s.handleCredential)
	admin.HandleFunc("GET /admin/api/status", s.handleStatus)
	admin.HandleFunc("GET /admin/api/history", s.handleHistory)
	admin.HandleFunc("GET /admin/api/events", s.handleEvents)
	admin.HandleFunc("POST /admin/api/update-refresh-token", s.handleUpdateRefreshToken)
	admin.HandleFunc("POST /admin/api/refresh-jwt", s.handleRefreshJWT)
	admin.HandleFunc("POST /admin/api/refresh-catalog", s.handleRefreshCatalog)
	admin.HandleFunc("POST /admin/api/download", s.handleDownload)

	mux.Handle("/admin/", s.requireAdmin(admin))
	mux.HandleFunc("GET /admin", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/", http.StatusMovedPermanently)
	})

	// Metrics reads r.Pattern, which the mux sets on the request logging
	// passes down.
	return logging.Middleware(metrics.Middleware(mux))
}

// CleanupLoop forgets stale limiter entries until ctx is done.
func (s *Server) CleanupLoop(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup(10 * time.Minute)
		}
	}
}

// ─── Pages ──────────────────────────────────────────────────────────────────

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(s.pages, name)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "page not found")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Admin API ──────────────────────────────────────────────────────────────

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	cred := s.engine.Credential()
	resp := protocol.CredentialResponse{AccessToken: cred.AccessToken}
	if exp, ok := credential.ExpiresAt(cred.AccessToken); ok {
		resp.ExpiresAt = &exp
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusInternalServerError, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	s.sendJSON(w, http.StatusOK, runs)
}

// Engine operations run to completion even if the client goes away.

func (s *Server) handleUpdateRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req protocol.UpdateRefreshTokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.engine.UpdateRefreshToken(context.WithoutCancel(r.Context()), req.RefreshToken); err != nil {
		s.operationFailed(w, r, "update refresh token", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Message: "Refresh token updated and JWT refreshed"})
}

func (s *Server) handleRefreshJWT(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RefreshCredential(context.WithoutCancel(r.Context())); err != nil {
		s.operationFailed(w, r, "refresh credential", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Message: "JWT token refreshed successfully"})
}

func (s *Server) handleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RefreshCatalog(context.WithoutCancel(r.Context())); err != nil {
		s.operationFailed(w, r, "refresh catalog", err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Message: "Catalog refreshed successfully"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	count, err := s.engine.ReconcileFiles(context.WithoutCancel(r.Context()))
	if err != nil {
		logging.WithContext(r.Context()).Error("admin operation failed",
			zap.String("operation", "download"),
			zap.Int("downloaded", count),
			zap.Error(err))
		s.sendJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{
			Error:      err.Error(),
			Code:       http.StatusInternalServerError,
			Downloaded: count,
		})
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.DownloadResponse{
		Message:    fmt.Sprintf("Successfully downloaded %d new files", count),
		Downloaded: count,
	})
}

func (s *Server) operationFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.WithContext(r.Context()).Error("admin operation failed", zap.String("operation", op), zap.Error(err))
	s.sendError(w, http.StatusInternalServerError, err.Error())
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
