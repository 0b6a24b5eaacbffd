package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
)

// NewSupervisor creates the root supervisor. Service failures and restarts
// are reported through zap.
func NewSupervisor(name string) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			fields := []zap.Field{zap.String("event", e.String())}
			for k, v := range e.Map() {
				fields = append(fields, zap.Any(k, v))
			}
			logging.Warn("supervisor event", fields...)
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}

// HTTPServer is the lifecycle subset of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under a supervisor.
type HTTPService struct {
	name            string
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server. shutdownTimeout bounds graceful shutdown.
func NewHTTPService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{name: name, server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s failed: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return h.name
}

// LoopService runs a background loop that returns when its context ends.
type LoopService struct {
	Name string
	Loop func(ctx context.Context)
}

// Serve implements suture.Service. A loop that returns early is not
// restarted.
func (l *LoopService) Serve(ctx context.Context) error {
	l.Loop(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	return suture.ErrDoNotRestart
}

func (l *LoopService) String() string {
	return l.Name
}
