// Package logging provides the process-wide zap logger and the HTTP request
// logging middleware.
package logging

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var logger atomic.Pointer[zap.Logger]

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Init builds the global logger. An unknown level falls back to info.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	logger.Store(l)
	return nil
}

// InitNop discards all output. Used by tests.
func InitNop() {
	logger.Store(zap.NewNop())
}

// Sync flushes buffered entries.
func Sync() error {
	return l().Sync()
}

func l() *zap.Logger {
	if lg := logger.Load(); lg != nil {
		return lg
	}
	lg, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		lg = zap.NewNop()
	}
	logger.CompareAndSwap(nil, lg)
	return logger.Load()
}

// WithContext returns the request-scoped logger carried by ctx, or the
// global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if lg, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return lg
	}
	return l()
}

func Debug(msg string, fields ...zap.Field) { l().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { l().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { l().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { l().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { l().Fatal(msg, fields...) }

var requestSeq atomic.Uint64

func nextRequestID() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + strconv.FormatUint(requestSeq.Add(1), 36)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Flush keeps the event stream working through the wrapper.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware tags each request with an X-Request-ID (taken from the request
// when present) and logs one line when it completes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = nextRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		reqLog := WithContext(r.Context()).With(zap.String("request_id", id))
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, reqLog))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		reqLog.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)))
	})
}
