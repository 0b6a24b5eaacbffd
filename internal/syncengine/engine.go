// Package syncengine implements the credential, catalog and file
// reconciliation operations shared by the scheduler and the control surface.
package syncengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/MichelGerding/remote-iracing-setups/internal/catalog"
	"github.com/MichelGerding/remote-iracing-setups/internal/credential"
	"github.com/MichelGerding/remote-iracing-setups/internal/events"
	"github.com/MichelGerding/remote-iracing-setups/internal/history"
	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
	"github.com/MichelGerding/remote-iracing-setups/internal/protocol"
	"github.com/MichelGerding/remote-iracing-setups/internal/storage"
)

// Remote is the subset of the remote client the engine needs.
type Remote interface {
	RefreshCredential(ctx context.Context, refreshToken string) (*protocol.RefreshResponse, error)
	FetchCatalog(ctx context.Context) (*protocol.Catalog, error)
	ListArtifacts(ctx context.Context, accessToken string) ([]protocol.Artifact, error)
	DownloadArtifact(ctx context.Context, accessToken, packID, sessionID, fileName string) ([]byte, error)
}

// Publisher receives sync events.
type Publisher interface {
	Publish(event protocol.SyncEvent)
}

// Options configures an Engine. Publisher and History may be nil.
type Options struct {
	Remote      Remote
	Credentials *credential.Store
	Catalog     *catalog.Cache
	Storage     storage.Backend
	Publisher   Publisher
	History     history.Store

	// ContinueOnError keeps reconciling after a failed artifact instead of
	// aborting the run.
	ContinueOnError bool
}

// Engine runs sync operations. It holds no lock of its own: concurrent
// reconciliations are allowed and rely on the storage existence check.
type Engine struct {
	remote          Remote
	creds           *credential.Store
	catalog         *catalog.Cache
	storage         storage.Backend
	publisher       Publisher
	history         history.Store
	continueOnError bool

	refreshGroup singleflight.Group
}

// New creates an engine.
func New(opts Options) *Engine {
	return &Engine{
		remote:          opts.Remote,
		creds:           opts.Credentials,
		catalog:         opts.Catalog,
		storage:         opts.Storage,
		publisher:       opts.Publisher,
		history:         opts.History,
		continueOnError: opts.ContinueOnError,
	}
}

// Credential returns a snapshot of the current credential.
func (e *Engine) Credential() credential.Credential {
	return e.creds.Snapshot()
}

// Status summarizes the engine state for the control surface.
func (e *Engine) Status() protocol.StatusResponse {
	cred := e.creds.Snapshot()
	st := protocol.StatusResponse{
		Authenticated: cred.HasAccessToken(),
		Storage:       e.storage.Type(),
	}
	if exp, ok := credential.ExpiresAt(cred.AccessToken); ok {
		st.TokenExpiresAt = &exp
	}
	if cat := e.catalog.Get(); cat != nil {
		st.CatalogLoaded = true
		st.Cars = len(cat.Cars)
		st.Tracks = len(cat.Tracks)
	}
	return st
}

// History returns up to limit recent runs, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]history.Run, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.Recent(ctx, limit)
}

// RefreshCredential exchanges the current refresh token for a new
// credential. Overlapping calls share one exchange, so a rotating refresh
// token is never spent twice.
func (e *Engine) RefreshCredential(ctx context.Context) error {
	_, err, shared := e.refreshGroup.Do("refresh", func() (any, error) {
		return nil, e.refresh(ctx, history.OpRefreshCredential)
	})
	if shared {
		logging.Debug("credential refresh shared with a concurrent caller")
	}
	return err
}

// UpdateRefreshToken installs an operator-supplied refresh token and
// refreshes immediately with it.
func (e *Engine) UpdateRefreshToken(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrEmptyRefreshToken
	}
	if err := e.creds.SetRefreshToken(refreshToken); err != nil {
		return err
	}
	logging.Info("refresh token updated by operator")
	// Not routed through refreshGroup: the new token must be used even when
	// a scheduled refresh is in flight. If that refresh snapshots the new
	// token first, one of the two exchanges spends it and fails even though
	// the credential rotated.
	return e.refresh(ctx, history.OpUpdateRefreshToken)
}

func (e *Engine) refresh(ctx context.Context, op string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCredentialRefresh(err == nil)
		e.record(ctx, op, start, 0, err)
		if err != nil {
			e.publish(protocol.SyncEvent{Type: events.EventCredentialFailed, Error: err.Error()})
		}
	}()

	cred := e.creds.Snapshot()
	resp, err := e.remote.RefreshCredential(ctx, cred.RefreshToken)
	if err != nil {
		logging.Error("credential refresh failed", zap.Error(err))
		return err
	}

	if err := e.creds.Replace(resp.IDToken, resp.RefreshToken, resp.ExpiresIn.Duration()); err != nil {
		logging.Error("credential refreshed but not persisted", zap.Error(err))
		return err
	}

	fields := []zap.Field{zap.Duration("validity", resp.ExpiresIn.Duration())}
	if exp, ok := credential.ExpiresAt(resp.IDToken); ok {
		metrics.SetTokenExpiry(exp)
		fields = append(fields, zap.Time("expires_at", exp))
	}
	logging.Info("credential refreshed", fields...)
	e.publish(protocol.SyncEvent{Type: events.EventCredentialRefreshed})
	return nil
}

// RefreshCatalog fetches the catalog and swaps it in. On failure the
// previous catalog stays in place.
func (e *Engine) RefreshCatalog(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCatalogRefresh(err == nil)
		e.record(ctx, history.OpRefreshCatalog, start, 0, err)
	}()

	doc, err := e.remote.FetchCatalog(ctx)
	if err != nil {
		logging.Error("catalog refresh failed", zap.Error(err))
		e.publish(protocol.SyncEvent{Type: events.EventCatalogFailed, Error: err.Error()})
		return err
	}

	cat := catalog.FromProtocol(doc)
	e.catalog.Replace(cat)
	metrics.SetCatalogSize(len(cat.Cars), len(cat.Tracks))
	logging.Info("catalog refreshed",
		zap.Int("cars", len(cat.Cars)),
		zap.Int("tracks", len(cat.Tracks)))
	e.publish(protocol.SyncEvent{Type: events.EventCatalogRefreshed, Count: len(cat.Cars) + len(cat.Tracks)})
	return nil
}

// ReconcileFiles downloads every remote setup file that is not yet in
// storage and returns how many were written. By default the first failed
// artifact aborts the run; files written before it stay in place.
func (e *Engine) ReconcileFiles(ctx context.Context) (downloaded int, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordReconcile(err == nil)
		e.record(ctx, history.OpReconcile, start, downloaded, err)
		if err != nil {
			e.publish(protocol.SyncEvent{Type: events.EventReconcileFailed, Count: downloaded, Error: err.Error()})
		} else {
			e.publish(protocol.SyncEvent{Type: events.EventReconcileComplete, Count: downloaded})
		}
	}()

	cred := e.creds.Snapshot()
	if !cred.HasAccessToken() {
		return 0, ErrNotAuthenticated
	}
	// One catalog snapshot for the whole run.
	cat := e.catalog.Get()
	if cat == nil {
		return 0, ErrNotReady
	}

	artifacts, err := e.remote.ListArtifacts(ctx, cred.AccessToken)
	if err != nil {
		logging.Error("listing artifacts failed", zap.Error(err))
		return 0, err
	}

	var failures []error
	skipped := 0
	for _, a := range artifacts {
		if !IsSetupFile(a.FileName) {
			continue
		}
		key := ArtifactKey(cat, a)

		wrote, err := e.syncArtifact(ctx, cred.AccessToken, key, a)
		if err != nil {
			metrics.RecordArtifactFailed()
			logging.Error("artifact sync failed",
				zap.String("file", a.FileName),
				zap.String("key", key),
				zap.Error(err))
			e.publish(protocol.SyncEvent{Type: events.EventArtifactFailed, Path: key, Error: err.Error()})
			if !e.continueOnError {
				return downloaded, err
			}
			failures = append(failures, err)
			continue
		}
		if wrote {
			downloaded++
		} else {
			skipped++
		}
	}

	logging.Info("reconciliation finished",
		zap.Int("listed", len(artifacts)),
		zap.Int("downloaded", downloaded),
		zap.Int("skipped", skipped),
		zap.Int("failed", len(failures)),
		zap.Duration("duration", time.Since(start)))
	return downloaded, errors.Join(failures...)
}

// syncArtifact places a single artifact. It reports false when the target
// already exists.
func (e *Engine) syncArtifact(ctx context.Context, accessToken, key string, a protocol.Artifact) (bool, error) {
	exists, err := e.storage.ObjectExists(ctx, key)
	if err != nil {
		return false, &FilesystemError{Op: "stat", Path: e.storage.Location(key), Err: err}
	}
	if exists {
		metrics.RecordArtifactSkipped()
		return false, nil
	}

	data, err := e.remote.DownloadArtifact(ctx, accessToken, a.PackID, a.SessionID, a.FileName)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", a.FileName, err)
	}

	if err := e.storage.PutObject(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return false, &FilesystemError{Op: "write", Path: e.storage.Location(key), Err: err}
	}

	metrics.RecordArtifactDownloaded(len(data))
	loc := e.storage.Location(key)
	logging.Debug("artifact written", zap.String("path", loc), zap.Int("bytes", len(data)))
	e.publish(protocol.SyncEvent{Type: events.EventArtifactDownloaded, Path: loc})
	return true, nil
}

func (e *Engine) publish(ev protocol.SyncEvent) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

func (e *Engine) record(ctx context.Context, op string, start time.Time, count int, err error) {
	if e.history == nil {
		return
	}
	run := history.Run{
		Operation:  op,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Success:    err == nil,
		Count:      count,
	}
	if err != nil {
		run.Error = err.Error()
	}
	if herr := e.history.Record(ctx, run); herr != nil {
		logging.Warn("recording run history failed", zap.String("operation", op), zap.Error(herr))
	}
}
