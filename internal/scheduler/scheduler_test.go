package scheduler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
)

func init() {
	logging.InitNop()
}

func TestNextFire(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		now      time.Time
		interval time.Duration
		want     time.Time
	}{
		{base, 2 * time.Hour, base.Add(2 * time.Hour)},
		{base.Add(37 * time.Minute), 2 * time.Hour, base.Add(2 * time.Hour)},
		{base.Add(119 * time.Minute), 2 * time.Hour, base.Add(2 * time.Hour)},
		{base.Add(3 * time.Minute), 50 * time.Minute, base.Add(3 * time.Minute).Truncate(50 * time.Minute).Add(50 * time.Minute)},
	}
	for _, tt := range tests {
		got := NextFire(tt.now, tt.interval)
		if !got.Equal(tt.want) {
			t.Errorf("NextFire(%v, %v) = %v, want %v", tt.now, tt.interval, got, tt.want)
		}
		if !got.After(tt.now) {
			t.Errorf("NextFire(%v, %v) is not after now", tt.now, tt.interval)
		}
		if got.Sub(tt.now) > tt.interval {
			t.Errorf("NextFire(%v, %v) is more than one interval away", tt.now, tt.interval)
		}
	}
}

func TestJob_FiresRepeatedlyAndSwallowsErrors(t *testing.T) {
	var runs atomic.Int32
	job := &Job{
		Name:     "test",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("always fails")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs despite errors, got %d", runs.Load())
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestJob_RunIsNotCancelledByShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool
	job := &Job{
		Name:     "slow",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			cancelled.Store(ctx.Err() != nil)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Serve(ctx)
		close(done)
	}()

	<-started
	cancel()
	close(release)
	<-done

	if cancelled.Load() {
		t.Error("run context was cancelled by shutdown")
	}
}

type fakeRunner struct {
	mu         sync.Mutex
	calls      []string
	catalogErr error
}

func (f *fakeRunner) RefreshCredential(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "credential")
	return nil
}

func (f *fakeRunner) RefreshCatalog(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "catalog")
	return f.catalogErr
}

func (f *fakeRunner) ReconcileFiles(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reconcile")
	return 0, nil
}

func TestNew_Jobs(t *testing.T) {
	r := &fakeRunner{catalogErr: errors.New("catalog down")}
	jobs := New(r, Config{})
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Name != JobCredentialRefresh || jobs[0].Interval != 50*time.Minute {
		t.Errorf("unexpected credential job %s/%v", jobs[0].Name, jobs[0].Interval)
	}
	if jobs[1].Name != JobCatalogSync || jobs[1].Interval != 2*time.Hour {
		t.Errorf("unexpected catalog job %s/%v", jobs[1].Name, jobs[1].Interval)
	}

	if err := jobs[1].Run(context.Background()); err != nil {
		t.Errorf("catalog failure must not fail the sync job: %v", err)
	}
	if err := jobs[0].Run(context.Background()); err != nil {
		t.Errorf("unexpected error %v", err)
	}

	want := []string{"catalog", "reconcile", "credential"}
	if len(r.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, r.calls)
	}
	for i := range want {
		if r.calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], r.calls[i])
		}
	}
}

type mockHTTPServer struct {
	listenErr error
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdowns.Add(1)
	close(m.stopCh)
	return nil
}

func TestHTTPService_GracefulShutdown(t *testing.T) {
	m := &mockHTTPServer{stopCh: make(chan struct{})}
	svc := NewHTTPService("control", m, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if m.shutdowns.Load() != 1 {
		t.Errorf("expected 1 shutdown, got %d", m.shutdowns.Load())
	}
	if svc.String() != "control" {
		t.Errorf("unexpected name %s", svc.String())
	}
}

func TestHTTPService_ListenError(t *testing.T) {
	m := &mockHTTPServer{listenErr: errors.New("address in use"), stopCh: make(chan struct{})}
	svc := NewHTTPService("control", m, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSupervisor_RunsJobs(t *testing.T) {
	var runs atomic.Int32
	sup := NewSupervisor("test")
	sup.Add(&Job{Name: "tick", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh

	if runs.Load() == 0 {
		t.Error("expected the supervised job to run")
	}
}

func TestLoopService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	svc := &LoopService{Name: "loop", Loop: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}}

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	early := &LoopService{Name: "early", Loop: func(context.Context) {}}
	if err := early.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("expected ErrDoNotRestart, got %v", err)
	}
	if early.String() != "early" {
		t.Errorf("unexpected name %q", early.String())
	}
}
