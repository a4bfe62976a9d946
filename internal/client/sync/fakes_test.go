package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/photosync/internal/probe"
	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/state"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	online atomic.Bool
	calls  atomic.Int32
}

func newFakeProber(online bool) *fakeProber {
	p := &fakeProber{}
	p.online.Store(online)
	return p
}

func (p *fakeProber) Check(ctx context.Context) probe.Result {
	p.calls.Add(1)
	if p.online.Load() {
		return probe.Result{Online: true}
	}
	return probe.Result{Err: errors.New("network unreachable")}
}

func (p *fakeProber) IsOnline(ctx context.Context) bool {
	return p.Check(ctx).Online
}

type fakeUploader struct {
	mu         sync.Mutex
	uploaded   []string
	attempts   []string
	failures   map[string]error
	readyErr   error
	readyCalls int
	onUpload   func(a *scanner.Artifact)
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{failures: make(map[string]error)}
}

func (u *fakeUploader) EnsureReady(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.readyCalls++
	return u.readyErr
}

func (u *fakeUploader) Upload(ctx context.Context, a *scanner.Artifact) error {
	u.mu.Lock()
	hook := u.onUpload
	u.attempts = append(u.attempts, a.Name)
	err := u.failures[a.Name]
	if err == nil {
		u.uploaded = append(u.uploaded, a.Name)
	}
	u.mu.Unlock()

	if hook != nil {
		hook(a)
	}
	return err
}

func (u *fakeUploader) setFailure(name string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err == nil {
		delete(u.failures, name)
		return
	}
	u.failures[name] = err
}

func (u *fakeUploader) Uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.uploaded...)
}

func (u *fakeUploader) Attempts() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.attempts...)
}

// fakeStore records every saved snapshot.
type fakeStore struct {
	mu      sync.Mutex
	initial *state.SyncState
	saves   []*state.SyncState
	saveErr error
}

func (s *fakeStore) Load() *state.SyncState {
	if s.initial == nil {
		return state.NewSyncState()
	}
	return s.initial.Clone()
}

func (s *fakeStore) Save(st *state.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, st.Clone())
	return nil
}

func (s *fakeStore) Path() string { return "memory" }
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) Saves() []*state.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*state.SyncState(nil), s.saves...)
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func newScanner(t *testing.T, dir string) *scanner.Scanner {
	t.Helper()
	s, err := scanner.New(scanner.Config{Dir: dir, Prefix: scanner.DefaultPrefix})
	require.NoError(t, err)
	return s
}

type recordedSleeps struct {
	mu    sync.Mutex
	count int
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleeps) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
