package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/state"
	"github.com/openmined/photosync/internal/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	dir      string
	store    *fakeStore
	prober   *fakeProber
	uploader *fakeUploader
	sleeps   *recordedSleeps
	engine   *SyncEngine
}

func newEngineFixture(t *testing.T, delivered ...string) *engineFixture {
	t.Helper()
	f := &engineFixture{
		dir:      t.TempDir(),
		store:    &fakeStore{initial: state.NewSyncState(delivered...)},
		prober:   newFakeProber(true),
		uploader: newFakeUploader(),
		sleeps:   &recordedSleeps{},
	}

	engine, err := NewSyncEngine(Config{PollInterval: time.Hour, UploadDelay: 5 * time.Second},
		f.store, newScanner(t, f.dir), f.prober, f.uploader)
	require.NoError(t, err)
	engine.sleep = f.sleeps.sleep
	f.engine = engine
	return f
}

func TestNewSyncEngine_Validation(t *testing.T) {
	_, err := NewSyncEngine(Config{}, nil, nil, nil, nil)
	assert.Error(t, err)

	f := newEngineFixture(t)
	engine, err := NewSyncEngine(Config{UploadDelay: -time.Second}, f.store, newScanner(t, f.dir), f.prober, f.uploader)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, engine.cfg.PollInterval)
	assert.Zero(t, engine.cfg.UploadDelay)
}

func TestRunPass_Idempotence(t *testing.T) {
	f := newEngineFixture(t, "wedding_A.jpg", "wedding_B.jpg")
	touch(t, f.dir, "wedding_A.jpg", "wedding_B.jpg", "wedding_C.jpg")

	res := f.engine.RunPass(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"wedding_C.jpg"}, res.Uploaded)

	res = f.engine.RunPass(context.Background())
	require.NoError(t, res.Err)
	assert.Empty(t, res.Uploaded)
	assert.Zero(t, res.Pending)

	assert.Equal(t, []string{"wedding_C.jpg"}, f.uploader.Uploaded())
	assert.Equal(t, 3, f.engine.Status().Delivered())
}

func TestRunPass_OrdersOldestFirst(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_20240101_1200.jpg", "wedding_20240101_0900.jpg")

	res := f.engine.RunPass(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"wedding_20240101_0900.jpg", "wedding_20240101_1200.jpg"}, f.uploader.Uploaded())
}

func TestRunPass_OfflineIsNoop(t *testing.T) {
	f := newEngineFixture(t)
	f.prober.online.Store(false)
	touch(t, f.dir, "wedding_1.jpg", "wedding_2.jpg")

	res := f.engine.RunPass(context.Background())

	require.NoError(t, res.Err)
	assert.False(t, res.Online)
	assert.Zero(t, res.Pending)
	assert.Empty(t, f.uploader.Attempts())
	assert.Zero(t, f.uploader.readyCalls)
	assert.Empty(t, f.store.Saves())
	assert.Equal(t, EngineStateOffline, f.engine.Status().State())
}

func TestRunPass_PartialFailureIsolation(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_A.jpg", "wedding_B.jpg")
	f.uploader.setFailure("wedding_A.jpg", errors.New("server said no"))

	res := f.engine.RunPass(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"wedding_A.jpg"}, res.Failed)
	assert.Equal(t, []string{"wedding_B.jpg"}, res.Uploaded)
	assert.Equal(t, 1, res.Remaining())
	assert.Equal(t, 1, f.engine.Status().Failures("wedding_A.jpg"))

	saves := f.store.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, []string{"wedding_B.jpg"}, saves[0].Names())

	// A is retried on the next pass, with no retry ceiling
	f.engine.RunPass(context.Background())
	assert.Equal(t, 2, f.engine.Status().Failures("wedding_A.jpg"))

	f.uploader.setFailure("wedding_A.jpg", nil)
	res = f.engine.RunPass(context.Background())
	assert.Equal(t, []string{"wedding_A.jpg"}, res.Uploaded)
	assert.Zero(t, f.engine.Status().Failures("wedding_A.jpg"))
	assert.Equal(t, []string{"wedding_A.jpg", "wedding_B.jpg"}, f.store.Saves()[1].Names())
}

func TestRunPass_PersistsAfterEachUpload(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg", "wedding_2.jpg", "wedding_3.jpg")

	res := f.engine.RunPass(context.Background())
	require.NoError(t, res.Err)

	saves := f.store.Saves()
	require.Len(t, saves, 3)
	assert.Equal(t, []string{"wedding_1.jpg"}, saves[0].Names())
	assert.Equal(t, []string{"wedding_1.jpg", "wedding_2.jpg"}, saves[1].Names())
	assert.Equal(t, []string{"wedding_1.jpg", "wedding_2.jpg", "wedding_3.jpg"}, saves[2].Names())
	assert.False(t, saves[2].LastSyncTime.IsZero())
}

func TestRunPass_CrashSafety(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "sync_state.json")
	touch(t, dir, "wedding_1.jpg", "wedding_2.jpg", "wedding_3.jpg")

	store, err := state.OpenJSONStore(statePath)
	require.NoError(t, err)

	up := newFakeUploader()
	ctx, crash := context.WithCancel(context.Background())
	up.onUpload = func(a *scanner.Artifact) {
		if a.Name == "wedding_2.jpg" {
			crash()
		}
	}

	engine, err := NewSyncEngine(Config{UploadDelay: time.Millisecond}, store, newScanner(t, dir), newFakeProber(true), up)
	require.NoError(t, err)

	res := engine.RunPass(ctx)
	assert.ErrorIs(t, res.Err, context.Canceled)
	require.NoError(t, store.Close())

	// restart: everything persisted before the crash is skipped
	store, err = state.OpenJSONStore(statePath)
	require.NoError(t, err)
	defer store.Close()
	persisted := store.Load()
	assert.True(t, persisted.IsDelivered("wedding_1.jpg"))
	assert.False(t, persisted.IsDelivered("wedding_3.jpg"))

	up2 := newFakeUploader()
	engine, err = NewSyncEngine(Config{}, store, newScanner(t, dir), newFakeProber(true), up2)
	require.NoError(t, err)
	engine.sleep = (&recordedSleeps{}).sleep

	res = engine.RunPass(context.Background())
	require.NoError(t, res.Err)
	assert.NotContains(t, up2.Uploaded(), "wedding_1.jpg")
	assert.Contains(t, up2.Uploaded(), "wedding_3.jpg")
}

func TestRunPass_CorruptStateRecovers(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "sync_state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o644))
	touch(t, dir, "wedding_1.jpg", "wedding_2.jpg")

	store, err := state.OpenJSONStore(statePath)
	require.NoError(t, err)
	defer store.Close()

	up := newFakeUploader()
	engine, err := NewSyncEngine(Config{UploadDelay: time.Millisecond}, store, newScanner(t, dir), newFakeProber(true), up)
	require.NoError(t, err)

	res := engine.RunPass(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"wedding_1.jpg", "wedding_2.jpg"}, up.Uploaded())
	assert.Equal(t, []string{"wedding_1.jpg", "wedding_2.jpg"}, store.Load().Names())
}

func TestRunPass_FilterCorrectness(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "random.txt", "other_photo.jpg", "wedding_1.png")

	res := f.engine.RunPass(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"wedding_1.png"}, f.uploader.Attempts())
}

func TestRunPass_EnsureReadyFailureAbandonsPass(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg")
	f.uploader.readyErr = uploader.ErrNotReady

	res := f.engine.RunPass(context.Background())

	assert.ErrorIs(t, res.Err, uploader.ErrNotReady)
	assert.Equal(t, 1, res.Pending)
	assert.Equal(t, 1, res.Remaining())
	assert.Empty(t, f.uploader.Attempts())
	assert.Empty(t, f.store.Saves())
}

func TestRunPass_SaveFailureKeepsMemoryState(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg")
	f.store.saveErr = errors.New("disk full")

	res := f.engine.RunPass(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.SaveErrors)
	assert.Equal(t, []string{"wedding_1.jpg"}, res.Uploaded)

	res = f.engine.RunPass(context.Background())
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, []string{"wedding_1.jpg"}, f.uploader.Attempts())
}

func TestRunPass_UploadDelayOnlyBetweenSuccesses(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg", "wedding_2.jpg", "wedding_3.jpg")

	f.engine.RunPass(context.Background())
	assert.Equal(t, 2, f.sleeps.Count(), "no delay after the last upload")

	g := newEngineFixture(t)
	touch(t, g.dir, "wedding_1.jpg", "wedding_2.jpg", "wedding_3.jpg")
	g.uploader.setFailure("wedding_2.jpg", errors.New("boom"))

	g.engine.RunPass(context.Background())
	assert.Equal(t, 1, g.sleeps.Count(), "no delay after a failure")
}

func TestRunPass_CancelledDuringDelay(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg", "wedding_2.jpg")
	f.engine.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	f.uploader.onUpload = func(a *scanner.Artifact) { cancel() }

	start := time.Now()
	res := f.engine.RunPass(ctx)

	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"wedding_1.jpg"}, res.Uploaded)
	assert.Equal(t, []string{"wedding_1.jpg"}, f.uploader.Attempts())
}

func TestRunPass_MissingWatchDir(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, os.RemoveAll(f.dir))

	res := f.engine.RunPass(context.Background())

	assert.NoError(t, res.Err)
	assert.Zero(t, res.Pending)
	assert.Zero(t, f.uploader.readyCalls)
}

func TestRunPass_AlreadyRunning(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.muSync.Lock()
	defer f.engine.muSync.Unlock()

	res := f.engine.RunPass(context.Background())
	assert.ErrorIs(t, res.Err, ErrSyncAlreadyRunning)
	assert.Zero(t, f.prober.calls.Load())
}

func TestRun_TriggerAndStop(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(f.uploader.Uploaded()) == 1 && f.engine.Status().State() == EngineStateIdle
	}, 5*time.Second, 10*time.Millisecond)

	// poll interval is an hour; only the trigger can start the next pass
	touch(t, f.dir, "wedding_2.jpg")
	f.engine.Trigger()
	f.engine.Trigger()

	assert.Eventually(t, func() bool {
		return len(f.uploader.Uploaded()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, EngineStateStopped, f.engine.Status().State())
}

func TestRun_RecoversFromPanic(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg")
	f.engine.cfg.PollInterval = 10 * time.Millisecond

	panicked := false
	f.uploader.onUpload = func(a *scanner.Artifact) {
		if !panicked {
			panicked = true
			panic("uploader exploded")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.engine.Status().Delivered() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestStatus_Snapshot(t *testing.T) {
	f := newEngineFixture(t, "wedding_0.jpg")
	touch(t, f.dir, "wedding_1.jpg", "wedding_2.jpg")
	f.uploader.setFailure("wedding_2.jpg", errors.New("nope"))

	f.engine.RunPass(context.Background())
	snap := f.engine.Status().Snapshot()

	require.NotNil(t, snap.Online)
	assert.True(t, *snap.Online)
	assert.Equal(t, 2, snap.Delivered)
	require.NotNil(t, snap.LastSyncTime)
	require.NotNil(t, snap.LastPass)
	assert.Equal(t, 1, snap.LastPass.Uploaded)
	assert.Equal(t, 1, snap.LastPass.Failed)
	require.Contains(t, snap.Failures, "wedding_2.jpg")
	assert.Equal(t, "nope", snap.Failures["wedding_2.jpg"].LastError)
	assert.Nil(t, snap.Failures["wedding_2.jpg"].Retryable)
}

func TestStatus_FailureRetryableFromAPIError(t *testing.T) {
	f := newEngineFixture(t)
	touch(t, f.dir, "wedding_1.jpg", "wedding_2.jpg")
	f.uploader.setFailure("wedding_1.jpg", fmt.Errorf("upload bytes: %w", &uploader.APIError{StatusCode: 429}))
	f.uploader.setFailure("wedding_2.jpg", fmt.Errorf("create media item: %w", &uploader.APIError{StatusCode: 400}))

	f.engine.RunPass(context.Background())
	failures := f.engine.Status().Snapshot().Failures

	require.NotNil(t, failures["wedding_1.jpg"].Retryable)
	assert.True(t, *failures["wedding_1.jpg"].Retryable)
	require.NotNil(t, failures["wedding_2.jpg"].Retryable)
	assert.False(t, *failures["wedding_2.jpg"].Retryable)
}

func TestStatus_ConnectivityTransitions(t *testing.T) {
	s := NewSyncStatus()
	assert.True(t, s.SetOnline(false))
	assert.False(t, s.SetOnline(false))
	assert.True(t, s.SetOnline(true))
	assert.False(t, s.SetOnline(true))
}
