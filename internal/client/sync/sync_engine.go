package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/openmined/photosync/internal/probe"
	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/state"
	"github.com/openmined/photosync/internal/uploader"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultUploadDelay  = 5 * time.Second
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrPassPanicked       = errors.New("sync pass panicked")
)

// ArtifactSource computes the artifacts still to be delivered.
type ArtifactSource interface {
	Pending(delivered scanner.Delivered) *scanner.ScanResult
}

type Config struct {
	PollInterval time.Duration
	UploadDelay  time.Duration
}

// SyncEngine delivers pending artifacts whenever the remote is reachable.
// It is the only writer of the sync state; passes never overlap.
type SyncEngine struct {
	cfg      Config
	store    state.Store
	state    *state.SyncState
	source   ArtifactSource
	prober   probe.Prober
	uploader uploader.Uploader
	status   *SyncStatus
	trigger  chan struct{}
	muSync   sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSyncEngine(
	cfg Config,
	store state.Store,
	source ArtifactSource,
	prober probe.Prober,
	up uploader.Uploader,
) (*SyncEngine, error) {
	if store == nil || source == nil || prober == nil || up == nil {
		return nil, errors.New("sync engine: store, source, prober and uploader are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.UploadDelay < 0 {
		cfg.UploadDelay = 0
	}

	st := store.Load()

	status := NewSyncStatus()
	status.SetDelivered(st.Count(), st.LastSyncTime)

	return &SyncEngine{
		cfg:      cfg,
		store:    store,
		state:    st,
		source:   source,
		prober:   prober,
		uploader: up,
		status:   status,
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

// Run loops until ctx is cancelled: probe, scan, deliver, then wait for the
// poll interval or a Trigger. A failing or panicking pass never stops the loop.
func (se *SyncEngine) Run(ctx context.Context) error {
	slog.Info("sync engine start", "interval", se.cfg.PollInterval, "uploadDelay", se.cfg.UploadDelay, "delivered", se.status.Delivered())
	defer func() {
		se.status.SetState(EngineStateStopped)
		slog.Info("sync engine stop")
	}()

	// using a timer and not a ticker to avoid queued ticks when
	// a pass takes longer than the poll interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-se.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		res := se.safePass(ctx)
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) && !errors.Is(res.Err, ErrSyncAlreadyRunning) {
			slog.Error("sync pass failed", "pass", res.ID, "error", res.Err)
		}

		if ctx.Err() != nil {
			return nil
		}
		se.status.SetState(EngineStateIdle)
		timer.Reset(se.cfg.PollInterval)
	}
}

// Trigger requests a pass as soon as the engine is idle. It never blocks;
// requests made while a pass is running collapse into one.
func (se *SyncEngine) Trigger() {
	select {
	case se.trigger <- struct{}{}:
	default:
	}
}

func (se *SyncEngine) Status() *SyncStatus {
	return se.status
}

func (se *SyncEngine) safePass(ctx context.Context) (res *PassResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync pass panic", "panic", r, "stack", string(debug.Stack()))
			if res == nil {
				res = &PassResult{}
			}
			res.Err = fmt.Errorf("%w: %v", ErrPassPanicked, r)
			se.status.SetLastPass(res)
		}
	}()
	return se.RunPass(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
