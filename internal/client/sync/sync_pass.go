package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/photosync/internal/probe"
)

// PassResult summarizes one probe + scan + deliver pass.
type PassResult struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Online     bool          `json:"online"`
	Pending    int           `json:"pending"`
	Uploaded   []string      `json:"uploaded"`
	Failed     []string      `json:"failed"`
	Skipped    int           `json:"skipped"`
	SaveErrors int           `json:"save_errors"`
	Err        error         `json:"-"`
}

// Remaining is the number of pending artifacts left undelivered by this pass.
func (r *PassResult) Remaining() int {
	return r.Pending - len(r.Uploaded)
}

// Error returns the pass error as a string, "" when the pass succeeded.
func (r *PassResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// RunPass probes connectivity and, when online, delivers every pending
// artifact in name order. Each success is persisted before the next upload.
func (se *SyncEngine) RunPass(ctx context.Context) *PassResult {
	res := &PassResult{
		ID:        uuid.NewString(),
		StartedAt: se.now(),
		Uploaded:  []string{},
		Failed:    []string{},
	}

	if !se.muSync.TryLock() {
		res.Err = ErrSyncAlreadyRunning
		return res
	}
	defer se.muSync.Unlock()

	defer func() {
		res.Duration = time.Since(res.StartedAt)
		se.status.SetLastPass(res)
	}()

	log := slog.With("pass", res.ID)

	se.status.SetState(EngineStateProbing)
	pr := se.prober.Check(ctx)
	res.Online = pr.Online
	se.recordConnectivity(pr)

	if !pr.Online {
		se.status.SetState(EngineStateOffline)
		return res
	}

	scan := se.source.Pending(se.state)
	res.Skipped = len(scan.Skipped)
	if scan.Err != nil {
		res.Err = fmt.Errorf("scan: %w", scan.Err)
		return res
	}

	res.Pending = len(scan.Pending)
	if res.Pending == 0 {
		log.Debug("nothing to sync", "delivered", scan.Delivered, "ignored", scan.Ignored, "skipped", res.Skipped)
		return res
	}

	log.Info("found artifacts to sync", "count", res.Pending)
	se.status.SetState(EngineStateSyncing)

	if err := se.uploader.EnsureReady(ctx); err != nil {
		res.Err = fmt.Errorf("uploader not ready: %w", err)
		return res
	}

	last := len(scan.Pending) - 1
	for i, artifact := range scan.Pending {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		if err := se.uploader.Upload(ctx, artifact); err != nil {
			if ctx.Err() != nil {
				res.Err = ctx.Err()
				break
			}
			res.Failed = append(res.Failed, artifact.Name)
			failures := se.status.RecordFailure(artifact.Name, err)
			if retry, ok := retryable(err); ok {
				log.Warn("upload failed", "name", artifact.Name, "attempts", failures, "retryable", retry, "error", err)
			} else {
				log.Warn("upload failed", "name", artifact.Name, "attempts", failures, "error", err)
			}
			continue
		}

		at := se.now()
		se.state.MarkDelivered(artifact.Name, at)
		res.Uploaded = append(res.Uploaded, artifact.Name)
		se.status.RecordDelivered(artifact.Name, se.state.Count(), at)

		if err := se.store.Save(se.state); err != nil {
			// in-memory state stays authoritative for this process
			res.SaveErrors++
			log.Error("failed to save sync state", "name", artifact.Name, "error", err)
		}
		log.Info("uploaded", "name", artifact.Name, "size", artifact.Size)

		if i < last && se.cfg.UploadDelay > 0 {
			if err := se.sleep(ctx, se.cfg.UploadDelay); err != nil {
				res.Err = err
				break
			}
		}
	}

	log.Info("sync complete",
		"uploaded", len(res.Uploaded),
		"failed", len(res.Failed),
		"pending", res.Remaining(),
		"skipped", res.Skipped,
		"saveErrors", res.SaveErrors,
		"duration", time.Since(res.StartedAt),
	)
	return res
}

func (se *SyncEngine) recordConnectivity(pr probe.Result) {
	if !se.status.SetOnline(pr.Online) {
		if !pr.Online {
			slog.Debug("still offline", "error", pr.Err)
		}
		return
	}

	if pr.Online {
		slog.Info("connectivity restored", "latency", pr.Latency)
	} else if errors.Is(pr.Err, context.Canceled) {
		slog.Debug("probe cancelled")
	} else {
		slog.Info("offline, waiting for connection", "error", pr.Err)
	}
}
