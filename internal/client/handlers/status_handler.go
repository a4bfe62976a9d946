package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/photosync/internal/version"
	"github.com/shirou/gopsutil/v4/disk"
)

// StatusHandler reports engine and device state.
type StatusHandler struct {
	engine   Engine
	watchDir string
}

func NewStatusHandler(engine Engine, watchDir string) *StatusHandler {
	return &StatusHandler{
		engine:   engine,
		watchDir: watchDir,
	}
}

func (h *StatusHandler) Status(ctx *gin.Context) {
	if h.engine == nil {
		AbortWithError(ctx, http.StatusServiceUnavailable, ErrCodeEngineNotReady, errors.New("sync engine not initialized"))
		return
	}

	ctx.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		WatchDir:  h.watchDir,
		Engine:    h.engine.Status().Snapshot(),
		Disk:      diskInfo(h.watchDir),
	})
}

// diskInfo reports usage of the filesystem holding path. The watch dir may
// not exist yet, so the nearest existing ancestor is used.
func diskInfo(path string) *DiskInfo {
	if path == "" {
		return nil
	}

	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			return nil
		}
		path = parent
	}

	usage, err := disk.Usage(path)
	if err != nil {
		slog.Debug("disk usage", "path", path, "error", err)
		return nil
	}

	return &DiskInfo{
		Path:        path,
		Total:       usage.Total,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
	}
}
