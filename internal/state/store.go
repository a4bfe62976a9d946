package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/photosync/internal/utils"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

var (
	ErrStateLocked    = errors.New("state: locked by another process")
	ErrUnknownBackend = errors.New("state: unknown backend")
	ErrStateCorrupt   = errors.New("state: record unreadable")
)

// Store persists a SyncState. Exactly one Store may be open per path.
type Store interface {
	// Load never fails: a missing, unreadable or corrupt record yields an
	// empty state, which biases towards re-upload rather than lost progress.
	Load() *SyncState
	// Save writes the full state synchronously.
	Save(state *SyncState) error
	// Path returns the location of the record.
	Path() string
	Close() error
}

// Open opens the store for backend at path and takes the single-writer lock.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return OpenJSONStore(path)
	case BackendSQLite:
		return OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Inspect reads the record at path for reporting. Unlike Store.Load it
// never moves an unreadable record aside, it returns ErrStateCorrupt instead.
// It takes the lock for the duration of the read, so it fails with
// ErrStateLocked while an agent runs.
func Inspect(backend, path string) (*SyncState, error) {
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}
	defer releaseLock(lock)

	switch backend {
	case BackendJSON, "":
		return inspectJSON(path)
	case BackendSQLite:
		return inspectSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Reset moves the record at path aside. It is an operator action and fails
// while an agent holds the lock.
func Reset(path string) (string, error) {
	lock, err := acquireLock(path)
	if err != nil {
		return "", err
	}
	defer releaseLock(lock)

	if !utils.FileExists(path) {
		return "", nil
	}

	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102150405"))
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("backup state: %w", err)
	}
	// sqlite side files follow the main file
	for _, suffix := range []string{"-wal", "-shm"} {
		if utils.FileExists(path + suffix) {
			if err := os.Rename(path+suffix, backup+suffix); err != nil {
				slog.Warn("state reset", "file", path+suffix, "error", err)
			}
		}
	}
	return backup, nil
}

func acquireLock(path string) (*flock.Flock, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock state: %w", err)
	}
	if !locked {
		return nil, ErrStateLocked
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) error {
	if lock == nil || !lock.Locked() {
		return nil
	}
	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("unlock state: %w", err)
	}
	return os.Remove(lock.Path())
}

// quarantine keeps an unreadable record around for inspection.
func quarantine(path string) {
	dst := fmt.Sprintf("%s.corrupt.%s", path, time.Now().Format("20060102150405"))
	if err := os.Rename(path, dst); err != nil {
		slog.Warn("state quarantine", "path", path, "error", err)
		return
	}
	slog.Warn("state quarantined", "path", path, "moved", dst)
}
