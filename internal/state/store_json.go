package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/gofrs/flock"
	"github.com/goccy/go-json"
	"github.com/openmined/photosync/internal/utils"
)

// JSONStore keeps the state in a single JSON document replaced atomically on
// every save.
type JSONStore struct {
	path string
	lock *flock.Flock
}

func OpenJSONStore(path string) (*JSONStore, error) {
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}
	return &JSONStore{path: path, lock: lock}, nil
}

func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) Load() *SyncState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("state not found, starting empty", "path", s.path)
		} else {
			slog.Warn("state unreadable, starting empty", "path", s.path, "error", err)
		}
		return NewSyncState()
	}

	st := NewSyncState()
	if err := json.Unmarshal(data, st); err != nil {
		slog.Warn("state corrupt, starting empty", "path", s.path, "error", err)
		quarantine(s.path)
		return NewSyncState()
	}

	slog.Debug("state loaded", "path", s.path, "delivered", st.Count(), "lastSync", st.LastSyncTime)
	return st
}

func inspectJSON(path string) (*SyncState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSyncState(), nil
	} else if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	st := NewSyncState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStateCorrupt, path, err)
	}
	return st, nil
}

func (s *JSONStore) Save(st *SyncState) error {
	data, err := st.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", s.path, err)
	}
	return nil
}

func (s *JSONStore) Close() error {
	return releaseLock(s.lock)
}

var _ Store = (*JSONStore)(nil)
