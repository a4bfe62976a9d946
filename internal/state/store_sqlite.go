package state

import (
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/photosync/internal/db"
	"github.com/openmined/photosync/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS delivered (
    name TEXT PRIMARY KEY,
    delivered_at TEXT NOT NULL -- RFC3339
);

CREATE TABLE IF NOT EXISTS sync_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const metaLastSyncTime = "last_sync_time"

// SQLiteStore keeps the state in a transactional SQLite database. Save only
// inserts identifiers that are not yet persisted; rows are never deleted.
type SQLiteStore struct {
	path      string
	db        *sqlx.DB
	lock      *flock.Flock
	persisted mapset.Set[string]
}

// OpenSQLiteStore opens the database at path. A database that cannot be
// opened or migrated is quarantined and replaced with an empty one.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}

	database, err := openStateDB(path)
	if err != nil {
		slog.Warn("state database unusable, starting empty", "path", path, "error", err)
		quarantine(path)
		database, err = openStateDB(path)
		if err != nil {
			releaseLock(lock)
			return nil, fmt.Errorf("open state database: %w", err)
		}
	}

	return &SQLiteStore{
		path:      path,
		db:        database,
		lock:      lock,
		persisted: mapset.NewThreadUnsafeSet[string](),
	}, nil
}

// single writer, every delivery durable before the next upload
const statePragmas = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=FULL;
`

const stateBusyTimeout = 2 * time.Second

func openStateDB(path string) (*sqlx.DB, error) {
	database, err := db.NewSqliteDB(
		db.WithPath(path),
		db.WithPragmas(statePragmas),
		db.WithBusyTimeout(stateBusyTimeout),
		db.WithMaxOpenConns(1),
	)
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(sqliteSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return database, nil
}

func inspectSQLite(path string) (*SyncState, error) {
	if !utils.FileExists(path) {
		return NewSyncState(), nil
	}

	database, err := openStateDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStateCorrupt, path, err)
	}
	defer database.Close()

	store := &SQLiteStore{path: path, db: database}
	return store.Load(), nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Load() *SyncState {
	var names []string
	if err := s.db.Select(&names, "SELECT name FROM delivered"); err != nil {
		slog.Warn("state query failed, starting empty", "path", s.path, "error", err)
		return NewSyncState()
	}

	st := NewSyncState(names...)
	s.persisted = mapset.NewThreadUnsafeSet(names...)

	var lastSync string
	err := s.db.Get(&lastSync, "SELECT value FROM sync_meta WHERE key = ?", metaLastSyncTime)
	if err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, lastSync); perr == nil {
			st.LastSyncTime = t.UTC()
		} else {
			slog.Warn("state last sync time unparsable", "value", lastSync, "error", perr)
		}
	}

	slog.Debug("state loaded", "path", s.path, "delivered", st.Count(), "lastSync", st.LastSyncTime)
	return st
}

func (s *SQLiteStore) Save(st *SyncState) error {
	added := st.Delivered.Difference(s.persisted)

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	at := st.LastSyncTime
	if at.IsZero() {
		at = time.Now().UTC()
	}
	stamp := at.Format(time.RFC3339Nano)

	for name := range added.Iter() {
		if _, err := tx.Exec("INSERT OR IGNORE INTO delivered (name, delivered_at) VALUES (?, ?)", name, stamp); err != nil {
			return fmt.Errorf("insert %s: %w", name, err)
		}
	}

	if !st.LastSyncTime.IsZero() {
		if _, err := tx.Exec("INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)", metaLastSyncTime, stamp); err != nil {
			return fmt.Errorf("update last sync time: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.persisted = s.persisted.Union(added)
	return nil
}

func (s *SQLiteStore) Close() error {
	var closeErr error
	if s.db != nil {
		closeErr = s.db.Close()
		s.db = nil
	}
	if err := releaseLock(s.lock); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}

var _ Store = (*SQLiteStore)(nil)
