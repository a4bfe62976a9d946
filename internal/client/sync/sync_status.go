package sync

import (
	"errors"
	"sync"
	"time"

	"github.com/openmined/photosync/internal/uploader"
)

// EngineState is where the engine loop currently is.
type EngineState string

const (
	EngineStateIdle    EngineState = "idle"
	EngineStateProbing EngineState = "probing"
	EngineStateOffline EngineState = "offline"
	EngineStateSyncing EngineState = "syncing"
	EngineStateStopped EngineState = "stopped"
)

// ArtifactFailure tracks consecutive failed attempts for one artifact.
// It is informational only; there is no retry ceiling.
type ArtifactFailure struct {
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	LastAttempt time.Time `json:"last_attempt"`
	// Retryable is set when the remote store classified the last error.
	Retryable *bool `json:"retryable,omitempty"`
}

// PassSummary is the JSON friendly form of the last PassResult.
type PassSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
	Online     bool      `json:"online"`
	Pending    int       `json:"pending"`
	Uploaded   int       `json:"uploaded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	SaveErrors int       `json:"save_errors"`
	Error      string    `json:"error,omitempty"`
}

// StatusSnapshot is a point in time copy of SyncStatus.
type StatusSnapshot struct {
	State        EngineState                 `json:"state"`
	Online       *bool                       `json:"online"`
	Delivered    int                         `json:"delivered"`
	LastSyncTime *time.Time                  `json:"last_sync_time,omitempty"`
	LastPass     *PassSummary                `json:"last_pass,omitempty"`
	Failures     map[string]*ArtifactFailure `json:"failures"`
}

// SyncStatus is the engine's status, safe to read from other goroutines.
type SyncStatus struct {
	mu           sync.RWMutex
	state        EngineState
	online       *bool
	delivered    int
	lastSyncTime time.Time
	lastPass     *PassSummary
	failures     map[string]*ArtifactFailure
}

func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		state:    EngineStateIdle,
		failures: make(map[string]*ArtifactFailure),
	}
}

func (s *SyncStatus) SetState(state EngineState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *SyncStatus) State() EngineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetOnline records connectivity and reports whether it changed.
// The first observation counts as a change.
func (s *SyncStatus) SetOnline(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.online == nil || *s.online != online
	s.online = &online
	return changed
}

func (s *SyncStatus) SetDelivered(count int, lastSync time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = count
	s.lastSyncTime = lastSync
}

func (s *SyncStatus) Delivered() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delivered
}

// RecordDelivered clears the failure count for name.
func (s *SyncStatus) RecordDelivered(name string, count int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, name)
	s.delivered = count
	s.lastSyncTime = at
}

// RecordFailure bumps the consecutive failure count for name and returns it.
func (s *SyncStatus) RecordFailure(name string, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failures[name]
	if !ok {
		f = &ArtifactFailure{}
		s.failures[name] = f
	}
	f.Attempts++
	f.LastError = err.Error()
	f.LastAttempt = time.Now()
	f.Retryable = nil
	if retry, ok := retryable(err); ok {
		f.Retryable = &retry
	}
	return f.Attempts
}

func (s *SyncStatus) Failures(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.failures[name]; ok {
		return f.Attempts
	}
	return 0
}

func (s *SyncStatus) SetLastPass(res *PassResult) {
	summary := &PassSummary{
		ID:         res.ID,
		StartedAt:  res.StartedAt,
		Duration:   res.Duration.Round(time.Millisecond).String(),
		Online:     res.Online,
		Pending:    res.Pending,
		Uploaded:   len(res.Uploaded),
		Failed:     len(res.Failed),
		Skipped:    res.Skipped,
		SaveErrors: res.SaveErrors,
		Error:      res.Error(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPass = summary
}

func (s *SyncStatus) Snapshot() *StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &StatusSnapshot{
		State:     s.state,
		Delivered: s.delivered,
		Failures:  make(map[string]*ArtifactFailure, len(s.failures)),
	}
	if s.online != nil {
		online := *s.online
		snap.Online = &online
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		snap.LastSyncTime = &t
	}
	if s.lastPass != nil {
		p := *s.lastPass
		snap.LastPass = &p
	}
	for name, f := range s.failures {
		copied := *f
		snap.Failures[name] = &copied
	}
	return snap
}

// retryable reports whether err carries a remote store verdict, and which.
func retryable(err error) (retry bool, ok bool) {
	var apiErr *uploader.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable(), true
	}
	return false, false
}
