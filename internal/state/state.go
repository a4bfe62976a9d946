// Package state records which artifacts have already been delivered.
//
// A SyncState is owned by a single writer (the sync engine). Identifiers are
// only ever added, and only after the remote store confirmed the upload.
package state

import (
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
)

const recordVersion = 1

// SyncState is the durable delivery record.
type SyncState struct {
	// Delivered holds artifact identifiers confirmed uploaded.
	Delivered mapset.Set[string]
	// LastSyncTime is advisory; it is never used for correctness decisions.
	LastSyncTime time.Time
}

// NewSyncState returns an empty state.
func NewSyncState(delivered ...string) *SyncState {
	return &SyncState{
		Delivered: mapset.NewThreadUnsafeSet(delivered...),
	}
}

// IsDelivered reports whether name was already delivered.
func (s *SyncState) IsDelivered(name string) bool {
	return s.Delivered.Contains(name)
}

// MarkDelivered records a confirmed delivery.
func (s *SyncState) MarkDelivered(name string, at time.Time) {
	s.Delivered.Add(name)
	s.LastSyncTime = at.UTC()
}

// Count returns the number of delivered identifiers.
func (s *SyncState) Count() int {
	return s.Delivered.Cardinality()
}

// Names returns the delivered identifiers in ascending order.
func (s *SyncState) Names() []string {
	names := s.Delivered.ToSlice()
	slices.Sort(names)
	return names
}

// Clone returns a deep copy.
func (s *SyncState) Clone() *SyncState {
	return &SyncState{
		Delivered:    s.Delivered.Clone(),
		LastSyncTime: s.LastSyncTime,
	}
}

// stateRecord is the on-disk shape. Unknown fields are ignored on read so
// newer writers stay readable by older agents.
type stateRecord struct {
	Version      int        `json:"version,omitempty"`
	Delivered    []string   `json:"delivered"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`

	// written by the first generation of the camera agent
	LegacyUploaded []string `json:"uploaded,omitempty"`
	LegacyLastSync string   `json:"last_sync,omitempty"`
}

// legacy timestamps are naive ISO-8601 in device local time
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseLegacyTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// MarshalJSON writes the delivered set as a sorted array.
func (s *SyncState) MarshalJSON() ([]byte, error) {
	rec := stateRecord{
		Version:   recordVersion,
		Delivered: s.Names(),
	}
	if !s.LastSyncTime.IsZero() {
		t := s.LastSyncTime.UTC()
		rec.LastSyncTime = &t
	}
	return json.MarshalIndent(rec, "", "  ")
}

// UnmarshalJSON accepts the current record and the legacy layout.
func (s *SyncState) UnmarshalJSON(data []byte) error {
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	delivered := mapset.NewThreadUnsafeSet(rec.Delivered...)
	for _, name := range rec.LegacyUploaded {
		delivered.Add(name)
	}
	s.Delivered = delivered

	s.LastSyncTime = time.Time{}
	if rec.LastSyncTime != nil {
		s.LastSyncTime = rec.LastSyncTime.UTC()
	} else if rec.LegacyLastSync != "" {
		if t, ok := parseLegacyTime(rec.LegacyLastSync); ok {
			s.LastSyncTime = t
		}
	}
	return nil
}
