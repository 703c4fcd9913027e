package sync

import (
	"sort"
	"sync"
	"time"
)

// SyncRecord is the last version of a path known to be identical locally
// and remotely.
type SyncRecord struct {
	Rev         string
	SyncedMtime time.Time
}

// LocalChanged reports whether a local modification time is newer than the
// one recorded at the last transfer.
func (r SyncRecord) LocalChanged(mtime time.Time) bool {
	return mtime.After(r.SyncedMtime)
}

// SyncState maps relative slash paths to their SyncRecord. Transfers running
// in parallel write disjoint keys; the mutex guards the map itself.
type SyncState struct {
	mu      sync.RWMutex
	records map[string]SyncRecord
}

func NewSyncState() *SyncState {
	return &SyncState{records: make(map[string]SyncRecord)}
}

func (s *SyncState) Get(path string) (SyncRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[path]
	return rec, ok
}

func (s *SyncState) Set(path string, rec SyncRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[path] = rec
}

func (s *SyncState) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, path)
}

func (s *SyncState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Paths returns the tracked paths in sorted order.
func (s *SyncState) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.records))
	for p := range s.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns a copy of all records.
func (s *SyncState) Snapshot() map[string]SyncRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SyncRecord, len(s.records))
	for p, rec := range s.records {
		out[p] = rec
	}
	return out
}
