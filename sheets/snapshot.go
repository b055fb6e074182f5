// Package sheets holds the in-memory mirror of the backend's materialized
// tables: per-sheet header/data snapshots plus layout hints. A full reload
// replaces the whole store atomically; nothing merges incrementally.
package sheets

import "sync"

// Layout carries column-width and row-height hints as computed by the
// backend's layout estimation.
type Layout struct {
	ColumnWidths map[string]float64 `json:"columnWidths"`
	RowHeights   map[string]float64 `json:"rowHeights"`
}

// Snapshot is one sheet as fetched from the backend. Data is indexed
// [physicalRow][col]; the visual order lives in the grid, not here.
type Snapshot struct {
	Headers []string `json:"headers"`
	Data    [][]any  `json:"data"`
	Layout  Layout   `json:"layout"`
}

type Store struct {
	mu     sync.RWMutex
	sheets map[string]Snapshot
}

func NewStore() *Store {
	return &Store{sheets: make(map[string]Snapshot)}
}

// ReplaceAll swaps in a complete new set of snapshots. The reload path uses
// this so readers never observe a half-updated mix of old and new sheets.
func (s *Store) ReplaceAll(sheets map[string]Snapshot) {
	next := make(map[string]Snapshot, len(sheets))
	for name, snap := range sheets {
		next[name] = snap
	}
	s.mu.Lock()
	s.sheets = next
	s.mu.Unlock()
}

func (s *Store) Get(name string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sheets[name]
	return snap, ok
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sheets))
	for name := range s.sheets {
		names = append(names, name)
	}
	return names
}

// All returns a shallow copy of the current snapshot set.
func (s *Store) All() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.sheets))
	for name, snap := range s.sheets {
		out[name] = snap
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sheets)
}
