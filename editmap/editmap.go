// Package editmap is the pending-edit ledger: every unsaved cell change,
// keyed by sheet, in the order the user made it, plus side channels for row
// moves and row deletes. The store is injectable state owned by whoever
// wires the session; there are no package globals.
package editmap

import (
	"sync"
	"time"

	"sheetsync/sheets"
)

// EditEntry is one pending, unsaved cell modification. RowID is negative
// while the row only exists client-side. Col is a column index or key.
type EditEntry struct {
	RowID             any    `json:"rowId"`
	Col               any    `json:"col"`
	ColName           string `json:"colName,omitempty"`
	OriginalValue     any    `json:"originalValue"`
	OldValue          any    `json:"oldValue"`
	NewValue          any    `json:"newValue"`
	Sheet             string `json:"sheet"`
	Saved             bool   `json:"saved"`
	Timestamp         int64  `json:"timestamp"`
	TimestampReadable string `json:"timestampReadable"`
}

// RowMoveEntry records a completed relocation; NewPosition is a coarse
// ordering hint, not a dense rank.
type RowMoveEntry struct {
	RowID       any `json:"rowId"`
	NewPosition int `json:"newPosition"`
}

type RowDeleteEntry struct {
	RowID any `json:"rowId"`
}

// OrderEntry is one element of a per-sheet visual-order snapshot.
type OrderEntry struct {
	RowID    any `json:"rowId"`
	Position int `json:"position"`
}

type Store struct {
	mu          sync.Mutex
	edits       map[string][]EditEntry
	rowMoves    map[string][]RowMoveEntry
	rowDeletes  map[string][]RowDeleteEntry
	visualOrder map[string][]OrderEntry
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		edits:       make(map[string][]EditEntry),
		rowMoves:    make(map[string][]RowMoveEntry),
		rowDeletes:  make(map[string][]RowDeleteEntry),
		visualOrder: make(map[string][]OrderEntry),
		now:         time.Now,
	}
}

// AddEdit records a cell change. A first-time no-op (old equals new) is
// dropped. A later edit to a cell that already has a pending entry
// supersedes that entry in place, keeping its original value; when the new
// value returns to the original, the entry is removed entirely.
func (s *Store) AddEdit(sheet string, rowID, col any, colName string, oldValue, newValue any) {
	oldV := sheets.Norm(oldValue)
	newV := sheets.Norm(newValue)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	seq := s.edits[sheet]
	for i := range seq {
		if sheets.Equal(seq[i].RowID, rowID) && sheets.Equal(seq[i].Col, col) {
			original := seq[i].OriginalValue
			if sheets.Equal(newV, original) {
				s.edits[sheet] = append(seq[:i], seq[i+1:]...)
				return
			}
			seq[i] = EditEntry{
				RowID:             rowID,
				Col:               col,
				ColName:           colName,
				OriginalValue:     original,
				OldValue:          oldV,
				NewValue:          newV,
				Sheet:             sheet,
				Saved:             false,
				Timestamp:         now.UnixMilli(),
				TimestampReadable: now.UTC().Format(time.RFC3339),
			}
			return
		}
	}

	if sheets.Equal(oldV, newV) {
		return
	}
	s.edits[sheet] = append(seq, EditEntry{
		RowID:             rowID,
		Col:               col,
		ColName:           colName,
		OriginalValue:     oldV,
		OldValue:          oldV,
		NewValue:          newV,
		Sheet:             sheet,
		Saved:             false,
		Timestamp:         now.UnixMilli(),
		TimestampReadable: now.UTC().Format(time.RFC3339),
	})
}

// Edits returns a copy of the sheet's entries in insertion order. With an
// empty sheet name, all sheets' entries are returned.
func (s *Store) Edits(sheet string) []EditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sheet != "" {
		return append([]EditEntry(nil), s.edits[sheet]...)
	}
	var all []EditEntry
	for _, seq := range s.edits {
		all = append(all, seq...)
	}
	return all
}

// UnsavedEdits returns the entries not yet flagged saved, insertion order
// preserved. The backend applies edits in this order.
func (s *Store) UnsavedEdits(sheet string) []EditEntry {
	var out []EditEntry
	for _, e := range s.Edits(sheet) {
		if !e.Saved {
			out = append(out, e)
		}
	}
	return out
}

// RemoveEdit drops the single entry matching rowID and col, value ignored.
// Used for the per-entry revert after a failed save.
func (s *Store) RemoveEdit(sheet string, rowID, col any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.edits[sheet]
	for i := range seq {
		if sheets.Equal(seq[i].RowID, rowID) && sheets.Equal(seq[i].Col, col) {
			s.edits[sheet] = append(seq[:i], seq[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) MarkSaved(sheet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.edits[sheet]
	for i := range seq {
		seq[i].Saved = true
	}
}

// ClearEdits wipes a sheet's pending entries, or every sheet's when the
// name is empty. Called after a full reload; the reload supersedes any
// pending deltas.
func (s *Store) ClearEdits(sheet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sheet != "" {
		delete(s.edits, sheet)
		return
	}
	s.edits = make(map[string][]EditEntry)
}

// MoveRow records a relocation, overwriting any earlier move of the same row.
func (s *Store) MoveRow(sheet string, rowID any, newPosition int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.rowMoves[sheet]
	for i := range seq {
		if sheets.Equal(seq[i].RowID, rowID) {
			seq[i].NewPosition = newPosition
			return
		}
	}
	s.rowMoves[sheet] = append(seq, RowMoveEntry{RowID: rowID, NewPosition: newPosition})
}

func (s *Store) RowMoves(sheet string) []RowMoveEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RowMoveEntry(nil), s.rowMoves[sheet]...)
}

// DeleteRow tombstones a row so downstream reconciliation can recognize it.
func (s *Store) DeleteRow(sheet string, rowID any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowDeletes[sheet] = append(s.rowDeletes[sheet], RowDeleteEntry{RowID: rowID})
}

func (s *Store) DeletedRows(sheet string) []RowDeleteEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RowDeleteEntry(nil), s.rowDeletes[sheet]...)
}

// SetVisualOrder snapshots the currently displayed row order for a sheet.
func (s *Store) SetVisualOrder(sheet string, rowIDs []any) {
	order := make([]OrderEntry, len(rowIDs))
	for i, id := range rowIDs {
		order[i] = OrderEntry{RowID: id, Position: i + 1}
	}
	s.mu.Lock()
	s.visualOrder[sheet] = order
	s.mu.Unlock()
}

func (s *Store) VisualOrder(sheet string) []OrderEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OrderEntry(nil), s.visualOrder[sheet]...)
}
