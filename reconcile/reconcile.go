// Package reconcile turns raw grid change events into ledger entries and
// backend submissions, and rolls the grid back when a save is rejected.
// The handler is the only writer of negative row IDs into the data matrix.
package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"sheetsync/api"
	"sheetsync/editmap"
	"sheetsync/grid"
	"sheetsync/insertid"
	"sheetsync/positionmap"
	"sheetsync/sheets"
	"sheetsync/uiconsole"
)

// Submitter is the slice of the backend client the handler needs.
type Submitter interface {
	SendEdits(ctx context.Context, sheet string, edits []editmap.EditEntry, lastUsedInsertedID int64) (*api.SendResult, error)
	SendPositionMap(ctx context.Context, m *positionmap.Map) error
}

type Handler struct {
	sheet      string
	headers    []string
	data       [][]any
	rowIDIndex int

	grid    grid.Grid
	ledger  *editmap.Store
	alloc   *insertid.Allocator
	backend Submitter
	console *uiconsole.Feed

	// blocked reports whether a filter or sort is active; position maps are
	// not rebuilt while the visual order does not express a reorder intent.
	blocked func() bool
}

type Config struct {
	Sheet      string
	Headers    []string
	Data       [][]any
	RowIDIndex int
	Grid       grid.Grid
	Ledger     *editmap.Store
	Allocator  *insertid.Allocator
	Backend    Submitter
	Console    *uiconsole.Feed
	Blocked    func() bool
}

func NewHandler(cfg Config) *Handler {
	blocked := cfg.Blocked
	if blocked == nil {
		blocked = func() bool { return false }
	}
	console := cfg.Console
	if console == nil {
		console = uiconsole.NewFeed()
	}
	return &Handler{
		sheet:      cfg.Sheet,
		headers:    cfg.Headers,
		data:       cfg.Data,
		rowIDIndex: cfg.RowIDIndex,
		grid:       cfg.Grid,
		ledger:     cfg.Ledger,
		alloc:      cfg.Allocator,
		backend:    cfg.Backend,
		console:    console,
		blocked:    blocked,
	}
}

// HandleChanges processes one batch of cell changes reported by the grid,
// records the effective ones in the ledger and submits the sheet's unsaved
// set. Data loads and the handler's own reverts are ignored; without the
// revert guard a failed save would loop forever. On a rejected batch only
// the most recently appended entry is reverted — the submit endpoint
// reports no per-edit results, so the newest entry is the best guess.
func (h *Handler) HandleChanges(ctx context.Context, changes []grid.CellChange, source grid.ChangeSource) {
	// No grid means no visual/physical translation; nothing can be recorded.
	if h.grid == nil || len(changes) == 0 || source == grid.SourceLoadData || source == grid.SourceRevert {
		return
	}

	changed := false
	for _, ch := range changes {
		if h.processChange(ctx, ch) {
			changed = true
		}
	}
	if !changed {
		return
	}

	unsaved := h.ledger.UnsavedEdits(h.sheet)
	if len(unsaved) == 0 {
		return
	}
	result, err := h.backend.SendEdits(ctx, h.sheet, unsaved, h.alloc.LastAllocated())
	if err != nil {
		h.revertLast(unsaved, err)
		return
	}
	count := result.Count
	if count == 0 {
		count = len(unsaved)
	}
	if result.Log != "" {
		h.console.Log(result.Log)
	} else {
		h.console.Log(fmt.Sprintf("edits saved (%d) for sheet %s", count, h.sheet))
	}
}

func (h *Handler) processChange(ctx context.Context, ch grid.CellChange) bool {
	if sheets.Equal(ch.Old, ch.New) {
		return false
	}
	colName, colIdx, ok := h.resolveColumn(ch.Col)
	if !ok {
		return false
	}

	physical := h.grid.ToPhysical(ch.VisualRow)
	if physical < 0 {
		physical = ch.VisualRow
	}
	if physical >= len(h.data) {
		return false
	}
	row := h.data[physical]
	if h.rowIDIndex >= len(row) {
		return false
	}

	rowID := row[h.rowIDIndex]
	if sheets.IsEmpty(rowID) {
		rowID = h.assignRowID(ctx, physical)
	}

	// The durable-ID column is never client-editable through this path.
	if colIdx == h.rowIDIndex {
		return false
	}

	oldV := sheets.Norm(ch.Old)
	newV := sheets.Norm(ch.New)

	if colName == InstallLocationColumn {
		oldID, oldOK := ExtractBracketID(oldV)
		newID, newOK := ExtractBracketID(newV)
		if !oldOK && !newOK {
			return false
		}
		oldV, newV = oldID, newID
	}

	h.ledger.AddEdit(h.sheet, rowID, ch.Col, colName, oldV, newV)
	return true
}

// assignRowID allocates a negative placeholder for a never-saved row,
// stamps it into the data matrix and records the assignment itself as a
// ledger entry so the backend learns the mapping. Inserting a row shifts
// everyone's visual position, so the position map goes out right away
// unless a filter or sort makes the visual order meaningless.
func (h *Handler) assignRowID(ctx context.Context, physical int) any {
	id := h.alloc.Allocate()
	h.data[physical][h.rowIDIndex] = id

	idColName := ""
	if h.rowIDIndex < len(h.headers) {
		idColName = h.headers[h.rowIDIndex]
	}
	h.ledger.AddEdit(h.sheet, id, h.rowIDIndex, idColName, "", id)

	if !h.blocked() && h.grid != nil {
		if m := positionmap.Build(h.sheet, h.grid, h.headers, h.data); m != nil {
			if err := h.backend.SendPositionMap(ctx, m); err != nil {
				logrus.WithError(err).WithField("sheet", h.sheet).
					Warn("reconcile: position map after insert failed")
			}
		}
	}
	return id
}

// resolveColumn maps a change's column (index or key) to its header name
// and numeric index. Anything that is neither a string nor a number is not
// an editable column.
func (h *Handler) resolveColumn(col any) (name string, idx int, ok bool) {
	switch c := col.(type) {
	case int:
		idx = c
	case int64:
		idx = int(c)
	case float64:
		idx = int(c)
	case string:
		for i, header := range h.headers {
			if header == c {
				return c, i, true
			}
		}
		return c, -1, true
	default:
		return "", -1, false
	}
	if idx >= 0 && idx < len(h.headers) {
		name = h.headers[idx]
	}
	return name, idx, true
}

func (h *Handler) revertLast(unsaved []editmap.EditEntry, cause error) {
	last := unsaved[len(unsaved)-1]

	_, colIdx, _ := h.resolveColumn(last.Col)

	physical := -1
	for i, row := range h.data {
		if h.rowIDIndex < len(row) && sheets.Equal(row[h.rowIDIndex], last.RowID) {
			physical = i
			break
		}
	}

	if colIdx >= 0 && physical >= 0 && h.grid != nil {
		if visual := h.grid.ToVisual(physical); visual >= 0 {
			h.grid.SetValue(visual, colIdx, last.OldValue, grid.SourceRevert)
		}
	}

	h.ledger.RemoveEdit(h.sheet, last.RowID, last.Col)

	logrus.WithFields(logrus.Fields{
		"sheet":  h.sheet,
		"rowId":  last.RowID,
		"column": last.ColName,
		"value":  last.NewValue,
		"reason": cause,
	}).Error("reconcile: save failed, edit reverted")
	h.console.Log(fmt.Sprintf(
		"save failed for sheet %s, row %v, column %s: %q reverted to %q (%v)",
		h.sheet, last.RowID, last.ColName, fmt.Sprint(last.NewValue), fmt.Sprint(last.OldValue), cause))
}
