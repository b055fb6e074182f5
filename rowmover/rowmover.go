// Package rowmover moves selected rows up or down by one step, records the
// relocation with sparse position numbers and pushes the resulting visual
// order to the backend. Moves are refused outright while a sort or filter
// is active: the visual order would not express a stable reordering intent.
package rowmover

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sheetsync/editmap"
	"sheetsync/grid"
	"sheetsync/positionmap"
)

// PositionGap spaces recorded positions so future insertions fit between
// two rows without renumbering the whole sheet. The backend orders by
// relative value, so the absolute scale is free.
const PositionGap = 1000

// undoSettle batches the position-map rebuild after an undo restores a
// removed row; the widget fires the hook once per restored row.
const undoSettle = 50 * time.Millisecond

type PositionSender interface {
	SendPositionMap(ctx context.Context, m *positionmap.Map) error
}

type Direction int

const (
	Up Direction = iota
	Down
)

type Mover struct {
	sheet      string
	headers    []string
	data       [][]any
	rowIDIndex int
	grid       grid.Grid
	ledger     *editmap.Store
	backend    PositionSender

	mu        sync.Mutex
	undoTimer *time.Timer
}

type Config struct {
	Sheet      string
	Headers    []string
	Data       [][]any
	RowIDIndex int
	Grid       grid.Grid
	Ledger     *editmap.Store
	Backend    PositionSender
}

func New(cfg Config) *Mover {
	return &Mover{
		sheet:      cfg.Sheet,
		headers:    cfg.Headers,
		data:       cfg.Data,
		rowIDIndex: cfg.RowIDIndex,
		grid:       cfg.Grid,
		ledger:     cfg.Ledger,
		backend:    cfg.Backend,
	}
}

// Blocked reports whether reordering is currently disallowed.
func (m *Mover) Blocked() bool {
	if m.grid == nil {
		return true
	}
	return m.grid.SortActive() || m.grid.FilterActive()
}

// AttachHooks subscribes to the grid's row-move and undo events so that
// widget-initiated moves (drag and drop, undo of a row removal) persist
// their order the same way explicit MoveRows calls do.
func (m *Mover) AttachHooks(ctx context.Context) {
	m.grid.OnRowMove(func(movedRows []int, finalIndex int, orderChanged bool) {
		if !orderChanged || m.Blocked() {
			return
		}
		m.recordMoves(ctx, movedRows, finalIndex)
	})
	m.grid.OnUndo(func(action grid.UndoAction) {
		if action.Type != "remove_row" {
			return
		}
		m.mu.Lock()
		if m.undoTimer != nil {
			m.undoTimer.Stop()
		}
		m.undoTimer = time.AfterFunc(undoSettle, func() {
			m.submitPositions(ctx)
		})
		m.mu.Unlock()
	})
}

// MoveRowsUp and MoveRowsDown relocate the given visual rows by one step.
// The move is all-or-nothing: if any row of the batch would leave the
// sheet, none moves. Afterwards focus lands on the row adjacent to the
// moved block in the direction of travel.
func (m *Mover) MoveRowsUp(rows []int) bool   { return m.moveRows(rows, Up) }
func (m *Mover) MoveRowsDown(rows []int) bool { return m.moveRows(rows, Down) }

func (m *Mover) moveRows(rows []int, dir Direction) bool {
	if m.grid == nil || len(rows) == 0 || m.Blocked() {
		return false
	}
	offset := 1
	if dir == Up {
		offset = -1
	}

	count := m.grid.CountRows()
	for _, r := range rows {
		if shifted := r + offset; shifted < 0 || shifted >= count {
			return false
		}
	}

	for _, r := range rows {
		m.grid.MoveRow(r, r+offset)
	}

	_, col := m.grid.Selection()
	focus := rows[len(rows)-1] + 1
	if dir == Up {
		focus = rows[0] - 1
	}
	m.grid.SelectCell(focus, col)
	return true
}

func (m *Mover) recordMoves(ctx context.Context, movedRows []int, finalIndex int) {
	for i := range movedRows {
		physical := m.grid.ToPhysical(finalIndex + i)
		if physical < 0 || physical >= len(m.data) {
			continue
		}
		row := m.data[physical]
		if m.rowIDIndex >= len(row) {
			continue
		}
		m.ledger.MoveRow(m.sheet, row[m.rowIDIndex], finalIndex*PositionGap)
	}
	m.submitPositions(ctx)
}

func (m *Mover) submitPositions(ctx context.Context) {
	pm := positionmap.Build(m.sheet, m.grid, m.headers, m.data)
	if pm == nil {
		return
	}
	if err := m.backend.SendPositionMap(ctx, pm); err != nil {
		logrus.WithError(err).WithField("sheet", m.sheet).
			Warn("rowmover: position map submit failed")
	}
}
