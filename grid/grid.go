// Package grid defines the capability contract the sync core expects from
// the hosting grid widget: visible row count, visual/physical index
// translation, taggable cell writes, move primitives and event hooks. The
// core never reaches into widget internals; everything goes through this
// interface. Mem is an in-memory implementation for headless use and tests.
package grid

// ChangeSource tags who caused a cell write. The change handler ignores
// writes tagged as data loads or as its own reverts; without the revert tag
// a failed save would re-enter the handler forever.
type ChangeSource string

const (
	SourceEdit     ChangeSource = "edit"
	SourceLoadData ChangeSource = "loadData"
	SourceRevert   ChangeSource = "revertEdit"
	SourceAutofill ChangeSource = "autofill"
)

// CellChange is one changed cell as reported by the grid. Col is either a
// numeric column index or a string column key.
type CellChange struct {
	VisualRow int
	Col       any
	Old       any
	New       any
}

// UndoAction describes a completed undo step.
type UndoAction struct {
	// Type mirrors the widget's action types; "remove_row" is the one the
	// core reacts to (an undo that resurrects a deleted row).
	Type string
}

type ChangeHook func(changes []CellChange, source ChangeSource)
type RowMoveHook func(movedRows []int, finalIndex int, orderChanged bool)
type UndoHook func(action UndoAction)

// Grid is the live widget capability.
type Grid interface {
	// CountRows reports the number of currently visible rows; rows hidden
	// by an active filter are not counted.
	CountRows() int

	// ToPhysical translates a visual row index to the physical storage
	// index, -1 when the visual index is stale or out of range.
	ToPhysical(visual int) int

	// ToVisual is the inverse of ToPhysical, -1 when the physical row is
	// not currently rendered.
	ToVisual(physical int) int

	// SetValue writes a cell addressed by visual row and column index,
	// firing change hooks with the given source tag.
	SetValue(visualRow, col int, value any, source ChangeSource)

	// MoveRow relocates a visible row by visual index.
	MoveRow(from, to int)

	SortActive() bool
	FilterActive() bool

	SelectCell(row, col int)
	Selection() (row, col int)

	OnChange(ChangeHook)
	OnRowMove(RowMoveHook)
	OnUndo(UndoHook)
}
