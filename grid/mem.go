package grid

import "sync"

// Mem is an in-memory grid over a physical data matrix. The visual order is
// a sequence of physical indices, optionally narrowed by a filter predicate.
// It backs the headless agent and the package tests; a real widget adapter
// satisfies the same interface.
type Mem struct {
	mu      sync.Mutex
	data    [][]any
	order   []int
	visible []int
	filter  func(physical int, row []any) bool
	sorted  bool

	selRow, selCol int

	changeHooks []ChangeHook
	moveHooks   []RowMoveHook
	undoHooks   []UndoHook
}

func NewMem(data [][]any) *Mem {
	m := &Mem{data: data}
	m.resetOrderLocked()
	m.recomputeLocked()
	return m
}

func (m *Mem) resetOrderLocked() {
	m.order = make([]int, len(m.data))
	for i := range m.data {
		m.order[i] = i
	}
}

func (m *Mem) recomputeLocked() {
	if m.filter == nil {
		m.visible = append([]int(nil), m.order...)
		return
	}
	m.visible = m.visible[:0]
	for _, p := range m.order {
		if p < len(m.data) && m.filter(p, m.data[p]) {
			m.visible = append(m.visible, p)
		}
	}
}

// Data exposes the shared physical matrix. Callers that write through it
// (e.g. stamping a freshly allocated row ID) bypass change hooks, exactly
// like direct data writes on the real widget.
func (m *Mem) Data() [][]any {
	return m.data
}

// ResetOrder restores the identity visual sequence, dropping any manual
// moves. The reload path uses this before swapping in fresh data.
func (m *Mem) ResetOrder() {
	m.mu.Lock()
	m.resetOrderLocked()
	m.recomputeLocked()
	m.mu.Unlock()
}

// SetFilter installs or clears (nil) the filter predicate.
func (m *Mem) SetFilter(fn func(physical int, row []any) bool) {
	m.mu.Lock()
	m.filter = fn
	m.recomputeLocked()
	m.mu.Unlock()
}

func (m *Mem) SetSorted(on bool) {
	m.mu.Lock()
	m.sorted = on
	m.mu.Unlock()
}

func (m *Mem) CountRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visible)
}

func (m *Mem) ToPhysical(visual int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if visual < 0 || visual >= len(m.visible) {
		return -1
	}
	return m.visible[visual]
}

func (m *Mem) ToVisual(physical int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for v, p := range m.visible {
		if p == physical {
			return v
		}
	}
	return -1
}

func (m *Mem) SetValue(visualRow, col int, value any, source ChangeSource) {
	m.mu.Lock()
	if visualRow < 0 || visualRow >= len(m.visible) || col < 0 {
		m.mu.Unlock()
		return
	}
	physical := m.visible[visualRow]
	row := m.data[physical]
	for len(row) <= col {
		row = append(row, nil)
	}
	old := row[col]
	row[col] = value
	m.data[physical] = row
	hooks := append([]ChangeHook(nil), m.changeHooks...)
	m.mu.Unlock()

	changes := []CellChange{{VisualRow: visualRow, Col: col, Old: old, New: value}}
	for _, h := range hooks {
		h(changes, source)
	}
}

func (m *Mem) MoveRow(from, to int) {
	m.mu.Lock()
	if from < 0 || from >= len(m.order) || to < 0 || to >= len(m.order) || from == to {
		m.mu.Unlock()
		return
	}
	p := m.order[from]
	m.order = append(m.order[:from], m.order[from+1:]...)
	rest := append([]int(nil), m.order[to:]...)
	m.order = append(append(m.order[:to:to], p), rest...)
	m.recomputeLocked()
	hooks := append([]RowMoveHook(nil), m.moveHooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h([]int{from}, to, true)
	}
}

func (m *Mem) SortActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted
}

func (m *Mem) FilterActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter != nil
}

func (m *Mem) SelectCell(row, col int) {
	m.mu.Lock()
	m.selRow, m.selCol = row, col
	m.mu.Unlock()
}

func (m *Mem) Selection() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selRow, m.selCol
}

func (m *Mem) OnChange(h ChangeHook) {
	m.mu.Lock()
	m.changeHooks = append(m.changeHooks, h)
	m.mu.Unlock()
}

func (m *Mem) OnRowMove(h RowMoveHook) {
	m.mu.Lock()
	m.moveHooks = append(m.moveHooks, h)
	m.mu.Unlock()
}

func (m *Mem) OnUndo(h UndoHook) {
	m.mu.Lock()
	m.undoHooks = append(m.undoHooks, h)
	m.mu.Unlock()
}

// FireUndo reports a completed undo step to registered hooks. The real
// widget raises this itself; headless hosts call it after replaying an undo.
func (m *Mem) FireUndo(action UndoAction) {
	m.mu.Lock()
	hooks := append([]UndoHook(nil), m.undoHooks...)
	m.mu.Unlock()
	for _, h := range hooks {
		h(action)
	}
}
