package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetsync/api"
	"sheetsync/editmap"
	"sheetsync/grid"
	"sheetsync/insertid"
	"sheetsync/positionmap"
	"sheetsync/uiconsole"
)

type fakeBackend struct {
	mu           sync.Mutex
	failEdits    error
	sentEdits    [][]editmap.EditEntry
	watermarks   []int64
	positionMaps []*positionmap.Map
}

func (f *fakeBackend) SendEdits(_ context.Context, _ string, edits []editmap.EditEntry, lastUsed int64) (*api.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEdits != nil {
		return nil, f.failEdits
	}
	f.sentEdits = append(f.sentEdits, append([]editmap.EditEntry(nil), edits...))
	f.watermarks = append(f.watermarks, lastUsed)
	return &api.SendResult{Status: "saved", Count: len(edits)}, nil
}

func (f *fakeBackend) SendPositionMap(_ context.Context, m *positionmap.Map) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionMaps = append(f.positionMaps, m)
	return nil
}

type fixture struct {
	data    [][]any
	grid    *grid.Mem
	ledger  *editmap.Store
	alloc   *insertid.Allocator
	backend *fakeBackend
	console *uiconsole.Feed
	handler *Handler
}

var testHeaders = []string{"project_article_id", "Name", "Einbauort", "Kommentar"}

func newFixture(t *testing.T, data [][]any) *fixture {
	t.Helper()
	f := &fixture{
		data:    data,
		grid:    grid.NewMem(data),
		ledger:  editmap.NewStore(),
		alloc:   insertid.NewAllocator(),
		backend: &fakeBackend{},
		console: uiconsole.NewFeed(),
	}
	f.alloc.Initialize(0)
	f.handler = NewHandler(Config{
		Sheet:      "parts",
		Headers:    testHeaders,
		Data:       data,
		RowIDIndex: 0,
		Grid:       f.grid,
		Ledger:     f.ledger,
		Allocator:  f.alloc,
		Backend:    f.backend,
		Console:    f.console,
		Blocked:    func() bool { return f.grid.SortActive() || f.grid.FilterActive() },
	})
	f.grid.OnChange(func(changes []grid.CellChange, source grid.ChangeSource) {
		f.handler.HandleChanges(context.Background(), changes, source)
	})
	return f
}

func TestNoOpChangeLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "", ""}})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 1, Old: "Bracket A", New: "Bracket A"}},
		grid.SourceEdit)

	assert.Empty(t, f.ledger.UnsavedEdits("parts"))
	assert.Empty(t, f.backend.sentEdits)
}

func TestLoadDataSourceIgnored(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "", ""}})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 1, Old: "old", New: "new"}},
		grid.SourceLoadData)

	assert.Empty(t, f.ledger.UnsavedEdits("parts"))
}

func TestRevertSourceIgnoredDespiteDifferingValues(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "", ""}})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 1, Old: "b", New: "a"}},
		grid.SourceRevert)

	assert.Empty(t, f.ledger.UnsavedEdits("parts"))
	assert.Empty(t, f.backend.sentEdits)
}

func TestSimpleEditRecordsAndSubmits(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "", ""}})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 1, Old: "Bracket A", New: "Bracket B"}},
		grid.SourceEdit)

	require.Len(t, f.backend.sentEdits, 1)
	require.Len(t, f.backend.sentEdits[0], 1)
	sent := f.backend.sentEdits[0][0]
	assert.Equal(t, "Name", sent.ColName)
	assert.Equal(t, "Bracket B", sent.NewValue)
	// Nothing was allocated for this edit; the watermark is still the
	// initialization value.
	assert.Equal(t, int64(0), f.backend.watermarks[0])
}

func TestNewRowGetsNegativeIDAndPositionMap(t *testing.T) {
	f := newFixture(t, [][]any{
		{float64(10), "Rail", "", ""},
		{nil, "", "", ""},
	})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 1, Col: 1, Old: "", New: "Bracket A"}},
		grid.SourceEdit)

	// The placeholder is stamped into the matrix.
	assert.Equal(t, int64(-1), f.data[1][0])

	// Two entries in arrival order: the ID assignment, then the user edit.
	require.Len(t, f.backend.sentEdits, 1)
	batch := f.backend.sentEdits[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "project_article_id", batch[0].ColName)
	assert.Equal(t, float64(-1), batch[0].NewValue)
	assert.Equal(t, "Bracket A", batch[1].NewValue)

	// Inserting a row reorders everyone, so a position map went out.
	require.Len(t, f.backend.positionMaps, 1)
	assert.Equal(t, "parts", f.backend.positionMaps[0].Sheet)

	// Server accepted: nothing reverted.
	assert.Equal(t, "Bracket A", f.data[1][1])
	assert.Len(t, f.ledger.UnsavedEdits("parts"), 2)
}

func TestNewRowPositionMapSkippedWhenBlocked(t *testing.T) {
	f := newFixture(t, [][]any{{nil, "", "", ""}})
	f.grid.SetSorted(true)

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 1, Old: "", New: "x"}},
		grid.SourceEdit)

	assert.Empty(t, f.backend.positionMaps)
	assert.Equal(t, int64(-1), f.data[0][0])
}

func TestIDColumnEditDiscarded(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "", ""}})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 0, Old: float64(10), New: float64(999)}},
		grid.SourceEdit)

	assert.Empty(t, f.ledger.UnsavedEdits("parts"))
	assert.Empty(t, f.backend.sentEdits)
}

func TestInstallLocationBracketExtraction(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "Flur [12]", ""}})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 2, Old: "Flur [12]", New: "Keller [45]"}},
		grid.SourceEdit)

	unsaved := f.ledger.UnsavedEdits("parts")
	require.Len(t, unsaved, 1)
	assert.Equal(t, "12", unsaved[0].OldValue)
	assert.Equal(t, "45", unsaved[0].NewValue)
}

func TestInstallLocationWithoutBracketDiscarded(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "Flur", ""}})

	f.handler.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 2, Old: "Flur", New: "Keller"}},
		grid.SourceEdit)

	assert.Empty(t, f.ledger.UnsavedEdits("parts"))
	assert.Empty(t, f.backend.sentEdits)
}

func TestFailedSaveRevertsLastEntryWithoutLooping(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "", ""}})
	f.backend.failEdits = errors.New("server error 500")

	// Drive the edit through the grid so the cell really holds the new
	// value before the save fails.
	f.grid.SetValue(0, 1, "Bracket B", grid.SourceEdit)

	// The grid shows the pre-edit value again; the handler is wired to the
	// grid's change hooks, so a looping revert would re-submit and fail the
	// emptiness assertions below.
	assert.Equal(t, "Bracket A", f.data[0][1])
	assert.Empty(t, f.ledger.UnsavedEdits("parts"))

	history := f.console.History()
	require.NotEmpty(t, history)
	assert.Contains(t, history[len(history)-1].Text, "save failed")
}

func TestFailedSaveRevertsOnlyTheLastOfABatch(t *testing.T) {
	f := newFixture(t, [][]any{{float64(10), "Bracket A", "", "note"}})
	f.backend.failEdits = errors.New("rejected")

	// Pre-apply the batch to the matrix the way the widget does before
	// raising a single afterChange with both cells.
	f.data[0][1] = "Bracket B"
	f.data[0][3] = "changed"
	f.handler.HandleChanges(context.Background(), []grid.CellChange{
		{VisualRow: 0, Col: 1, Old: "Bracket A", New: "Bracket B"},
		{VisualRow: 0, Col: 3, Old: "note", New: "changed"},
	}, grid.SourceEdit)

	// Only the most recent entry (Kommentar) is rolled back.
	assert.Equal(t, "note", f.data[0][3])
	assert.Equal(t, "Bracket B", f.data[0][1])
	unsaved := f.ledger.UnsavedEdits("parts")
	require.Len(t, unsaved, 1)
	assert.Equal(t, "Name", unsaved[0].ColName)
}

func TestHandlerWithoutGridIgnoresChanges(t *testing.T) {
	backend := &fakeBackend{}
	ledger := editmap.NewStore()
	alloc := insertid.NewAllocator()
	alloc.Initialize(0)
	h := NewHandler(Config{
		Sheet:      "parts",
		Headers:    testHeaders,
		Data:       [][]any{{float64(10), "Bracket A", "", ""}},
		RowIDIndex: 0,
		Ledger:     ledger,
		Allocator:  alloc,
		Backend:    backend,
	})

	h.HandleChanges(context.Background(),
		[]grid.CellChange{{VisualRow: 0, Col: 1, Old: "Bracket A", New: "Bracket B"}},
		grid.SourceEdit)

	assert.Empty(t, ledger.UnsavedEdits("parts"))
	assert.Empty(t, backend.sentEdits)
}

func TestBracketIDExtraction(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{"Flur [12]", "12", true},
		{"Keller [45]", "45", true},
		{"[7]", "7", true},
		{"A [1] B [2]", "2", true},
		{"Keller", "", false},
		{"Keller []", "", false},
		{float64(12), "", false},
		{nil, "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractBracketID(tc.in)
		assert.Equal(t, tc.ok, ok, "input %v", tc.in)
		assert.Equal(t, tc.want, got, "input %v", tc.in)
	}
}
