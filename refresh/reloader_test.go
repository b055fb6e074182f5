package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetsync/editmap"
	"sheetsync/sheets"
)

type fakeFetcher struct {
	mu      sync.Mutex
	tables  map[string]sheets.Snapshot
	err     error
	block   chan struct{} // when set, TableData waits here first
	fetches int
}

func (f *fakeFetcher) TableData(ctx context.Context, table string) (*sheets.Snapshot, error) {
	f.mu.Lock()
	block := f.block
	f.fetches++
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	snap := f.tables[table]
	return &snap, nil
}

func (f *fakeFetcher) EstimateLayout(ctx context.Context, headers []string, data [][]any) (sheets.Layout, error) {
	return sheets.Layout{ColumnWidths: map[string]float64{"Name": 100}}, nil
}

func twoSheets() map[string]sheets.Snapshot {
	return map[string]sheets.Snapshot{
		"parts": {Headers: []string{"project_article_id", "Name"}, Data: [][]any{{float64(1), "a"}}},
		"walls": {Headers: []string{"project_article_id", "Name"}, Data: [][]any{{float64(2), "b"}}},
	}
}

func TestReloadAllReplacesStoreAndClearsLedger(t *testing.T) {
	store := sheets.NewStore()
	store.ReplaceAll(map[string]sheets.Snapshot{"stale": {}})
	ledger := editmap.NewStore()
	ledger.AddEdit("parts", 1, 1, "Name", "a", "b")

	fetcher := &fakeFetcher{tables: twoSheets()}
	r := NewReloader(fetcher, store, ledger, func() []string { return []string{"parts", "walls"} })

	require.NoError(t, r.ReloadAll(context.Background()))

	assert.Equal(t, 2, store.Len())
	_, stale := store.Get("stale")
	assert.False(t, stale)
	snap, ok := store.Get("parts")
	require.True(t, ok)
	assert.Equal(t, float64(100), snap.Layout.ColumnWidths["Name"])
	assert.Empty(t, ledger.UnsavedEdits("parts"))
}

func TestReloadAllFailureLeavesStateUntouched(t *testing.T) {
	store := sheets.NewStore()
	ledger := editmap.NewStore()
	ledger.AddEdit("parts", 1, 1, "Name", "a", "b")

	fetcher := &fakeFetcher{err: errors.New("boom")}
	r := NewReloader(fetcher, store, ledger, func() []string { return []string{"parts"} })

	require.Error(t, r.ReloadAll(context.Background()))
	assert.Equal(t, 0, store.Len())
	assert.Len(t, ledger.UnsavedEdits("parts"), 1)
}

func TestNewerReloadCancelsOlderInflight(t *testing.T) {
	store := sheets.NewStore()
	ledger := editmap.NewStore()

	block := make(chan struct{})
	fetcher := &fakeFetcher{tables: twoSheets(), block: block}
	r := NewReloader(fetcher, store, ledger, func() []string { return []string{"parts"} })

	firstDone := make(chan error, 1)
	go func() { firstDone <- r.ReloadAll(context.Background()) }()

	// Wait for the first reload to be blocked inside its fetch.
	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.fetches >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// The second (manual) reload runs unblocked.
	fetcher.mu.Lock()
	fetcher.block = nil
	fetcher.mu.Unlock()

	require.NoError(t, r.ReloadAll(context.Background()))

	err := <-firstDone
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "superseded reload should die by cancellation, got %v", err)

	// Only the winner's result is applied.
	assert.Equal(t, 1, store.Len())
	close(block)
}

func TestCancelInflightAbortsCurrentReload(t *testing.T) {
	store := sheets.NewStore()
	ledger := editmap.NewStore()

	block := make(chan struct{})
	defer close(block)
	fetcher := &fakeFetcher{tables: twoSheets(), block: block}
	r := NewReloader(fetcher, store, ledger, func() []string { return []string{"parts"} })

	done := make(chan error, 1)
	go func() { done <- r.ReloadAll(context.Background()) }()

	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.fetches >= 1
	}, 2*time.Second, 5*time.Millisecond)

	r.CancelInflight()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, store.Len())
}
