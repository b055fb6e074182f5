// Package refresh keeps the in-memory sheets in step with the backend.
// The Reloader performs a cancellable full reload of every sheet; the
// Coalescer collapses bursts of push notifications into single reloads and
// never lets two run at once.
package refresh

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sheetsync/editmap"
	"sheetsync/sheets"
)

// Fetcher is the slice of the backend client the reloader needs.
type Fetcher interface {
	TableData(ctx context.Context, table string) (*sheets.Snapshot, error)
	EstimateLayout(ctx context.Context, headers []string, data [][]any) (sheets.Layout, error)
}

type Reloader struct {
	mu     sync.Mutex
	cancel context.CancelFunc

	backend    Fetcher
	store      *sheets.Store
	ledger     *editmap.Store
	sheetNames func() []string
}

func NewReloader(backend Fetcher, store *sheets.Store, ledger *editmap.Store, sheetNames func() []string) *Reloader {
	return &Reloader{
		backend:    backend,
		store:      store,
		ledger:     ledger,
		sheetNames: sheetNames,
	}
}

// ReloadAll fetches every sheet in parallel, computes layouts, replaces the
// store in one step and clears the edit ledger — the reload is authoritative
// and supersedes whatever pending deltas survived this long. Starting a
// reload cancels the network requests of any reload still in flight; the
// superseded call returns context.Canceled, which callers treat as silent.
func (r *Reloader) ReloadAll(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	names := r.sheetNames()
	loaded := make([]sheets.Snapshot, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			snap, err := r.backend.TableData(ctx, name)
			if err != nil {
				return err
			}
			layout, err := r.backend.EstimateLayout(ctx, snap.Headers, snap.Data)
			if err != nil {
				return err
			}
			snap.Layout = layout
			loaded[i] = *snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			logrus.Debug("refresh: reload superseded")
		} else {
			logrus.WithError(err).Error("refresh: reload failed")
		}
		return err
	}

	next := make(map[string]sheets.Snapshot, len(names))
	for i, name := range names {
		next[name] = loaded[i]
	}
	r.store.ReplaceAll(next)
	r.ledger.ClearEdits("")
	logrus.WithField("sheets", len(names)).Info("refresh: sheets reloaded")
	return nil
}

// CancelInflight aborts the current reload's requests, if any. Used on
// teardown.
func (r *Reloader) CancelInflight() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
}
