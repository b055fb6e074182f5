package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sheetsync/headerrows"
	"sheetsync/push"
)

// DefaultDebounce is the window within which push events collapse into a
// single reload.
const DefaultDebounce = 250 * time.Millisecond

// Coalescer is a small state machine: idle, scheduled (timer armed) or
// reloading. Scheduling always supersedes a previously armed timer — there
// is a single slot, no queue. A timer that fires while a reload is in
// flight is dropped; the running reload already brings state fully up to
// date.
type Coalescer struct {
	mu       sync.Mutex
	timer    *time.Timer
	inflight bool
	closed   bool

	// ctx is the lifetime of every reload this coalescer starts; Close
	// cancels it so an in-flight reload dies with the coalescer.
	ctx  context.Context
	stop context.CancelFunc

	projectID  int64
	delay      time.Duration
	reload     func(ctx context.Context) error
	headerRows *headerrows.Store
}

func NewCoalescer(projectID int64, delay time.Duration, reload func(ctx context.Context) error, hr *headerrows.Store) *Coalescer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Coalescer{
		ctx:        ctx,
		stop:       stop,
		projectID:  projectID,
		delay:      delay,
		reload:     reload,
		headerRows: hr,
	}
}

// Run consumes a push source until it closes. Blocking; callers usually
// run it in a goroutine.
func (c *Coalescer) Run(src push.Source) {
	for ev := range src.Events() {
		c.HandleEvent(ev)
	}
}

// HandleEvent reacts to one push event. Only remat_done for this project
// counts; everything else is ignored without error. A header_rows flag on
// the event confirms the sheet's toggle before the reload is scheduled.
func (c *Coalescer) HandleEvent(ev push.Event) {
	if ev.Type != push.TypeRematDone || ev.ProjectID != c.projectID {
		return
	}
	if ev.HeaderRows != nil && ev.Sheet != "" && c.headerRows != nil {
		c.headerRows.Set(ev.Sheet, *ev.HeaderRows)
	}
	c.Trigger()
}

// Trigger schedules a debounced reload, superseding any pending schedule.
func (c *Coalescer) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, c.fire)
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	c.timer = nil
	if c.closed || c.inflight {
		// Dropped, not queued.
		c.mu.Unlock()
		return
	}
	c.inflight = true
	c.mu.Unlock()

	err := c.reload(c.ctx)

	c.mu.Lock()
	c.inflight = false
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Error("refresh: coalesced reload failed")
	}
}

// Close cancels a pending timer, cancels the in-flight reload's context and
// stops any future firing. Closing the push source is the owner's business;
// Run returns once it does.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.stop()
}
