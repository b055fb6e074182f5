// Package insertid issues negative placeholder row IDs for rows created
// client-side before the backend assigns a real one. The counter starts one
// below the backend's reported watermark so the two ID spaces never collide.
package insertid

import "sync"

type Allocator struct {
	mu   sync.Mutex
	next int64
}

func NewAllocator() *Allocator {
	return &Allocator{next: -1}
}

// Initialize sets the counter to one below the backend's last used inserted
// ID. Must run before any allocation for a freshly created sheet; calling it
// again resets the counter.
func (a *Allocator) Initialize(lastKnownServerID int64) {
	a.mu.Lock()
	a.next = lastKnownServerID - 1
	a.mu.Unlock()
}

// Allocate returns the current counter value and decrements it. Values are
// strictly decreasing across the session.
func (a *Allocator) Allocate() int64 {
	a.mu.Lock()
	id := a.next
	a.next--
	a.mu.Unlock()
	return id
}

// LastAllocated reports the most recently issued ID without allocating.
// Sent to the backend as the high-water mark of in-flight client IDs.
func (a *Allocator) LastAllocated() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next + 1
}
