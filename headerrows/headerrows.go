// Package headerrows tracks the per-sheet "header rows enabled" toggle.
// A toggle flips optimistically and stays pending until the backend's push
// event confirms the re-materialization that carries the new state.
package headerrows

import (
	"strings"
	"sync"
)

type Listener func()

type Store struct {
	mu        sync.Mutex
	state     map[string]bool
	pending   map[string]bool
	listeners []Listener
}

func NewStore() *Store {
	return &Store{
		state:   make(map[string]bool),
		pending: make(map[string]bool),
	}
}

func key(sheet string) string { return strings.ToLower(sheet) }

// Enabled defaults to true for sheets the backend has not reported yet.
func (s *Store) Enabled(sheet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on, ok := s.state[key(sheet)]; ok {
		return on
	}
	return true
}

// Set records the confirmed state and clears any pending marker.
func (s *Store) Set(sheet string, on bool) {
	s.mu.Lock()
	s.state[key(sheet)] = on
	delete(s.pending, key(sheet))
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	notify(ls)
}

func (s *Store) Pending(sheet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[key(sheet)]
}

func (s *Store) MarkPending(sheet string) {
	s.mu.Lock()
	s.pending[key(sheet)] = true
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	notify(ls)
}

func (s *Store) ClearPending(sheet string) {
	s.mu.Lock()
	delete(s.pending, key(sheet))
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	notify(ls)
}

func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func notify(ls []Listener) {
	for _, l := range ls {
		l()
	}
}
