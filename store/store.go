// Package store holds the selection state shared between the globe and the
// surrounding application: the selected content id and the active contents
// list. The state is mutated only through setters; readers that need to react
// subscribe for change notification.
package store

import (
	"sync"

	"github.com/open-politics/globe/content"
)

// Store is the external selection state. Safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	selectedID     string
	activeContents []content.Summary

	subMu       sync.Mutex
	subscribers map[int]func()
	nextSubID   int
}

func New() *Store {
	return &Store{subscribers: make(map[int]func())}
}

// SelectedID returns the selected content id, or "" when nothing is selected.
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// SetSelectedID replaces the selected content id and notifies subscribers.
// Setting the current value again still notifies; deduplication is the
// subscriber's concern.
func (s *Store) SetSelectedID(id string) {
	s.mu.Lock()
	s.selectedID = id
	s.mu.Unlock()
	s.notify()
}

// ActiveContents returns a copy of the active contents list.
func (s *Store) ActiveContents() []content.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]content.Summary, len(s.activeContents))
	copy(out, s.activeContents)
	return out
}

// SetActiveContents replaces the active contents list and notifies
// subscribers.
func (s *Store) SetActiveContents(list []content.Summary) {
	cp := make([]content.Summary, len(list))
	copy(cp, list)

	s.mu.Lock()
	s.activeContents = cp
	s.mu.Unlock()
	s.notify()
}

// Subscribe registers fn to run after every mutation. The returned func
// unsubscribes.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
