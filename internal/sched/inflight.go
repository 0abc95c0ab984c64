package sched

import "sync"

// InFlight tracks task ids that have been handed to a scheduler and not yet
// released. The scanner consults it so a task is never dispatched twice
// while a scheduler still owns it.
type InFlight struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[int64]struct{})}
}

// Add records id and reports whether it was newly added. A false return
// means the task is already in flight.
func (s *InFlight) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *InFlight) Remove(id int64) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *InFlight) Has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// IDs returns a snapshot of the tracked task ids.
func (s *InFlight) IDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

func (s *InFlight) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
