// Package layers tracks open UI overlays and routes Escape to the
// topmost one.
package layers

import "sync"

// Priorities for the TUI's overlays. Higher wins.
const (
	PriorityDocumentView = 100
	PrioritySearch       = 200
	PriorityHelp         = 500
	PriorityConfirm      = 1000
)

type ID int

type Layer struct {
	Name              string
	Priority          int
	BlocksLowerLayers bool
	OnEscape          func()
}

type entry struct {
	id    ID
	seq   int
	layer Layer
}

// Stack is owned by whoever renders the layers and passed by reference.
type Stack struct {
	mu      sync.Mutex
	entries []entry
	nextID  ID
	seq     int
}

func New() *Stack {
	return &Stack{}
}

// Push registers a layer and returns its id.
func (s *Stack) Push(l Layer) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.seq++
	s.entries = append(s.entries, entry{id: s.nextID, seq: s.seq, layer: l})
	return s.nextID
}

func (s *Stack) Remove(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateHandler swaps the escape handler without changing the layer's
// position.
func (s *Stack) UpdateHandler(id ID, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].id == id {
			s.entries[i].layer.OnEscape = fn
			return true
		}
	}
	return false
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Top returns the highest-priority layer. Ties go to the most recently
// pushed.
func (s *Stack) Top() (Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.topLocked()
	if i < 0 {
		return Layer{}, false
	}
	return s.entries[i].layer, true
}

// TopID is Top for callers that need the id.
func (s *Stack) TopID() (ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.topLocked()
	if i < 0 {
		return 0, false
	}
	return s.entries[i].id, true
}

func (s *Stack) topLocked() int {
	best := -1
	for i, e := range s.entries {
		if best < 0 {
			best = i
			continue
		}
		b := s.entries[best]
		if e.layer.Priority > b.layer.Priority || (e.layer.Priority == b.layer.Priority && e.seq > b.seq) {
			best = i
		}
	}
	return best
}

func (s *Stack) HasBlocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.layer.BlocksLowerLayers {
			return true
		}
	}
	return false
}

// IsActive reports whether the layer exists and no layer above it blocks
// lower layers.
func (s *Stack) IsActive(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *entry
	for i := range s.entries {
		if s.entries[i].id == id {
			target = &s.entries[i]
			break
		}
	}
	if target == nil {
		return false
	}
	for _, e := range s.entries {
		if e.id == id || !e.layer.BlocksLowerLayers {
			continue
		}
		above := e.layer.Priority > target.layer.Priority ||
			(e.layer.Priority == target.layer.Priority && e.seq > target.seq)
		if above {
			return false
		}
	}
	return true
}

// HandleEscape calls the top layer's handler. It returns false when the
// stack is empty.
func (s *Stack) HandleEscape() bool {
	s.mu.Lock()
	i := s.topLocked()
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	fn := s.entries[i].layer.OnEscape
	s.mu.Unlock()

	// handlers usually remove their own layer
	if fn != nil {
		fn()
	}
	return true
}
