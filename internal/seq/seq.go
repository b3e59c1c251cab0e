// Package seq issues monotonically increasing tickets per logical operation
// family so that overlapping asynchronous fetches can detect stale
// completions. A completion commits only when its ticket is still the most
// recently issued one for its family; slower requests that finish after a
// newer request simply discard their results.
package seq

import "sync"

// Sequencer tracks the latest issued ticket for each operation family.
// The zero value is not usable; construct with New.
type Sequencer struct {
	mu      sync.Mutex
	tickets map[string]uint64
}

// New constructs an empty sequencer.
func New() *Sequencer {
	return &Sequencer{tickets: make(map[string]uint64)}
}

// Issue allocates the next ticket for the family and returns it. The caller
// captures the value before starting the fetch and compares it on completion.
func (s *Sequencer) Issue(family string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.tickets[family] + 1
	s.tickets[family] = next
	return next
}

// Latest reports the most recently issued ticket for the family. Zero means
// no ticket was ever issued.
func (s *Sequencer) Latest(family string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[family]
}

// IsLatest reports whether ticket is still the most recently issued one for
// the family. A stale ticket means a newer request superseded this one and
// its completion must be discarded.
func (s *Sequencer) IsLatest(family string, ticket uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[family] == ticket
}
