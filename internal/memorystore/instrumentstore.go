package memorystore

import (
	"fmt"
	"sync"

	"tickwrangler/internal/market"
)

// InstrumentStore is the roster of tracked instruments and their timelines,
// kept in registration order.
type InstrumentStore struct {
	mu     sync.RWMutex
	order  []*Timeline
	byName map[string]*Timeline
	ids    map[uint32]struct{}
}

func NewInstrumentStore() *InstrumentStore {
	return &InstrumentStore{
		byName: make(map[string]*Timeline),
		ids:    make(map[uint32]struct{}),
	}
}

// Add registers a timeline. Names and ids must be unique.
func (s *InstrumentStore) Add(t *Timeline) error {
	inst := t.Instrument()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[inst.Name()]; ok {
		return fmt.Errorf("duplicate instrument name: %s", inst.Name())
	}
	if _, ok := s.ids[inst.ID()]; ok {
		return fmt.Errorf("duplicate instrument id: %d", inst.ID())
	}

	s.order = append(s.order, t)
	s.byName[inst.Name()] = t
	s.ids[inst.ID()] = struct{}{}
	return nil
}

// Get looks up a timeline by instrument name.
func (s *InstrumentStore) Get(name string) (*Timeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byName[name]
	return t, ok
}

func (s *InstrumentStore) GetAll() []*Timeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Timeline, len(s.order))
	copy(out, s.order)
	return out
}

// Instruments returns the registered instruments in registration order.
func (s *InstrumentStore) Instruments() []*market.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*market.Instrument, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, t.Instrument())
	}
	return out
}

// CountStates returns the total number of states stored across all timelines.
func (s *InstrumentStore) CountStates() int {
	total := 0
	for _, t := range s.GetAll() {
		for _, b := range t.Buckets() {
			total += b.Len()
		}
	}
	return total
}
