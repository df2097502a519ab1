package script

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	scripts map[int64]Script
}

// NewMemStore returns a [MemStore] pre-populated with scripts. Duplicate IDs
// yield [ErrDuplicateID].
func NewMemStore(scripts ...Script) (*MemStore, error) {
	s := &MemStore{scripts: make(map[int64]Script, len(scripts))}
	for _, sc := range scripts {
		if err := s.Add(sc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add stores sc. The ID must be positive and unused.
func (s *MemStore) Add(sc Script) error {
	if sc.ID <= 0 {
		return fmt.Errorf("script: id must be positive, got %d", sc.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scripts == nil {
		s.scripts = make(map[int64]Script)
	}
	if _, exists := s.scripts[sc.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, sc.ID)
	}
	s.scripts[sc.ID] = sc
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id int64) (Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scripts[id]
	if !ok {
		return Script{}, ErrNotFound
	}
	return sc, nil
}

// Line implements [Store.Line].
func (s *MemStore) Line(ctx context.Context, id int64, index int) (Line, error) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return Line{}, err
	}
	return sc.Line(index)
}

// Ping implements [Store.Ping]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// IDs returns the stored script IDs in ascending order.
func (s *MemStore) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.scripts))
	for id := range s.scripts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
