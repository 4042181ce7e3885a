package window

import (
	"sync"

	"github.com/google/btree"
)

func less(a, b *Aggregate) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}

	return a.Key.Key < b.Key.Key
}

// Store keeps window aggregates ordered by window start then key. Each key is
// owned by exactly one writer (its aggregator shard); reads may come from any goroutine.
type Store struct {
	mu         sync.RWMutex
	tree       *btree.BTreeG[*Aggregate]
	byKey      map[string]map[int64]*Aggregate
	streamTime int64
	seen       bool
}

func NewStore() *Store {
	return &Store{
		tree:  btree.NewG[*Aggregate](32, less),
		byKey: make(map[string]map[int64]*Aggregate),
	}
}

// Add folds one record into its window and returns a copy of the updated state.
func (s *Store) Add(wk Key, amount float64, ts int64) Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seen || ts > s.streamTime {
		s.streamTime = ts
		s.seen = true
	}

	windows, ok := s.byKey[wk.Key]
	if !ok {
		windows = make(map[int64]*Aggregate)
		s.byKey[wk.Key] = windows
	}

	agg, ok := windows[wk.Start]
	if !ok {
		agg = &Aggregate{Key: wk}
		windows[wk.Start] = agg
		s.tree.ReplaceOrInsert(agg)
	}

	agg.Count++
	agg.Total += amount

	return *agg
}

// Get returns the aggregate of wk.
func (s *Store) Get(wk Key) (Aggregate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.byKey[wk.Key][wk.Start]
	if !ok {
		return Aggregate{}, false
	}

	return *agg, true
}

// Fetch returns every window of key ordered by start.
func (s *Store) Fetch(key string) []Aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var aggs []Aggregate
	s.tree.Ascend(func(agg *Aggregate) bool {
		if agg.Key.Key == key {
			aggs = append(aggs, *agg)
		}
		return true
	})

	return aggs
}

// All returns every window ordered by start then key.
func (s *Store) All() []Aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	aggs := make([]Aggregate, 0, s.tree.Len())
	s.tree.Ascend(func(agg *Aggregate) bool {
		aggs = append(aggs, *agg)
		return true
	})

	return aggs
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tree.Len()
}

// StreamTime is the highest record timestamp folded so far.
func (s *Store) StreamTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.streamTime
}

// Evict drops every window ending at or before before and returns how many were removed.
func (s *Store) Evict(before int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Aggregate
	s.tree.Ascend(func(agg *Aggregate) bool {
		// windows are ordered by start and all share one size per store
		if agg.Start >= before {
			return false
		}

		if agg.End <= before {
			expired = append(expired, agg)
		}
		return true
	})

	for _, agg := range expired {
		s.tree.Delete(agg)
		delete(s.byKey[agg.Key.Key], agg.Start)
		if len(s.byKey[agg.Key.Key]) == 0 {
			delete(s.byKey, agg.Key.Key)
		}
	}

	return len(expired)
}
