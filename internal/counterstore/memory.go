package counterstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store for tests and single-node
// development. One mutex serializes every call, which gives Link and
// Unlink the same atomicity the Redis scripts have.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
	sets     map[string]map[string]struct{}
	zsets    map[string]map[string]float64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int64),
		sets:     make(map[string]map[string]struct{}),
		zsets:    make(map[string]map[string]float64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

func (s *MemoryStore) GetMany(_ context.Context, keys []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		if v, ok := s.counters[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(key, delta), nil
}

func (s *MemoryStore) add(key string, delta int64) int64 {
	v := s.counters[key] + delta
	if v < 0 {
		v = 0
	}
	s.counters[key] = v
	return v
}

func (s *MemoryStore) SeedCounter(_ context.Context, key string, value int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[key]; ok {
		return false, nil
	}
	s.counters[key] = value
	return true, nil
}

func (s *MemoryStore) SetCounter(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = value
	return nil
}

func (s *MemoryStore) IsMember(_ context.Context, set, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[set][member]
	return ok, nil
}

func (s *MemoryStore) AreMembers(_ context.Context, set string, members []string) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(members))
	for i, m := range members {
		_, out[i] = s.sets[set][m]
	}
	return out, nil
}

func (s *MemoryStore) Members(_ context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[set]))
	for m := range s.sets[set] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) AddMembers(_ context.Context, set string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		s.sadd(set, m)
	}
	return nil
}

func (s *MemoryStore) sadd(set, member string) bool {
	m, ok := s.sets[set]
	if !ok {
		m = make(map[string]struct{})
		s.sets[set] = m
	}
	if _, exists := m[member]; exists {
		return false
	}
	m[member] = struct{}{}
	return true
}

func (s *MemoryStore) srem(set, member string) bool {
	m, ok := s.sets[set]
	if !ok {
		return false
	}
	if _, exists := m[member]; !exists {
		return false
	}
	delete(m, member)
	if len(m) == 0 {
		delete(s.sets, set)
	}
	return true
}

func (s *MemoryStore) Link(_ context.Context, e Edge) (bool, []int64, error) {
	if err := e.validate(); err != nil {
		return false, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	added := s.sadd(e.Set, e.Member)
	if added {
		s.sadd(e.Mirror, e.MirrorMember)
	}
	counts := make([]int64, len(e.Counters))
	for i, k := range e.Counters {
		if added {
			counts[i] = s.add(k, 1)
		} else {
			counts[i] = s.counters[k]
		}
	}
	return added, counts, nil
}

func (s *MemoryStore) Unlink(_ context.Context, e Edge) (bool, []int64, error) {
	if err := e.validate(); err != nil {
		return false, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.srem(e.Set, e.Member)
	if removed {
		s.srem(e.Mirror, e.MirrorMember)
	}
	counts := make([]int64, len(e.Counters))
	for i, k := range e.Counters {
		if removed {
			counts[i] = s.add(k, -1)
		} else {
			counts[i] = s.counters[k]
		}
	}
	return removed, counts, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *MemoryStore) ZRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zsets[key], member)
	return nil
}

// ZRevRange orders by score descending, ties broken by member descending
// like Redis does.
func (s *MemoryStore) ZRevRange(_ context.Context, key string, offset, limit int64) ([]ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]ScoredMember, 0, len(s.zsets[key]))
	for m, sc := range s.zsets[key] {
		all = append(all, ScoredMember{Member: m, Score: sc})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Member > all[j].Member
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(all)) || limit <= 0 {
		return []ScoredMember{}, nil
	}
	end := offset + limit
	if end > int64(len(all)) {
		end = int64(len(all))
	}
	return all[offset:end], nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.counters, k)
		delete(s.sets, k)
		delete(s.zsets, k)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
