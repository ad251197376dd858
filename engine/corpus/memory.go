package corpus

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/embedding"
)

// MemoryStore keeps items in process and scans them exactly.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	items     map[string]Item
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, items: make(map[string]Item)}
}

// Put inserts or replaces an item, validating any vector it carries.
func (s *MemoryStore) Put(item Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", core.ErrInvalidInput)
	}
	if item.Embedding != nil {
		if err := CheckDimension(item.Embedding, s.dimension); err != nil {
			return err
		}
		item.Embedding = item.Embedding.Clone()
	}
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
	return nil
}

// UpsertItems stores each item, replacing existing ones.
func (s *MemoryStore) UpsertItems(_ context.Context, items []Item) error {
	for i := range items {
		if err := s.Put(items[i]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the stored item.
func (s *MemoryStore) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if ok {
		item.Embedding = item.Embedding.Clone()
	}
	return item, ok
}

func (s *MemoryStore) FindSimilar(
	_ context.Context,
	query embedding.Vector,
	topK int,
	minSimilarity float64,
) ([]Match, error) {
	if err := CheckDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Match, 0, min(topK, len(s.items)))
	for id := range s.items {
		item := s.items[id]
		if item.Embedding == nil {
			continue
		}
		score, err := Cosine(query, item.Embedding)
		if err != nil {
			return nil, err
		}
		if score <= minSimilarity {
			continue
		}
		matches = append(matches, MatchFromItem(&item, score))
	}
	SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) ItemsMissingVector(_ context.Context, limit int) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, item := range s.items {
		if item.Embedding == nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id])
	}
	return out, nil
}

func (s *MemoryStore) UpdateVector(_ context.Context, id string, vec embedding.Vector) error {
	if err := CheckDimension(vec, s.dimension); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: item %q not found", core.ErrPersistence, id)
	}
	item.Embedding = vec.Clone()
	s.items[id] = item
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
