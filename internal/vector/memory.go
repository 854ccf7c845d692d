package vector

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the pure in-process backend, used when neither Postgres nor
// Valkey is configured. Search is a full scan with in-process cosine
// similarity; it is also the correctness reference the other backends must
// agree with on small datasets.
type MemoryStore struct {
	dim int

	mu sync.RWMutex
	// tenant -> sector -> id -> entry
	tenants map[string]map[string]map[string]Entry
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:     dim,
		tenants: make(map[string]map[string]map[string]Entry),
	}
}

func (s *MemoryStore) StoreVector(_ context.Context, id, sector string, vec []float32, dim int, tenantID, _ string) error {
	if err := checkDim(vec, dim, s.dim); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sectors, ok := s.tenants[tenantID]
	if !ok {
		sectors = make(map[string]map[string]Entry)
		s.tenants[tenantID] = sectors
	}
	entries, ok := sectors[sector]
	if !ok {
		entries = make(map[string]Entry)
		sectors[sector] = entries
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	entries[id] = Entry{ID: id, Sector: sector, Vector: cp, Dim: dim}
	return nil
}

func (s *MemoryStore) DeleteVector(_ context.Context, id, sector, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants[tenantID][sector], id)
	return nil
}

func (s *MemoryStore) DeleteVectors(_ context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entries := range s.tenants[tenantID] {
		delete(entries, id)
	}
	return nil
}

func (s *MemoryStore) SearchSimilar(_ context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	searchTotal.WithLabelValues("memory", "scan").Inc()
	matches := make([]Match, 0)
	for id, e := range s.tenants[tenantID][sector] {
		matches = append(matches, Match{ID: id, Score: CosineSimilarity(query, e.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) GetVector(_ context.Context, id, sector, tenantID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tenants[tenantID][sector][id]
	if !ok {
		return nil, nil
	}
	out := e
	return &out, nil
}

func (s *MemoryStore) GetVectorsByID(_ context.Context, id, tenantID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, entries := range s.tenants[tenantID] {
		if e, ok := entries[id]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sector < out[j].Sector })
	return out, nil
}

func (s *MemoryStore) GetVectorsBySector(_ context.Context, sector, tenantID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.tenants[tenantID][sector] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
