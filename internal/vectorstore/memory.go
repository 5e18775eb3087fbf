package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store backed by a map with brute-force
// cosine search. It backs tests and single-node development setups where
// no Qdrant server is available.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]*Point

	// FailUpserts and FailDeletes make the next matching operation fail,
	// for exercising saga compensation paths.
	FailUpserts bool
	FailDeletes bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]*Point)}
}

// ErrInjectedFailure is returned when a failure flag is set.
var ErrInjectedFailure = fmt.Errorf("injected vector store failure")

func (s *MemoryStore) UpsertBatch(_ context.Context, points []*Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts {
		return ErrInjectedFailure
	}
	for _, p := range points {
		cp := *p
		s.points[p.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) SetPayload(_ context.Context, id string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts {
		return ErrInjectedFailure
	}
	p, ok := s.points[id]
	if !ok {
		return fmt.Errorf("point %s not found", id)
	}
	if p.Payload == nil {
		p.Payload = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		p.Payload[k] = v
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, limit uint64, filter *SearchFilter) ([]*ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []*ScoredPoint
	for _, p := range s.points {
		if !matchesFilter(p, filter) {
			continue
		}
		hits = append(hits, &ScoredPoint{Point: *p, Score: cosine(vector, p.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if uint64(len(hits)) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryStore) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeletes {
		return ErrInjectedFailure
	}
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

func (s *MemoryStore) DeleteByCatalog(_ context.Context, catalogID uuid.UUID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeletes {
		return 0, ErrInjectedFailure
	}
	var count uint64
	for id, p := range s.points {
		if payloadString(p, FieldCatalogID) == catalogID.String() {
			delete(s.points, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountByCatalog(_ context.Context, catalogID uuid.UUID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count uint64
	for _, p := range s.points {
		if payloadString(p, FieldCatalogID) == catalogID.String() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Health(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored points.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Get returns a stored point by ID, or nil.
func (s *MemoryStore) Get(id string) *Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.points[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func matchesFilter(p *Point, f *SearchFilter) bool {
	if f == nil {
		return true
	}
	if payloadString(p, FieldCatalogID) != f.CatalogID.String() {
		return false
	}
	if f.Kind != "" && payloadString(p, FieldKind) != f.Kind {
		return false
	}
	meta, _ := p.Payload[FieldMetadata].(map[string]any)
	if f.Schema != "" {
		if v, _ := meta["schema"].(string); v != f.Schema {
			return false
		}
	}
	if f.Table != "" {
		if v, _ := meta["table"].(string); v != f.Table {
			return false
		}
	}
	return true
}

func payloadString(p *Point, key string) string {
	v, _ := p.Payload[key].(string)
	return v
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Store = (*MemoryStore)(nil)
