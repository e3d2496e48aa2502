// Package memvec is an in-process brute-force vector index used for tests
// and for the "memory" driver of cmd/spacedb. It generalizes
// other_examples/kxddry-rag-text-search's internal/vectorstore/memory.Storage
// (dot-product scoring with a quicksort top-k selection over a flat slice)
// by adding named collections, metadata equality filtering, a score
// threshold cutoff, and cosine-vs-dot distance selection — all required by
// SPEC_FULL.md §4.4 but absent from the reference implementation it's
// grounded on.
package memvec

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/vectorindex"
)

type storedPoint struct {
	payload map[string]any
	vector  []float32
	id      uint64
}

type collection struct {
	points     map[uint64]storedPoint
	vectorSize int
	distance   vectorindex.Distance
}

// Index is the in-memory vectorindex.Index implementation.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty in-memory index.
func New() *Index {
	return &Index{collections: make(map[string]*collection)}
}

func (idx *Index) CreateCollection(_ context.Context, name string, vectorSize int, distance vectorindex.Distance) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.collections[name]; exists {
		return nil
	}
	idx.collections[name] = &collection{
		points:     make(map[uint64]storedPoint),
		vectorSize: vectorSize,
		distance:   distance,
	}
	return nil
}

func (idx *Index) CollectionExists(_ context.Context, name string) (bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.collections[name]
	return ok, nil
}

func (idx *Index) DeleteCollection(_ context.Context, name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.collections, name)
	return nil
}

func (idx *Index) ListCollections(_ context.Context) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	names := make([]string, 0, len(idx.collections))
	for name := range idx.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (idx *Index) getCollection(name string) (*collection, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.collections[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "collection "+name+" does not exist")
	}
	return c, nil
}

func (idx *Index) UpsertPoints(_ context.Context, collectionName string, points []vectorindex.Point) error {
	c, err := idx.getCollection(collectionName)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, p := range points {
		if c.vectorSize > 0 && len(p.Vector) != c.vectorSize {
			return apperr.New(apperr.InvalidInput, "vector dimension mismatch")
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		c.points[p.ID] = storedPoint{id: p.ID, vector: vec, payload: payload}
	}
	return nil
}

func (idx *Index) DeletePoints(_ context.Context, collectionName string, ids []uint64) error {
	c, err := idx.getCollection(collectionName)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

func (idx *Index) Search(_ context.Context, collectionName string, vector []float32, filter vectorindex.Filter, limit int, scoreThreshold float32) ([]vectorindex.SearchResult, error) {
	c, err := idx.getCollection(collectionName)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		point vectorindex.SearchResult
	}
	var candidates []scored
	for _, p := range c.points {
		if !matchesFilter(p.payload, filter) {
			continue
		}
		score := score(c.distance, vector, p.vector)
		if score < scoreThreshold {
			continue
		}
		candidates = append(candidates, scored{vectorindex.SearchResult{ID: p.id, Score: score, Payload: p.payload}})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].point.Score > candidates[j].point.Score
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	results := make([]vectorindex.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = c.point
	}
	return results, nil
}

func (idx *Index) CreatePayloadIndex(_ context.Context, _, _ string, _ vectorindex.SchemaType) error {
	// A brute-force scan needs no secondary index; idempotent no-op.
	return nil
}

func (idx *Index) Close() error { return nil }

func matchesFilter(payload map[string]any, filter vectorindex.Filter) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok {
			return false
		}
		if !equalScalar(got, want) {
			return false
		}
	}
	return true
}

// equalScalar compares scalar filter values tolerantly across numeric
// kinds, since callers may pass an int where the stored payload holds an
// int64 (or vice versa) after a JSON round trip.
func equalScalar(a, b any) bool {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func score(d vectorindex.Distance, a, b []float32) float32 {
	if d == vectorindex.Dot {
		return dot(a, b)
	}
	return cosineSimilarity(a, b)
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
