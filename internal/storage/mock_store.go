package storage

import (
	"context"
	"math"
	"sort"
	"sync"

	"atlas-consolidation/pkg/types"
)

// MemoryChunkStore is an in-memory ChunkStore used by tests and local
// runs; it implements the full interface against a plain map rather than
// a live Qdrant connection, mirroring the teacher's mock-store pattern.
type MemoryChunkStore struct {
	mu     sync.Mutex
	chunks map[string]types.Chunk
	order  []string
}

// NewMemoryChunkStore returns an empty store.
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{chunks: make(map[string]types.Chunk)}
}

// Seed inserts chunks directly, bypassing Upsert, for test fixture setup.
func (m *MemoryChunkStore) Seed(chunks ...types.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if _, exists := m.chunks[c.ID]; !exists {
			m.order = append(m.order, c.ID)
		}
		m.chunks[c.ID] = c
	}
}

// Upsert implements ChunkStore.
func (m *MemoryChunkStore) Upsert(_ context.Context, chunks []types.Chunk) error {
	m.Seed(chunks...)
	return nil
}

func matchesFilter(c types.Chunk, f Filter) bool {
	if f.ConsolidationLevel != nil && c.ConsolidationLevel != *f.ConsolidationLevel {
		return false
	}
	if f.ExcludeDeletionEligible && c.DeletionEligible {
		return false
	}
	if f.ExcludeID != "" && c.ID == f.ExcludeID {
		return false
	}
	return true
}

// Scroll implements ChunkStore.
func (m *MemoryChunkStore) Scroll(_ context.Context, req ScrollRequest) (ScrollPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if req.Offset != nil {
		for i, id := range m.order {
			if id == *req.Offset {
				start = i + 1
				break
			}
		}
	}

	matched := make([]types.Chunk, 0)
	for _, id := range m.order[start:] {
		c := m.chunks[id]
		if matchesFilter(c, req.Filter) {
			matched = append(matched, c)
		}
		if len(matched) >= req.Limit && req.Limit > 0 {
			break
		}
	}

	var next *string
	if len(matched) > 0 && len(matched) == req.Limit {
		last := matched[len(matched)-1].ID
		next = &last
	}
	return ScrollPage{Chunks: matched, NextOffset: next}, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Search implements ChunkStore using brute-force cosine similarity.
func (m *MemoryChunkStore) Search(_ context.Context, req SearchRequest) ([]ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hits := make([]ScoredChunk, 0)
	for _, id := range m.order {
		c := m.chunks[id]
		if !matchesFilter(c, req.Filter) {
			continue
		}
		score := cosineSimilarity(req.Vector, c.Vector)
		if score >= req.ScoreThreshold {
			hits = append(hits, ScoredChunk{Chunk: c, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

// Retrieve implements ChunkStore.
func (m *MemoryChunkStore) Retrieve(_ context.Context, ids []string) ([]types.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// SetPayload implements ChunkStore as a shallow merge.
func (m *MemoryChunkStore) SetPayload(_ context.Context, id string, patch PayloadPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chunks[id]
	if !ok {
		return nil
	}
	applyPatch(&c, patch)
	m.chunks[id] = c
	return nil
}

func applyPatch(c *types.Chunk, patch PayloadPatch) {
	if patch.QNTMKeys != nil {
		c.QNTMKeys = patch.QNTMKeys
	}
	if patch.Occurrences != nil {
		c.Occurrences = patch.Occurrences
	}
	if patch.Parents != nil {
		c.Parents = patch.Parents
	}
	if patch.ConsolidationLevel != nil {
		c.ConsolidationLevel = *patch.ConsolidationLevel
	}
	if patch.ConsolidationType != nil {
		c.ConsolidationType = *patch.ConsolidationType
	}
	if patch.ConsolidationDirection != nil {
		c.ConsolidationDirection = *patch.ConsolidationDirection
	}
	if patch.ConsolidationReasoning != nil {
		c.ConsolidationReasoning = *patch.ConsolidationReasoning
	}
	if patch.SupersededBy != nil {
		c.SupersededBy = *patch.SupersededBy
	}
	if patch.DeletionEligible != nil {
		c.DeletionEligible = *patch.DeletionEligible
	}
	if patch.DeletionMarkedAt != nil {
		c.DeletionMarkedAt = patch.DeletionMarkedAt
	}
	if patch.AccessCount != nil {
		c.AccessCount = *patch.AccessCount
	}
	if patch.LastAccessedAt != nil {
		c.LastAccessedAt = patch.LastAccessedAt
	}
	if patch.StabilityScore != nil {
		c.StabilityScore = *patch.StabilityScore
	}
}

// Delete implements ChunkStore.
func (m *MemoryChunkStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	toDelete := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		delete(m.chunks, id)
		toDelete[id] = struct{}{}
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if _, gone := toDelete[id]; !gone {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return nil
}

// GetCollectionInfo implements ChunkStore.
func (m *MemoryChunkStore) GetCollectionInfo(_ context.Context) (CollectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CollectionInfo{PointsCount: int64(len(m.chunks))}, nil
}

// WithHNSWDisabled has no index to toggle in-memory; it just runs fn.
func (m *MemoryChunkStore) WithHNSWDisabled(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Close is a no-op for the in-memory store.
func (m *MemoryChunkStore) Close() error { return nil }
