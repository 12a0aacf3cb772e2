// Package storage provides the vector-store abstraction the consolidation
// engine scrolls, searches, and patches, along with a Qdrant-backed
// implementation and resilience wrappers (retry, circuit breaker).
package storage

import (
	"context"
	"time"

	"atlas-consolidation/pkg/types"
)

// Filter expresses the conjunctive/disjunctive query the engine needs from
// the store: an exact level match, a liveness constraint, and an optional
// id exclusion for self-match avoidance during neighbor search.
type Filter struct {
	ConsolidationLevel      *int
	ExcludeDeletionEligible bool
	ExcludeID               string
}

// ScrollRequest pages through chunks at a given level. Offset is an opaque
// cursor returned by a previous call's NextOffset; callers pass nil for the
// first page.
type ScrollRequest struct {
	Limit       int
	Offset      *string
	Filter      Filter
	WithVectors bool
}

// ScrollPage is one page of a scroll, plus the cursor for the next page
// (nil when exhausted).
type ScrollPage struct {
	Chunks     []types.Chunk
	NextOffset *string
}

// SearchRequest is a vector similarity query.
type SearchRequest struct {
	Vector        []float32
	Limit         int
	ScoreThreshold float32
	Filter        Filter
}

// ScoredChunk is a single similarity search hit.
type ScoredChunk struct {
	Chunk types.Chunk
	Score float32
}

// PayloadPatch is a shallow merge into a chunk's stored payload. Only
// non-nil fields are applied.
type PayloadPatch struct {
	QNTMKeys               []string
	Occurrences            []time.Time
	Parents                []string
	ConsolidationLevel     *int
	ConsolidationType      *types.ConsolidationType
	ConsolidationDirection *types.ConsolidationDirection
	ConsolidationReasoning *string
	SupersededBy           *string
	DeletionEligible       *bool
	DeletionMarkedAt       *time.Time
	AccessCount            *int
	LastAccessedAt         *time.Time
	StabilityScore         *float64
}

// CollectionInfo reports the store's size, used by the watchdog's dynamic
// threshold calculation.
type CollectionInfo struct {
	PointsCount int64
}

// ChunkStore is the vector-store capability set spec.md §6 requires:
// filtered scroll, vector similarity search with filters, point retrieve
// by id, payload patch, delete, and collection info. An optional HNSW
// toggle wraps a consolidation pass in an index-recall mode change.
type ChunkStore interface {
	// Upsert writes level-0 chunks from the ingest path. The core
	// consolidation algorithm never calls this directly — it is the
	// producer side of the pause/resume interface in §4.5.
	Upsert(ctx context.Context, chunks []types.Chunk) error

	Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error)
	Search(ctx context.Context, req SearchRequest) ([]ScoredChunk, error)
	Retrieve(ctx context.Context, ids []string) ([]types.Chunk, error)
	SetPayload(ctx context.Context, id string, patch PayloadPatch) error
	Delete(ctx context.Context, ids []string) error
	GetCollectionInfo(ctx context.Context) (CollectionInfo, error)

	// WithHNSWDisabled runs fn with the collection's approximate index
	// layer disabled for its duration, restoring it afterward regardless
	// of fn's outcome. Implementations without index-toggle support may
	// simply invoke fn directly.
	WithHNSWDisabled(ctx context.Context, fn func(context.Context) error) error

	Close() error
}
