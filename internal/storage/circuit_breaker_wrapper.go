package storage

import (
	"context"
	"errors"

	"atlas-consolidation/internal/circuitbreaker"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/pkg/types"
)

// CircuitBreakerChunkStore wraps a ChunkStore with circuit breaker
// protection so a failing Qdrant connection trips the breaker instead of
// letting every caller (consolidation driver, watchdog, vacuum) pile up
// retries against a dead backend.
type CircuitBreakerChunkStore struct {
	store ChunkStore
	cb    *circuitbreaker.CircuitBreaker
	log   logging.Logger
}

// NewCircuitBreakerChunkStore wraps store with a circuit breaker. A nil
// config falls back to circuitbreaker.DefaultConfig with a 30s timeout.
func NewCircuitBreakerChunkStore(store ChunkStore, cfg *circuitbreaker.Config) *CircuitBreakerChunkStore {
	log := logging.WithComponent("storage.circuit_breaker")
	if cfg == nil {
		cfg = circuitbreaker.DefaultConfig()
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("chunk store circuit breaker state change", "from", from.String(), "to", to.String())
		}
	}
	return &CircuitBreakerChunkStore{
		store: store,
		cb:    circuitbreaker.New(cfg),
		log:   log,
	}
}

// Upsert implements ChunkStore.
func (s *CircuitBreakerChunkStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.Upsert(ctx, chunks)
	})
}

// Scroll implements ChunkStore, falling back to an empty page rather than
// blocking a consolidation scan on a tripped breaker.
func (s *CircuitBreakerChunkStore) Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error) {
	var page ScrollPage
	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var err error
			page, err = s.store.Scroll(ctx, req)
			return err
		},
		func(_ context.Context, err error) error {
			if !errors.Is(err, circuitbreaker.ErrCircuitOpen) && !errors.Is(err, circuitbreaker.ErrTooManyConcurrentRequests) {
				return err
			}
			page = ScrollPage{}
			return nil
		},
	)
	return page, err
}

// Search implements ChunkStore, falling back to no hits on breaker trip.
func (s *CircuitBreakerChunkStore) Search(ctx context.Context, req SearchRequest) ([]ScoredChunk, error) {
	var hits []ScoredChunk
	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var err error
			hits, err = s.store.Search(ctx, req)
			return err
		},
		func(_ context.Context, err error) error {
			if !errors.Is(err, circuitbreaker.ErrCircuitOpen) && !errors.Is(err, circuitbreaker.ErrTooManyConcurrentRequests) {
				return err
			}
			hits = []ScoredChunk{}
			return nil
		},
	)
	return hits, err
}

// Retrieve implements ChunkStore.
func (s *CircuitBreakerChunkStore) Retrieve(ctx context.Context, ids []string) ([]types.Chunk, error) {
	var chunks []types.Chunk
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		chunks, err = s.store.Retrieve(ctx, ids)
		return err
	})
	return chunks, err
}

// SetPayload implements ChunkStore. No fallback: a patch that silently
// no-ops would desync consolidation state, so callers see the error.
func (s *CircuitBreakerChunkStore) SetPayload(ctx context.Context, id string, patch PayloadPatch) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.SetPayload(ctx, id, patch)
	})
}

// Delete implements ChunkStore.
func (s *CircuitBreakerChunkStore) Delete(ctx context.Context, ids []string) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, ids)
	})
}

// GetCollectionInfo implements ChunkStore.
func (s *CircuitBreakerChunkStore) GetCollectionInfo(ctx context.Context) (CollectionInfo, error) {
	var info CollectionInfo
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.store.GetCollectionInfo(ctx)
		return err
	})
	return info, err
}

// WithHNSWDisabled implements ChunkStore, running the toggle and fn
// together through the breaker, so an error from fn also counts as a
// breaker failure before it is returned to the caller.
func (s *CircuitBreakerChunkStore) WithHNSWDisabled(ctx context.Context, fn func(context.Context) error) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.WithHNSWDisabled(ctx, fn)
	})
}

// Close implements ChunkStore.
func (s *CircuitBreakerChunkStore) Close() error {
	return s.store.Close()
}

// State reports the breaker's current state for health checks.
func (s *CircuitBreakerChunkStore) State() circuitbreaker.State {
	return s.cb.GetState()
}
