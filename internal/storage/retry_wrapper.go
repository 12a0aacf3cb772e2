package storage

import (
	"context"
	"fmt"
	"time"

	"atlas-consolidation/internal/errors"
	"atlas-consolidation/internal/retry"
	"atlas-consolidation/pkg/types"
)

// RetryableChunkStore wraps a ChunkStore with retry logic for the
// transient failures a Qdrant connection sees under load or during a
// restart: refused connections, timeouts, 5xx responses.
type RetryableChunkStore struct {
	store   ChunkStore
	retrier *retry.Retrier
}

// NewRetryableChunkStore wraps store with retries. A nil config falls
// back to defaultRetryConfig.
func NewRetryableChunkStore(store ChunkStore, config *retry.Config) ChunkStore {
	if config == nil {
		config = defaultRetryConfig()
	}
	return &RetryableChunkStore{
		store:   store,
		retrier: retry.New(config),
	}
}

func defaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         errors.IsRetryable,
	}
}

// Upsert implements ChunkStore.
func (r *RetryableChunkStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.Upsert(ctx, chunks)
	})
	if result.Err != nil {
		return fmt.Errorf("upsert failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

// Scroll implements ChunkStore.
func (r *RetryableChunkStore) Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error) {
	var page ScrollPage
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = r.store.Scroll(ctx, req)
		return err
	})
	if result.Err != nil {
		return ScrollPage{}, fmt.Errorf("scroll failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return page, nil
}

// Search implements ChunkStore.
func (r *RetryableChunkStore) Search(ctx context.Context, req SearchRequest) ([]ScoredChunk, error) {
	var hits []ScoredChunk
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		hits, err = r.store.Search(ctx, req)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("search failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return hits, nil
}

// Retrieve implements ChunkStore.
func (r *RetryableChunkStore) Retrieve(ctx context.Context, ids []string) ([]types.Chunk, error) {
	var chunks []types.Chunk
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		chunks, err = r.store.Retrieve(ctx, ids)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("retrieve failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return chunks, nil
}

// SetPayload implements ChunkStore.
func (r *RetryableChunkStore) SetPayload(ctx context.Context, id string, patch PayloadPatch) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.SetPayload(ctx, id, patch)
	})
	if result.Err != nil {
		return fmt.Errorf("set payload failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

// Delete implements ChunkStore.
func (r *RetryableChunkStore) Delete(ctx context.Context, ids []string) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.Delete(ctx, ids)
	})
	if result.Err != nil {
		return fmt.Errorf("delete failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

// GetCollectionInfo implements ChunkStore.
func (r *RetryableChunkStore) GetCollectionInfo(ctx context.Context) (CollectionInfo, error) {
	var info CollectionInfo
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		info, err = r.store.GetCollectionInfo(ctx)
		return err
	})
	if result.Err != nil {
		return CollectionInfo{}, fmt.Errorf("get collection info failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return info, nil
}

// WithHNSWDisabled implements ChunkStore. The call is passed straight to
// the wrapped store without retries, so fn runs exactly once.
func (r *RetryableChunkStore) WithHNSWDisabled(ctx context.Context, fn func(context.Context) error) error {
	return r.store.WithHNSWDisabled(ctx, fn)
}

// Close implements ChunkStore.
func (r *RetryableChunkStore) Close() error {
	return r.store.Close()
}
