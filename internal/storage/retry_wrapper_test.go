package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	atlaserrors "atlas-consolidation/internal/errors"
	"atlas-consolidation/internal/retry"
	"atlas-consolidation/pkg/types"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		RetryIf:      atlaserrors.IsRetryable,
	}
}

func TestRetryableChunkStoreRetriesTransientScrollFailure(t *testing.T) {
	inner := &mockChunkStore{}
	inner.On("Scroll", mock.Anything, mock.Anything).
		Return(ScrollPage{}, errors.New("connection refused")).Twice()
	inner.On("Scroll", mock.Anything, mock.Anything).
		Return(ScrollPage{Chunks: []types.Chunk{{ID: "c1"}}}, nil).Once()

	wrapped := NewRetryableChunkStore(inner, fastRetryConfig())

	page, err := wrapped.Scroll(context.Background(), ScrollRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Chunks, 1)
	inner.AssertExpectations(t)
}

func TestRetryableChunkStoreGivesUpOnNonTransientError(t *testing.T) {
	inner := &mockChunkStore{}
	inner.On("SetPayload", mock.Anything, "c1", mock.Anything).
		Return(errors.New("invalid payload")).Once()

	wrapped := NewRetryableChunkStore(inner, fastRetryConfig())

	err := wrapped.SetPayload(context.Background(), "c1", PayloadPatch{})
	require.Error(t, err)
	inner.AssertExpectations(t)
}

func TestRetryableChunkStoreExhaustsAttemptsAndWrapsError(t *testing.T) {
	inner := &mockChunkStore{}
	inner.On("Delete", mock.Anything, mock.Anything).
		Return(errors.New("timeout")).Times(3)

	wrapped := NewRetryableChunkStore(inner, fastRetryConfig())

	err := wrapped.Delete(context.Background(), []string{"c1"})
	require.Error(t, err)
	inner.AssertExpectations(t)
}

func TestRetryIfMatchesKnownTransientPatterns(t *testing.T) {
	require.True(t, atlaserrors.IsRetryable(errors.New("Connection Refused")))
	require.True(t, atlaserrors.IsRetryable(errors.New("upstream timeout")))
	require.False(t, atlaserrors.IsRetryable(errors.New("chunk not found")))
	require.False(t, atlaserrors.IsRetryable(nil))
}
