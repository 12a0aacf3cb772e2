package consolidation

import (
	"context"
	"testing"
	"time"

	"atlas-consolidation/internal/events"
	"atlas-consolidation/internal/storage"
	"atlas-consolidation/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClassifier always returns the same verdict, for deterministic tests.
type fixedClassifier struct {
	verdict types.ClassifierVerdict
}

func (f fixedClassifier) Classify(_ context.Context, _, _ types.Chunk) types.ClassifierVerdict {
	return f.verdict
}

func seedPair(store *storage.MemoryChunkStore) (types.Chunk, types.Chunk) {
	now := time.Now().UTC()
	a := types.Chunk{ID: "a", OriginalText: "foo", QNTMKeys: []string{"@t ~ x"}, Parents: []string{}, CreatedAt: now, ConsolidationLevel: 0}
	b := types.Chunk{ID: "b", OriginalText: "foo v2", QNTMKeys: []string{"@t ~ y"}, Parents: []string{}, CreatedAt: now.Add(time.Minute), ConsolidationLevel: 0}
	store.Seed(a, b)
	return a, b
}

func TestMergeExecutorPromotesKeepFirst(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	a, b := seedPair(store)

	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.ClassifierVerdict{
		Type: types.TypeDuplicateWork, Direction: types.DirectionUnknown, Reasoning: "dup", Keep: types.KeepFirst,
	}}, events.NewBus())

	result := executor.Execute(context.Background(), types.NewPair(a.ID, b.ID), 1)
	require.True(t, result.Consolidated)
	require.True(t, result.Deleted)

	got, err := store.Retrieve(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	var primary, secondary types.Chunk
	for _, c := range got {
		if c.ID == "a" {
			primary = c
		} else {
			secondary = c
		}
	}

	assert.Equal(t, 1, primary.ConsolidationLevel)
	assert.ElementsMatch(t, []string{"@t ~ x", "@t ~ y"}, primary.QNTMKeys)
	assert.Contains(t, primary.Parents, "b")
	assert.True(t, secondary.DeletionEligible)
	assert.Equal(t, "a", secondary.SupersededBy)
	assert.GreaterOrEqual(t, secondary.ConsolidationLevel, 1)
}

func TestMergeExecutorKeepSecondSwapsPrimary(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	a, b := seedPair(store)

	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.ClassifierVerdict{
		Type: types.TypeSequentialIteration, Direction: types.DirectionForward, Reasoning: "iter", Keep: types.KeepSecond,
	}}, events.NewBus())

	result := executor.Execute(context.Background(), types.NewPair(a.ID, b.ID), 1)
	require.True(t, result.Consolidated)

	got, err := store.Retrieve(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	for _, c := range got {
		if c.ID == "b" {
			assert.Equal(t, 1, c.ConsolidationLevel)
			assert.False(t, c.DeletionEligible)
		} else {
			assert.True(t, c.DeletionEligible)
			assert.Equal(t, "b", c.SupersededBy)
		}
	}
}

func TestMergeExecutorReturnsZeroResultWhenPointMissing(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	a, _ := seedPair(store)
	_ = store.Delete(context.Background(), []string{"b"})

	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.DeterministicFallback()}, events.NewBus())
	result := executor.Execute(context.Background(), types.NewPair(a.ID, "b"), 1)

	assert.False(t, result.Consolidated)
	assert.False(t, result.Deleted)
}

func TestMergeExecutorClampsTargetLevelToMax(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	a, b := seedPair(store)

	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.ClassifierVerdict{
		Type: types.TypeDuplicateWork, Direction: types.DirectionUnknown, Reasoning: "dup", Keep: types.KeepFirst,
	}}, events.NewBus())

	result := executor.Execute(context.Background(), types.NewPair(a.ID, b.ID), 99)
	require.True(t, result.Consolidated)

	got, err := store.Retrieve(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, types.MaxConsolidationLevel, got[0].ConsolidationLevel)
}
