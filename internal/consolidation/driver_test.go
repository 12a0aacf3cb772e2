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

func seedDuplicateChain(store *storage.MemoryChunkStore, n int) {
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		store.Seed(types.Chunk{
			ID:                 string(rune('a' + i)),
			Vector:             []float32{1, 0, 0},
			OriginalText:       "same content",
			CreatedAt:          now.Add(time.Duration(i) * time.Minute),
			ConsolidationLevel: 0,
		})
	}
}

func TestDriverConsolidatesUntilStable(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	seedDuplicateChain(store, 4)

	bus := events.NewBus()
	finder := NewCandidateFinder(store, bus, 100, 10)
	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.ClassifierVerdict{
		Type: types.TypeDuplicateWork, Direction: types.DirectionUnknown, Reasoning: "dup", Keep: types.KeepFirst,
	}}, bus)
	driver := NewDriver(finder, executor, bus)

	result, err := driver.Consolidate(context.Background(), DriverOptions{Threshold: 0.9, MaxLevel: 2})
	require.NoError(t, err)

	assert.Greater(t, result.Consolidated, 0)
	assert.Equal(t, result.Consolidated, result.Deleted)

	info, err := store.GetCollectionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.PointsCount, "hard delete is vacuum's job, not the driver's")
}

func TestDriverDryRunCollectsCandidatesWithoutMutating(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	seedDuplicateChain(store, 2)

	bus := events.NewBus()
	finder := NewCandidateFinder(store, bus, 100, 10)
	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.DeterministicFallback()}, bus)
	driver := NewDriver(finder, executor, bus)

	result, err := driver.Consolidate(context.Background(), DriverOptions{DryRun: true, Threshold: 0.9, MaxLevel: 1})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Candidates)
	assert.Zero(t, result.Consolidated)
	assert.Zero(t, result.Deleted)
	assert.Zero(t, result.MaxLevel)

	chunks, err := store.Retrieve(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, 0, c.ConsolidationLevel)
		assert.False(t, c.DeletionEligible)
	}
}

func TestDriverStopsWhenNoCandidatesFound(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	store.Seed(types.Chunk{ID: "lonely", Vector: []float32{1, 0, 0}, CreatedAt: time.Now().UTC()})

	bus := events.NewBus()
	finder := NewCandidateFinder(store, bus, 100, 10)
	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.DeterministicFallback()}, bus)
	driver := NewDriver(finder, executor, bus)

	result, err := driver.Consolidate(context.Background(), DriverOptions{Threshold: 0.9, MaxLevel: 1})
	require.NoError(t, err)
	assert.Zero(t, result.CandidatesFound)
	assert.Zero(t, result.Rounds)
}

func TestDriverEmitsLifecycleEvents(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	seedDuplicateChain(store, 2)

	bus := events.NewBus()
	var seenTypes []events.EventType
	bus.Subscribe(func(e events.Event) { seenTypes = append(seenTypes, e.Type) })

	finder := NewCandidateFinder(store, bus, 100, 10)
	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.ClassifierVerdict{
		Type: types.TypeDuplicateWork, Direction: types.DirectionUnknown, Reasoning: "dup", Keep: types.KeepFirst,
	}}, bus)
	driver := NewDriver(finder, executor, bus)

	_, err := driver.Consolidate(context.Background(), DriverOptions{Threshold: 0.9, MaxLevel: 1})
	require.NoError(t, err)

	assert.Contains(t, seenTypes, events.EventTriggered)
	assert.Contains(t, seenTypes, events.EventCompleted)
	assert.Contains(t, seenTypes, events.EventMerged)
}
