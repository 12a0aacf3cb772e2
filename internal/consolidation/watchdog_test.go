package consolidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"atlas-consolidation/internal/events"
	"atlas-consolidation/internal/storage"
	"atlas-consolidation/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatchdog(t *testing.T, store storage.ChunkStore, cfg WatchdogConfig) *Watchdog {
	t.Helper()
	bus := events.NewBus()
	pause := NewPauseController()
	finder := NewCandidateFinder(store, bus, 100, 10)
	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.DeterministicFallback()}, bus)
	driver := NewDriver(finder, executor, bus)
	return NewWatchdog(cfg, store, driver, pause)
}

func TestDynamicThresholdFormula(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	w := newTestWatchdog(t, store, DefaultWatchdogConfig())

	assert.Equal(t, 100, w.dynamicThreshold(0))
	assert.Equal(t, 105, w.dynamicThreshold(100))
	assert.Equal(t, 100, w.dynamicThreshold(-1), "unavailable count falls back to base threshold")
}

func TestTickRunsConsolidationWhenThresholdCrossed(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	for i := 0; i < 5; i++ {
		store.Seed(types.Chunk{ID: string(rune('a' + i)), CreatedAt: time.Now().UTC()})
	}

	cfg := DefaultWatchdogConfig()
	cfg.BaseThreshold = 1
	w := newTestWatchdog(t, store, cfg)

	w.Tick(context.Background())

	state := w.GetState()
	assert.Equal(t, int64(5), state.LastConsolidationCount)
	assert.False(t, state.Paused, "pause is always released after a pass")
}

func TestTickDoesNothingBelowThreshold(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	store.Seed(types.Chunk{ID: "solo", CreatedAt: time.Now().UTC()})

	cfg := DefaultWatchdogConfig()
	cfg.BaseThreshold = 1000
	w := newTestWatchdog(t, store, cfg)

	w.Tick(context.Background())

	assert.Equal(t, int64(0), w.GetState().LastConsolidationCount)
}

type failingCountStore struct {
	storage.ChunkStore
	failures int
}

func (f *failingCountStore) GetCollectionInfo(_ context.Context) (storage.CollectionInfo, error) {
	f.failures++
	return storage.CollectionInfo{}, errors.New("unreachable")
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := storage.NewMemoryChunkStore()
	store := &failingCountStore{ChunkStore: inner}

	cfg := DefaultWatchdogConfig()
	cfg.BaseThreshold = 0
	cfg.MaxConsecutiveFailures = 2
	w := newTestWatchdog(t, store, cfg)

	// currentCount returns -1 on failure, which falls back to
	// lastConsolidationCount (0), so 0-0 < threshold(0) is false:
	// the tick still attempts a pass. Force failures via a store whose
	// driver run errors instead — simulate directly via internal state.
	w.consecutiveFailures = cfg.MaxConsecutiveFailures
	assert.True(t, w.circuitOpen())

	w.Tick(context.Background())
	assert.Equal(t, cfg.MaxConsecutiveFailures, w.consecutiveFailures, "circuit stays open, no pass attempted")
}

func TestForceConsolidationRunsEvenBelowThreshold(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	store.Seed(types.Chunk{ID: "solo", CreatedAt: time.Now().UTC()})

	cfg := DefaultWatchdogConfig()
	cfg.BaseThreshold = 1000
	w := newTestWatchdog(t, store, cfg)

	w.ForceConsolidation(context.Background())
	assert.Equal(t, int64(1), w.GetState().LastConsolidationCount)
}

type scrollFailingStore struct {
	storage.ChunkStore
	err error
}

func (s *scrollFailingStore) Scroll(_ context.Context, _ storage.ScrollRequest) (storage.ScrollPage, error) {
	return storage.ScrollPage{}, s.err
}

func TestRetryableDriverFailureIsAbsorbedWithoutCountingAgainstBreaker(t *testing.T) {
	store := &scrollFailingStore{ChunkStore: storage.NewMemoryChunkStore(), err: errors.New("connection refused")}

	cfg := DefaultWatchdogConfig()
	cfg.BaseThreshold = 0
	w := newTestWatchdog(t, store, cfg)

	w.Tick(context.Background())

	assert.Equal(t, 0, w.consecutiveFailures, "a retryable failure is absorbed, not counted")
	assert.False(t, w.circuitOpen())
}

func TestNonRetryableDriverFailureTripsBreaker(t *testing.T) {
	store := &scrollFailingStore{ChunkStore: storage.NewMemoryChunkStore(), err: errors.New("malformed payload")}

	cfg := DefaultWatchdogConfig()
	cfg.BaseThreshold = 0
	cfg.MaxConsecutiveFailures = 1
	w := newTestWatchdog(t, store, cfg)

	w.Tick(context.Background())

	assert.Equal(t, 1, w.consecutiveFailures, "a non-retryable failure counts against the breaker")
	assert.True(t, w.circuitOpen())
}

func TestSingletonWatchdogIgnoresLaterConfiguration(t *testing.T) {
	ResetSingletonWatchdog()
	defer ResetSingletonWatchdog()

	store := storage.NewMemoryChunkStore()
	bus := events.NewBus()
	finder := NewCandidateFinder(store, bus, 100, 10)
	executor := NewMergeExecutor(store, fixedClassifier{verdict: types.DeterministicFallback()}, bus)
	driver := NewDriver(finder, executor, bus)

	cfgA := DefaultWatchdogConfig()
	cfgA.BaseThreshold = 7
	w1, p1 := NewSingletonWatchdog(cfgA, store, driver)

	cfgB := DefaultWatchdogConfig()
	cfgB.BaseThreshold = 999
	w2, p2 := NewSingletonWatchdog(cfgB, store, driver)

	assert.Same(t, w1, w2)
	assert.Same(t, p1, p2)
	assert.Equal(t, 7, w2.cfg.BaseThreshold, "second call's config is ignored")
}

func TestWatchdogRunAndStop(t *testing.T) {
	store := storage.NewMemoryChunkStore()
	cfg := DefaultWatchdogConfig()
	cfg.PollInterval = 10 * time.Millisecond
	w := newTestWatchdog(t, store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Run(ctx)
	time.Sleep(30 * time.Millisecond)
	w.Stop()

	require.False(t, w.GetState().Consolidating)
}
