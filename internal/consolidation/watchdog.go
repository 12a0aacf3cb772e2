package consolidation

import (
	"context"
	"math"
	"sync"
	"time"

	"atlas-consolidation/internal/errors"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/internal/storage"
)

// WatchdogConfig mirrors spec.md §4.5's watchdog policy parameters.
type WatchdogConfig struct {
	BaseThreshold          int
	ScaleFactor            float64
	SimilarityThreshold    float32
	PollInterval           time.Duration
	UseHNSWToggle          bool
	MaxLevel               int
	MaxConsecutiveFailures int
}

// DefaultWatchdogConfig returns spec.md's documented defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		BaseThreshold:          100,
		ScaleFactor:            0.05,
		SimilarityThreshold:    0.92,
		PollInterval:           30 * time.Second,
		UseHNSWToggle:          true,
		MaxLevel:               4,
		MaxConsecutiveFailures: 3,
	}
}

// WatchdogState is the diagnostic snapshot GetState returns.
type WatchdogState struct {
	Paused                 bool
	InFlight               int
	CircuitOpen            bool
	ConsecutiveFailures    int
	LastConsolidationCount int64
	Consolidating          bool
}

// Watchdog decides when ingestion volume warrants a consolidation pass,
// pauses ingestion for its duration, and guards against repeated driver
// failures with a simple consecutive-failure circuit breaker (spec.md
// §4.5). A single instance is intended per process; see NewSingletonWatchdog.
type Watchdog struct {
	cfg    WatchdogConfig
	store  storage.ChunkStore
	driver *Driver
	pause  *PauseController
	log    logging.Logger

	mu                     sync.Mutex
	lastConsolidationCount int64
	consecutiveFailures    int
	consolidating          bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatchdog builds a watchdog over store/driver, coordinating through
// pause.
func NewWatchdog(cfg WatchdogConfig, store storage.ChunkStore, driver *Driver, pause *PauseController) *Watchdog {
	return &Watchdog{
		cfg:    cfg,
		store:  store,
		driver: driver,
		pause:  pause,
		log:    logging.WithComponent("consolidation.watchdog"),
	}
}

// dynamicThreshold computes floor(baseThreshold + scaleFactor * count),
// falling back to baseThreshold when count is unavailable (negative).
func (w *Watchdog) dynamicThreshold(count int64) int {
	if count < 0 {
		return w.cfg.BaseThreshold
	}
	return int(math.Floor(float64(w.cfg.BaseThreshold) + w.cfg.ScaleFactor*float64(count)))
}

func (w *Watchdog) circuitOpen() bool {
	return w.consecutiveFailures >= w.cfg.MaxConsecutiveFailures
}

// RecordIngestion exists for API parity with spec.md §4.5's
// record_ingestion(n). Ingestion volume is read fresh from the store's
// collection info on every tick (current_point_count), so there is no
// separate counter to increment; this is a deliberate no-op.
func (w *Watchdog) RecordIngestion(_ int) {}

func (w *Watchdog) currentCount(ctx context.Context) int64 {
	info, err := w.store.GetCollectionInfo(ctx)
	if err != nil {
		w.log.Warn("collection info unavailable, using fallback threshold", "error", err)
		return -1
	}
	return info.PointsCount
}

// Tick runs one policy evaluation: if the circuit is open, already
// consolidating, or ingestion hasn't crossed the dynamic threshold, it
// does nothing. Otherwise it runs a consolidation pass.
func (w *Watchdog) Tick(ctx context.Context) {
	w.mu.Lock()
	if w.circuitOpen() || w.consolidating {
		w.mu.Unlock()
		return
	}

	count := w.currentCount(ctx)
	threshold := w.dynamicThreshold(count)
	effectiveCount := count
	if effectiveCount < 0 {
		effectiveCount = w.lastConsolidationCount
	}
	if effectiveCount-w.lastConsolidationCount < int64(threshold) {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.runConsolidation(ctx, effectiveCount)
}

// ForceConsolidation runs a pass unconditionally, short-circuiting only
// if one is already running.
func (w *Watchdog) ForceConsolidation(ctx context.Context) {
	w.mu.Lock()
	if w.consolidating {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	count := w.currentCount(ctx)
	w.runConsolidation(ctx, count)
}

func (w *Watchdog) runConsolidation(ctx context.Context, observedCount int64) {
	w.mu.Lock()
	w.consolidating = true
	w.mu.Unlock()

	w.pause.Pause()
	defer w.pause.Resume()
	w.pause.WaitForInFlight()

	runPass := func(ctx context.Context) error {
		_, err := w.driver.Consolidate(ctx, DriverOptions{
			Threshold: w.cfg.SimilarityThreshold,
			MaxLevel:  w.cfg.MaxLevel,
		})
		return err
	}

	var err error
	if w.cfg.UseHNSWToggle {
		err = w.store.WithHNSWDisabled(ctx, runPass)
	} else {
		err = runPass(ctx)
	}

	w.mu.Lock()
	switch {
	case err == nil:
		w.lastConsolidationCount = observedCount
		w.consecutiveFailures = 0
	case errors.IsRetryable(err):
		// Transient store/classifier trouble: absorbed silently and left
		// for the next tick rather than counted against the breaker.
		w.log.Warn("consolidation pass hit a retryable error, will retry next tick", "error", err)
	default:
		w.consecutiveFailures++
		w.log.Error("consolidation pass failed", "error", err, "consecutive_failures", w.consecutiveFailures)
	}
	w.consolidating = false
	w.mu.Unlock()
}

// GetState reports a diagnostic snapshot.
func (w *Watchdog) GetState() WatchdogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WatchdogState{
		Paused:                 w.pause.IsPaused(),
		InFlight:               w.pause.InFlightCount(),
		CircuitOpen:            w.circuitOpen(),
		ConsecutiveFailures:    w.consecutiveFailures,
		LastConsolidationCount: w.lastConsolidationCount,
		Consolidating:          w.consolidating,
	}
}

// Run starts the poll loop, ticking at cfg.PollInterval until Stop is
// called. A tick still running when the next one would fire is simply
// skipped, not queued.
func (w *Watchdog) Run(ctx context.Context) {
	w.mu.Lock()
	if w.stopCh != nil {
		w.mu.Unlock()
		return // already running
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and blocks until it exits.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.stopCh = nil
	w.doneCh = nil
	w.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

var (
	singletonMu       sync.Mutex
	singletonWatchdog *Watchdog
	singletonPause    *PauseController
)

// NewSingletonWatchdog returns the process-wide watchdog and pause
// controller, constructing them on first call. Later calls ignore their
// arguments and return the existing instances (spec.md §4.5): only the
// first caller's configuration takes effect for the life of the process.
func NewSingletonWatchdog(cfg WatchdogConfig, store storage.ChunkStore, driver *Driver) (*Watchdog, *PauseController) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singletonWatchdog != nil {
		return singletonWatchdog, singletonPause
	}

	singletonPause = NewPauseController()
	singletonWatchdog = NewWatchdog(cfg, store, driver, singletonPause)
	return singletonWatchdog, singletonPause
}

// ResetSingletonWatchdog stops the process-wide watchdog, if running, and
// clears both singletons so the next NewSingletonWatchdog call constructs
// fresh instances. Intended for tests.
func ResetSingletonWatchdog() {
	singletonMu.Lock()
	w := singletonWatchdog
	singletonWatchdog = nil
	singletonPause = nil
	singletonMu.Unlock()

	if w != nil {
		w.Stop()
	}
}
