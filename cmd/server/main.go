// server runs the Atlas Chunk Consolidation Engine as a background
// maintenance process over a Qdrant collection: the watchdog triggers
// consolidation passes as ingestion volume crosses its dynamic
// threshold, and the lifecycle vacuum periodically hard-deletes
// past-grace soft-deletes and refreshes stability scores.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"atlas-consolidation/internal/circuitbreaker"
	"atlas-consolidation/internal/config"
	"atlas-consolidation/internal/consolidation"
	"atlas-consolidation/internal/errors"
	"atlas-consolidation/internal/events"
	"atlas-consolidation/internal/lifecycle"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/internal/retry"
	"atlas-consolidation/internal/storage"
	"atlas-consolidation/pkg/ai"
)

func main() {
	var (
		dryRun = flag.Bool("dry-run", false, "run one consolidation pass and exit without mutating the store")
		force  = flag.Bool("force", false, "force an immediate consolidation pass before entering the poll loop")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal("failed to load configuration", "error", err)
	}
	logging.SetDefaultLogger(logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level)))
	log := logging.WithComponent("cmd.server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to initialize chunk store", "error", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn("error closing store", "error", closeErr)
		}
	}()

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		log.Info("lifecycle event", "type", string(e.Type), "level", e.Level, "pair_key", e.PairKey)
	})

	classifier := consolidation.NewAdapterClassifier(ai.NewMockClient(), 10*time.Second)
	finder := consolidation.NewCandidateFinder(store, bus, cfg.Consolidation.ScrollPageSize, cfg.Consolidation.NeighborsPerSeed)
	executor := consolidation.NewMergeExecutor(store, classifier, bus)
	driver := consolidation.NewDriver(finder, executor, bus)

	if *dryRun {
		result, err := driver.Consolidate(ctx, consolidation.DriverOptions{
			DryRun:    true,
			Threshold: float32(cfg.Consolidation.SimilarityThreshold),
			MaxLevel:  cfg.Consolidation.MaxLevel,
		})
		if err != nil {
			logging.Fatal("dry-run consolidation failed", "error", err)
		}
		fmt.Printf("dry-run: %d candidates found across %d levels\n", result.CandidatesFound, cfg.Consolidation.MaxLevel)
		return
	}

	watchdogCfg := consolidation.WatchdogConfig{
		BaseThreshold:          cfg.Consolidation.BaseThreshold,
		ScaleFactor:            cfg.Consolidation.ScaleFactor,
		SimilarityThreshold:    float32(cfg.Consolidation.SimilarityThreshold),
		PollInterval:           time.Duration(cfg.Consolidation.PollIntervalMs) * time.Millisecond,
		UseHNSWToggle:          cfg.Consolidation.UseHNSWToggle,
		MaxLevel:               cfg.Consolidation.MaxLevel,
		MaxConsecutiveFailures: cfg.Consolidation.MaxConsecutiveFailures,
	}
	watchdog, _ := consolidation.NewSingletonWatchdog(watchdogCfg, store, driver)
	defer consolidation.ResetSingletonWatchdog()

	vacuumCfg := lifecycle.Config{
		GracePeriodDays:        cfg.Consolidation.GracePeriodDays,
		StabilityUpdateEpsilon: cfg.Consolidation.StabilityUpdateEpsilon,
		VacuumScrollLimit:      cfg.Consolidation.VacuumScanLimit,
		RefreshScrollLimit:     cfg.Consolidation.StabilityScanLimit,
		Interval:               time.Duration(cfg.Consolidation.PollIntervalMs) * time.Millisecond * 10,
	}
	vacuum := lifecycle.New(vacuumCfg, store, bus)

	if *force {
		log.Info("forcing initial consolidation pass")
		watchdog.ForceConsolidation(ctx)
	}

	watchdog.Run(ctx)
	vacuum.RunLoop(ctx)

	log.Info("atlas consolidation engine running",
		"base_threshold", watchdogCfg.BaseThreshold,
		"poll_interval", watchdogCfg.PollInterval,
		"grace_period_days", vacuumCfg.GracePeriodDays,
	)

	<-ctx.Done()
	log.Info("shutting down")
	watchdog.Stop()
	vacuum.Stop()
}

// buildStore wires the Qdrant-backed store through retry and circuit
// breaker resilience layers, matching the order the teacher's resilient
// client stack applies them in.
func buildStore(ctx context.Context, cfg *config.Config) (storage.ChunkStore, error) {
	qdrantStore := storage.NewQdrantChunkStore(&cfg.Qdrant)
	if err := qdrantStore.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("qdrant initialization failed: %w", err)
	}

	retryCfg := &retry.Config{
		MaxAttempts:     cfg.Qdrant.RetryAttempts,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         errors.IsRetryable,
	}
	retryable := storage.NewRetryableChunkStore(qdrantStore, retryCfg)

	cbCfg := &circuitbreaker.Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 50,
	}
	return storage.NewCircuitBreakerChunkStore(retryable, cbCfg), nil
}
