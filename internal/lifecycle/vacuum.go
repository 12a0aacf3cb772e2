// Package lifecycle implements the Lifecycle Vacuum: it hard-deletes
// soft-deleted chunks once their grace period has elapsed and refreshes
// the stability score of survivors (spec.md §4.6). It is wired onto the
// same periodic-ticker shape as a decay loop, generalized so that only
// the grace-period check drives deletion; the stability score itself is
// archival and never a deletion trigger.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"atlas-consolidation/internal/events"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/internal/storage"
	"atlas-consolidation/pkg/types"
)

const (
	defaultGracePeriodDays        = 14
	defaultStabilityUpdateEpsilon = 0.05
	defaultVacuumScrollLimit      = 1000
	defaultRefreshScrollLimit     = 500
	defaultVacuumInterval         = time.Hour
)

// Config holds the Lifecycle Vacuum's tunables, all overridable by the
// embedding host per spec.md §6's configuration table.
type Config struct {
	GracePeriodDays        int
	StabilityUpdateEpsilon float64
	VacuumScrollLimit      int
	RefreshScrollLimit     int
	Interval               time.Duration
	DryRun                 bool
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays:        defaultGracePeriodDays,
		StabilityUpdateEpsilon: defaultStabilityUpdateEpsilon,
		VacuumScrollLimit:      defaultVacuumScrollLimit,
		RefreshScrollLimit:     defaultRefreshScrollLimit,
		Interval:               defaultVacuumInterval,
	}
}

// Result summarizes one vacuum pass.
type Result struct {
	Scanned        int
	HardDeleted    int
	StabilityReads int
	Refreshed      int
}

// Vacuum sweeps soft-deleted chunks past their grace period and refreshes
// the stability score of live survivors.
type Vacuum struct {
	cfg   Config
	store storage.ChunkStore
	bus   *events.Bus
	log   logging.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a vacuum over store, publishing lifecycle events on bus.
func New(cfg Config, store storage.ChunkStore, bus *events.Bus) *Vacuum {
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = defaultGracePeriodDays
	}
	if cfg.StabilityUpdateEpsilon <= 0 {
		cfg.StabilityUpdateEpsilon = defaultStabilityUpdateEpsilon
	}
	if cfg.VacuumScrollLimit <= 0 {
		cfg.VacuumScrollLimit = defaultVacuumScrollLimit
	}
	if cfg.RefreshScrollLimit <= 0 {
		cfg.RefreshScrollLimit = defaultRefreshScrollLimit
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultVacuumInterval
	}
	return &Vacuum{
		cfg:   cfg,
		store: store,
		bus:   bus,
		log:   logging.WithComponent("lifecycle.vacuum"),
	}
}

// isPastGrace reports the grace check: deletion_eligible &&
// now - deletion_marked_at >= GRACE_PERIOD_DAYS.
func isPastGrace(c types.Chunk, gracePeriodDays int, now time.Time) bool {
	if !c.DeletionEligible || c.DeletionMarkedAt == nil {
		return false
	}
	return now.Sub(*c.DeletionMarkedAt) >= time.Duration(gracePeriodDays)*24*time.Hour
}

// Run executes one vacuum pass: scroll live and soft-deleted chunks,
// partition by grace check, hard-delete the eligible set in one call
// (skipped on dry-run), then refresh stability scores of survivors.
func (v *Vacuum) Run(ctx context.Context) (Result, error) {
	result, err := v.sweep(ctx)
	if err != nil {
		v.bus.Publish(events.Event{Type: events.EventError, Timestamp: time.Now().UTC(), Err: err.Error()})
		return result, err
	}

	refreshed, readCount, err := v.refreshStability(ctx)
	result.StabilityReads = readCount
	result.Refreshed = refreshed
	if err != nil {
		v.bus.Publish(events.Event{Type: events.EventError, Timestamp: time.Now().UTC(), Err: err.Error()})
		return result, err
	}

	v.bus.Publish(events.Event{
		Type:      events.EventVacuum,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"scanned":      result.Scanned,
			"hard_deleted": result.HardDeleted,
			"refreshed":    result.Refreshed,
		},
	})
	v.log.Info("vacuum pass complete", "scanned", result.Scanned, "hard_deleted", result.HardDeleted, "refreshed", result.Refreshed)
	return result, nil
}

func (v *Vacuum) sweep(ctx context.Context) (Result, error) {
	var result Result
	now := time.Now().UTC()

	var offset *string
	var eligible []string
	for {
		page, err := v.store.Scroll(ctx, storage.ScrollRequest{
			Limit:  v.cfg.VacuumScrollLimit,
			Offset: offset,
			Filter: storage.Filter{},
		})
		if err != nil {
			return result, fmt.Errorf("vacuum scroll failed: %w", err)
		}

		for _, c := range page.Chunks {
			result.Scanned++
			if isPastGrace(c, v.cfg.GracePeriodDays, now) {
				eligible = append(eligible, c.ID)
			}
		}

		if page.NextOffset == nil {
			break
		}
		offset = page.NextOffset
	}

	if len(eligible) == 0 || v.cfg.DryRun {
		return result, nil
	}

	if err := v.store.Delete(ctx, eligible); err != nil {
		return result, fmt.Errorf("vacuum hard delete failed: %w", err)
	}
	result.HardDeleted = len(eligible)
	return result, nil
}

// refreshStability scrolls live chunks and writes back a recomputed
// stability score wherever it moved by at least StabilityUpdateEpsilon.
func (v *Vacuum) refreshStability(ctx context.Context) (refreshed int, scanned int, err error) {
	excludeDeleted := storage.Filter{ExcludeDeletionEligible: true}
	now := time.Now().UTC()

	var offset *string
	for {
		page, pageErr := v.store.Scroll(ctx, storage.ScrollRequest{
			Limit:  v.cfg.RefreshScrollLimit,
			Offset: offset,
			Filter: excludeDeleted,
		})
		if pageErr != nil {
			return refreshed, scanned, fmt.Errorf("stability scroll failed: %w", pageErr)
		}

		for _, c := range page.Chunks {
			scanned++
			ageDays := now.Sub(c.CreatedAt).Hours() / 24.0
			newScore := types.StabilityScore(types.StabilityInputs{
				ConsolidationLevel: c.ConsolidationLevel,
				AccessCount:        c.AccessCount,
				AgeDays:            ageDays,
			})
			if !shouldPersist(c.StabilityScore, newScore, v.cfg.StabilityUpdateEpsilon) {
				continue
			}
			score := newScore
			if setErr := v.store.SetPayload(ctx, c.ID, storage.PayloadPatch{StabilityScore: &score}); setErr != nil {
				v.log.Warn("stability refresh write failed", "chunk_id", c.ID, "error", setErr)
				continue
			}
			refreshed++
		}

		if page.NextOffset == nil {
			break
		}
		offset = page.NextOffset
	}
	return refreshed, scanned, nil
}

func shouldPersist(current, next, epsilon float64) bool {
	delta := next - current
	if delta < 0 {
		delta = -delta
	}
	return delta >= epsilon
}

// MarkDeletionEligible sets deletion_eligible, deletion_marked_at, and
// optionally superseded_by. It must not touch consolidation_level.
func (v *Vacuum) MarkDeletionEligible(ctx context.Context, id string, supersededBy string) error {
	now := time.Now().UTC()
	eligible := true
	patch := storage.PayloadPatch{
		DeletionEligible: &eligible,
		DeletionMarkedAt: &now,
	}
	if supersededBy != "" {
		patch.SupersededBy = &supersededBy
	}
	return v.store.SetPayload(ctx, id, patch)
}

// UnmarkDeletionEligible clears deletion_eligible, leaving
// deletion_marked_at, consolidation_level, and superseded_by untouched:
// the patch model has no sentinel for "clear this field", only "leave it
// alone" (nil) versus "set it" (non-nil), so a stale deletion_marked_at
// from a prior mark is harmless once deletion_eligible is false, since
// the grace check that reads it is gated on deletion_eligible first.
func (v *Vacuum) UnmarkDeletionEligible(ctx context.Context, id string) error {
	notEligible := false
	return v.store.SetPayload(ctx, id, storage.PayloadPatch{
		DeletionEligible: &notEligible,
	})
}

// RunLoop starts the periodic vacuum loop, ticking at cfg.Interval until
// Stop is called.
func (v *Vacuum) RunLoop(ctx context.Context) {
	v.mu.Lock()
	if v.stopCh != nil {
		v.mu.Unlock()
		return
	}
	v.stopCh = make(chan struct{})
	v.doneCh = make(chan struct{})
	stopCh := v.stopCh
	doneCh := v.doneCh
	v.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(v.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if _, err := v.Run(ctx); err != nil {
					v.log.Error("vacuum pass failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the periodic loop and blocks until it exits.
func (v *Vacuum) Stop() {
	v.mu.Lock()
	stopCh := v.stopCh
	doneCh := v.doneCh
	v.stopCh = nil
	v.doneCh = nil
	v.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
