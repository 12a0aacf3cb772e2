package consolidation

import (
	"context"

	"atlas-consolidation/internal/events"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/pkg/types"
)

// DriverOptions configures one consolidate() call.
type DriverOptions struct {
	DryRun    bool
	Threshold float32
	MaxLevel  int
}

// Result is the per-pass summary spec.md §4.4 names. In dry-run mode
// Consolidated, Deleted, and MaxLevel stay zero and Candidates is
// populated; otherwise Candidates is nil.
type Result struct {
	CandidatesFound int
	Consolidated    int
	Deleted         int
	Rounds          int
	MaxLevel        int
	LevelStats      map[int]int
	Candidates      []types.Pair
}

// Driver orchestrates per-level fixed-point rounds across levels
// 0..MaxLevel-1, per spec.md §4.4.
type Driver struct {
	finder   *CandidateFinder
	executor *MergeExecutor
	bus      *events.Bus
	log      logging.Logger
}

// NewDriver builds a driver from a finder and an executor sharing the
// same underlying store.
func NewDriver(finder *CandidateFinder, executor *MergeExecutor, bus *events.Bus) *Driver {
	return &Driver{
		finder:   finder,
		executor: executor,
		bus:      bus,
		log:      logging.WithComponent("consolidation.driver"),
	}
}

// Consolidate implements consolidate({dry_run, threshold, emit}).
func (d *Driver) Consolidate(ctx context.Context, opts DriverOptions) (Result, error) {
	maxLevel := opts.MaxLevel
	if maxLevel <= 0 {
		maxLevel = types.MaxConsolidationLevel
	}

	result := Result{LevelStats: make(map[int]int)}

	if d.bus != nil {
		d.bus.Publish(events.Event{Type: events.EventTriggered, Metadata: map[string]interface{}{"dry_run": opts.DryRun}})
	}

	for level := 0; level < maxLevel; level++ {
		for {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			default:
			}

			candidates, err := d.finder.FindCandidates(ctx, level, opts.Threshold)
			if err != nil {
				if d.bus != nil {
					d.bus.Publish(events.Event{Type: events.EventError, Level: level, Err: err.Error()})
				}
				return result, err
			}

			result.CandidatesFound += len(candidates)
			result.LevelStats[level] += len(candidates)

			if len(candidates) == 0 {
				break // Stable(level)
			}

			if opts.DryRun {
				result.Candidates = append(result.Candidates, candidates...)
				break // single pass per level in dry-run
			}

			result.Rounds++
			roundConsolidated := 0
			for _, pair := range candidates {
				mergeResult := d.executor.Execute(ctx, pair, level+1)
				if mergeResult.Consolidated {
					result.Consolidated++
					roundConsolidated++
				}
				if mergeResult.Deleted {
					result.Deleted++
				}
			}

			if roundConsolidated == 0 {
				break // Stable(level): no progress this round
			}
			// otherwise loop back to Scan at the same level
		}
	}

	if !opts.DryRun {
		result.MaxLevel = maxLevel
	}

	if d.bus != nil {
		d.bus.Publish(events.Event{
			Type: events.EventCompleted,
			Metadata: map[string]interface{}{
				"candidates_found": result.CandidatesFound,
				"consolidated":     result.Consolidated,
				"deleted":          result.Deleted,
				"rounds":           result.Rounds,
			},
		})
	}

	d.log.Info("consolidation pass complete",
		"dry_run", opts.DryRun,
		"candidates_found", result.CandidatesFound,
		"consolidated", result.Consolidated,
		"deleted", result.Deleted,
		"rounds", result.Rounds,
	)

	return result, nil
}
