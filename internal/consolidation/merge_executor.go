package consolidation

import (
	"context"
	"time"

	"atlas-consolidation/internal/events"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/internal/storage"
	"atlas-consolidation/pkg/types"
)

// MergeResult reports whether a pair produced a consolidation, mirroring
// spec.md §4.3's {consolidated: 0|1, deleted: 0|1} contract as booleans.
type MergeResult struct {
	Consolidated bool
	Deleted      bool
}

// MergeExecutor retrieves a candidate pair, classifies it, and writes the
// promoted primary and soft-deleted secondary.
type MergeExecutor struct {
	store      storage.ChunkStore
	classifier Classifier
	bus        *events.Bus
	log        logging.Logger
}

// NewMergeExecutor builds an executor over store using classifier.
func NewMergeExecutor(store storage.ChunkStore, classifier Classifier, bus *events.Bus) *MergeExecutor {
	return &MergeExecutor{
		store:      store,
		classifier: classifier,
		bus:        bus,
		log:        logging.WithComponent("consolidation.merge_executor"),
	}
}

// Execute implements execute(pair, target_level). Any failure is caught,
// logged, and reported as a zero result rather than propagated, per
// spec.md §4.3's failure semantics.
func (e *MergeExecutor) Execute(ctx context.Context, pair types.Pair, targetLevel int) MergeResult {
	chunks, err := e.store.Retrieve(ctx, []string{pair.A, pair.B})
	if err != nil {
		e.log.Error("retrieve failed for pair", "pair", pair.Key(), "error", err)
		return MergeResult{}
	}
	if len(chunks) < 2 {
		e.log.Warn("pair retrieve returned fewer than two points, skipping", "pair", pair.Key(), "got", len(chunks))
		return MergeResult{}
	}

	a, b := chunks[0], chunks[1]
	if a.ID != pair.A {
		a, b = b, a
	}

	verdict := e.classifier.Classify(ctx, a, b)

	primary, secondary := a, b
	if verdict.Keep == types.KeepSecond {
		primary, secondary = b, a
	}

	if targetLevel > types.MaxConsolidationLevel {
		targetLevel = types.MaxConsolidationLevel
	}

	mergedKeys := types.UnionQNTMKeys(primary.QNTMKeys, secondary.QNTMKeys)
	mergedOccurrences := types.UnionOccurrences(primary.OccurrencesOrDefault(), secondary.OccurrencesOrDefault())
	mergedParents := types.UnionParents(primary.Parents, secondary.ID)

	consolType := verdict.Type
	direction := verdict.Direction
	reasoning := verdict.Reasoning

	if err := e.store.SetPayload(ctx, primary.ID, storage.PayloadPatch{
		QNTMKeys:               mergedKeys,
		Occurrences:            mergedOccurrences,
		Parents:                mergedParents,
		ConsolidationLevel:     &targetLevel,
		ConsolidationType:      &consolType,
		ConsolidationDirection: &direction,
		ConsolidationReasoning: &reasoning,
	}); err != nil {
		e.log.Error("failed to write promoted primary", "pair", pair.Key(), "primary", primary.ID, "error", err)
		return MergeResult{}
	}

	secondaryLevel := secondary.ConsolidationLevel
	if secondaryLevel < 1 {
		secondaryLevel = 1
	}
	now := time.Now().UTC()
	supersededBy := primary.ID
	deletionEligible := true

	if err := e.store.SetPayload(ctx, secondary.ID, storage.PayloadPatch{
		ConsolidationLevel: &secondaryLevel,
		SupersededBy:       &supersededBy,
		DeletionEligible:   &deletionEligible,
		DeletionMarkedAt:   &now,
	}); err != nil {
		e.log.Error("failed to write soft-deleted secondary", "pair", pair.Key(), "secondary", secondary.ID, "error", err)
		return MergeResult{}
	}

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:    events.EventMerged,
			Level:   targetLevel,
			PairKey: pair.Key(),
			Metadata: map[string]interface{}{
				"primary":   primary.ID,
				"secondary": secondary.ID,
				"type":      string(consolType),
			},
		})
	}

	return MergeResult{Consolidated: true, Deleted: true}
}
