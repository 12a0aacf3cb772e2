package consolidation

import (
	"context"

	"atlas-consolidation/internal/events"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/internal/storage"
	"atlas-consolidation/pkg/types"
)

const (
	defaultScrollPageSize   = 100
	defaultNeighborsPerSeed = 10
)

// CandidateFinder scrolls all live chunks at a level and, for each one,
// searches the store for near-neighbors above a similarity threshold,
// producing a deduplicated set of unordered pairs (spec.md §4.2).
type CandidateFinder struct {
	store            storage.ChunkStore
	bus              *events.Bus
	scrollPageSize   int
	neighborsPerSeed int
	log              logging.Logger
}

// NewCandidateFinder builds a finder over store. A zero scrollPageSize or
// neighborsPerSeed falls back to the spec defaults (100, 10).
func NewCandidateFinder(store storage.ChunkStore, bus *events.Bus, scrollPageSize, neighborsPerSeed int) *CandidateFinder {
	if scrollPageSize <= 0 {
		scrollPageSize = defaultScrollPageSize
	}
	if neighborsPerSeed <= 0 {
		neighborsPerSeed = defaultNeighborsPerSeed
	}
	return &CandidateFinder{
		store:            store,
		bus:              bus,
		scrollPageSize:   scrollPageSize,
		neighborsPerSeed: neighborsPerSeed,
		log:              logging.WithComponent("consolidation.candidate_finder"),
	}
}

// FindCandidates implements find_candidates(level, threshold). Guarantees:
// completeness (modulo top-K fan-out per seed), deduplication by canonical
// pair key, exclusion of deletion-eligible chunks, and level confinement.
func (f *CandidateFinder) FindCandidates(ctx context.Context, level int, threshold float32) ([]types.Pair, error) {
	seen := make(map[string]struct{})
	pairs := make([]types.Pair, 0)
	scanned := 0

	var offset *string
	for {
		page, err := f.store.Scroll(ctx, storage.ScrollRequest{
			Limit:  f.scrollPageSize,
			Offset: offset,
			Filter: storage.Filter{
				ConsolidationLevel:      &level,
				ExcludeDeletionEligible: true,
			},
			WithVectors: true,
		})
		if err != nil {
			return nil, err
		}

		for _, seed := range page.Chunks {
			scanned++
			if len(seed.Vector) == 0 {
				continue
			}

			hits, err := f.store.Search(ctx, storage.SearchRequest{
				Vector:         seed.Vector,
				Limit:          f.neighborsPerSeed,
				ScoreThreshold: threshold,
				Filter: storage.Filter{
					ConsolidationLevel:      &level,
					ExcludeDeletionEligible: true,
					ExcludeID:               seed.ID,
				},
			})
			if err != nil {
				return nil, err
			}

			for _, hit := range hits {
				if hit.Chunk.ID == seed.ID {
					continue
				}
				pair := types.NewPair(seed.ID, hit.Chunk.ID)
				key := pair.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				pairs = append(pairs, pair)
			}
		}

		if page.NextOffset == nil {
			break
		}
		offset = page.NextOffset
	}

	if f.bus != nil {
		f.bus.Publish(events.Event{
			Type:          events.EventScan,
			Level:         level,
			ChunksScanned: scanned,
			Metadata:      map[string]interface{}{"candidates_found": len(pairs)},
		})
	}

	f.log.Debug("candidate scan complete", "level", level, "scanned", scanned, "candidates", len(pairs))
	return pairs, nil
}
