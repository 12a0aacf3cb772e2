package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairCanonicalOrder(t *testing.T) {
	p1 := NewPair("b", "a")
	p2 := NewPair("a", "b")
	assert.Equal(t, p1.Key(), p2.Key())
	assert.Equal(t, "a~b", p1.Key())
}

func TestUnionQNTMKeysDeduplicatesAndSorts(t *testing.T) {
	got := UnionQNTMKeys([]string{"@t ~ b", "@t ~ a"}, []string{"@t ~ a", "@t ~ c"})
	assert.Equal(t, []string{"@t ~ a", "@t ~ b", "@t ~ c"}, got)
}

func TestUnionOccurrencesDeduplicatesAndSorts(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	got := UnionOccurrences([]time.Time{t2, t1}, []time.Time{t1})
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(t1))
	assert.True(t, got[1].Equal(t2))
}

func TestUnionParentsIsIdempotent(t *testing.T) {
	got := UnionParents([]string{"p1"}, "p1")
	assert.Equal(t, []string{"p1"}, got)

	got = UnionParents([]string{"p1"}, "p2")
	assert.Equal(t, []string{"p1", "p2"}, got)
}

func TestOccurrencesOrDefaultFallsBackToCreatedAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Chunk{CreatedAt: created}
	assert.Equal(t, []time.Time{created}, c.OccurrencesOrDefault())

	occ := []time.Time{created.Add(time.Hour)}
	c.Occurrences = occ
	assert.Equal(t, occ, c.OccurrencesOrDefault())
}

func TestChunkValidate(t *testing.T) {
	c := &Chunk{ID: "c1", ConsolidationLevel: 1, StabilityScore: 0.5}
	require.NoError(t, c.Validate())

	c.ConsolidationLevel = MaxConsolidationLevel + 1
	assert.Error(t, c.Validate())

	c.ConsolidationLevel = 1
	c.DeletionEligible = true
	assert.Error(t, c.Validate(), "deletion_eligible without deletion_marked_at must fail")
}

func TestStabilityScoreClampsAndRounds(t *testing.T) {
	assert.InDelta(t, 0.0, StabilityScore(StabilityInputs{}), 0.001)

	full := StabilityScore(StabilityInputs{ConsolidationLevel: 9, AccessCount: 100, AgeDays: 365})
	assert.InDelta(t, 1.0, full, 0.001)

	// consolidation_weight=1/3, access=0, age=0 -> (0.333)/3 = 0.111 -> 0.11
	partial := StabilityScore(StabilityInputs{ConsolidationLevel: 1})
	assert.InDelta(t, 0.11, partial, 0.001)
}

func TestStabilityScoreMonotone(t *testing.T) {
	base := StabilityScore(StabilityInputs{ConsolidationLevel: 1, AccessCount: 2, AgeDays: 5})
	higherLevel := StabilityScore(StabilityInputs{ConsolidationLevel: 2, AccessCount: 2, AgeDays: 5})
	higherAccess := StabilityScore(StabilityInputs{ConsolidationLevel: 1, AccessCount: 5, AgeDays: 5})
	higherAge := StabilityScore(StabilityInputs{ConsolidationLevel: 1, AccessCount: 2, AgeDays: 10})

	assert.GreaterOrEqual(t, higherLevel, base)
	assert.GreaterOrEqual(t, higherAccess, base)
	assert.GreaterOrEqual(t, higherAge, base)
}

func TestDeterministicFallback(t *testing.T) {
	fb := DeterministicFallback()
	assert.Equal(t, TypeDuplicateWork, fb.Type)
	assert.Equal(t, DirectionUnknown, fb.Direction)
	assert.Equal(t, KeepFirst, fb.Keep)
	assert.NotEmpty(t, fb.Reasoning)
}
