package storage

import (
	"testing"
	"time"

	"atlas-consolidation/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkPayloadRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	markedAt := now.Add(time.Hour)
	chunk := &types.Chunk{
		ID:                     "c1",
		OriginalText:           "some original text",
		QNTMKeys:               []string{"@t ~ a", "@t ~ b"},
		FilePath:               "main.go",
		ChunkIndex:             3,
		CreatedAt:              now,
		Occurrences:            []time.Time{now},
		Parents:                []string{"p0"},
		ConsolidationLevel:     2,
		ConsolidationType:      types.TypeDuplicateWork,
		ConsolidationDirection: types.DirectionForward,
		ConsolidationReasoning: "near-identical",
		SupersededBy:           "",
		DeletionEligible:       true,
		DeletionMarkedAt:       &markedAt,
		AccessCount:            5,
		LastAccessedAt:         &markedAt,
		StabilityScore:         0.42,
	}

	payload := chunkToPayload(chunk)
	got, err := payloadToChunk(chunk.ID, payload, nil)
	require.NoError(t, err)

	assert.Equal(t, chunk.ID, got.ID)
	assert.Equal(t, chunk.OriginalText, got.OriginalText)
	assert.ElementsMatch(t, chunk.QNTMKeys, got.QNTMKeys)
	assert.Equal(t, chunk.FilePath, got.FilePath)
	assert.Equal(t, chunk.ChunkIndex, got.ChunkIndex)
	assert.True(t, chunk.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, chunk.ConsolidationLevel, got.ConsolidationLevel)
	assert.Equal(t, chunk.ConsolidationType, got.ConsolidationType)
	assert.Equal(t, chunk.ConsolidationDirection, got.ConsolidationDirection)
	assert.Equal(t, chunk.ConsolidationReasoning, got.ConsolidationReasoning)
	assert.Equal(t, chunk.DeletionEligible, got.DeletionEligible)
	assert.True(t, chunk.DeletionMarkedAt.Equal(*got.DeletionMarkedAt))
	assert.Equal(t, chunk.AccessCount, got.AccessCount)
	assert.InDelta(t, chunk.StabilityScore, got.StabilityScore, 0.001)
}

func TestChunkPayloadRoundTripUnsetSupersededBy(t *testing.T) {
	chunk := &types.Chunk{ID: "c1", CreatedAt: time.Now().UTC()}
	payload := chunkToPayload(chunk)
	got, err := payloadToChunk(chunk.ID, payload, nil)
	require.NoError(t, err)
	assert.Empty(t, got.SupersededBy)
}

func TestPatchToPayloadOnlySetsNonNilFields(t *testing.T) {
	level := 3
	patch := PayloadPatch{ConsolidationLevel: &level}
	payload := patchToPayload(patch)

	require.Len(t, payload, 1)
	assert.Equal(t, int64(3), payload[fieldConsolidationLv].GetIntegerValue())
}

func TestStringToPointIDRoundTrip(t *testing.T) {
	id := stringToPointID("c1")
	assert.Equal(t, "c1", pointIDToString(id))
}
