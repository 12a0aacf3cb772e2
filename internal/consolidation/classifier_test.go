package consolidation

import (
	"context"
	"testing"
	"time"

	"atlas-consolidation/pkg/ai"
	"atlas-consolidation/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoChunks() (types.Chunk, types.Chunk) {
	now := time.Now().UTC()
	a := types.Chunk{ID: "a1", OriginalText: "parse the config file", CreatedAt: now, QNTMKeys: []string{"@t ~ config"}}
	b := types.Chunk{ID: "b1", OriginalText: "parse the configuration file", CreatedAt: now.Add(time.Hour), QNTMKeys: []string{"@t ~ config"}}
	return a, b
}

func TestAdapterClassifierParsesMockVerdict(t *testing.T) {
	a, b := twoChunks()
	classifier := NewAdapterClassifier(ai.NewMockClient(), time.Second)

	verdict := classifier.Classify(context.Background(), a, b)

	assert.True(t, verdict.Type.Valid())
	assert.True(t, verdict.Direction.Valid())
	assert.True(t, verdict.Keep.Valid())
	assert.NotEmpty(t, verdict.Reasoning)
}

type failingClient struct{}

func (failingClient) Complete(_ context.Context, _ *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	return nil, assertErr
}
func (failingClient) Test(_ context.Context) error { return nil }
func (failingClient) GetConfig() *ai.BaseConfig    { return &ai.BaseConfig{} }

var assertErr = errFake("transport failure")

type errFake string

func (e errFake) Error() string { return string(e) }

func TestAdapterClassifierFallsBackOnTransportError(t *testing.T) {
	a, b := twoChunks()
	classifier := NewAdapterClassifier(failingClient{}, time.Second)

	verdict := classifier.Classify(context.Background(), a, b)

	require.Equal(t, types.DeterministicFallback(), verdict)
}

type malformedClient struct{}

func (malformedClient) Complete(_ context.Context, _ *ai.CompletionRequest) (*ai.CompletionResponse, error) {
	return &ai.CompletionResponse{Content: "not json at all"}, nil
}
func (malformedClient) Test(_ context.Context) error { return nil }
func (malformedClient) GetConfig() *ai.BaseConfig     { return &ai.BaseConfig{} }

func TestAdapterClassifierFallsBackOnMalformedResponse(t *testing.T) {
	a, b := twoChunks()
	classifier := NewAdapterClassifier(malformedClient{}, time.Second)

	verdict := classifier.Classify(context.Background(), a, b)

	require.Equal(t, types.DeterministicFallback(), verdict)
}

func TestParseVerdictRejectsInvalidEnum(t *testing.T) {
	_, err := parseVerdict(`{"type":"bogus","direction":"unknown","reasoning":"x","keep":"first"}`)
	require.Error(t, err)
}

func TestParseVerdictAcceptsValidPayload(t *testing.T) {
	v, err := parseVerdict(`{"type":"duplicate_work","direction":"forward","reasoning":"x","keep":"merge"}`)
	require.NoError(t, err)
	assert.Equal(t, types.TypeDuplicateWork, v.Type)
	assert.Equal(t, types.KeepMerge, v.Keep)
}
