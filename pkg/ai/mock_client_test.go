package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func complete(t *testing.T, content string) *CompletionResponse {
	t.Helper()
	client := NewMockClient()
	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: content}},
	})
	require.NoError(t, err)
	return resp
}

func TestMockClientDetectsSequentialIteration(t *testing.T) {
	resp := complete(t, "this is a revised iteration of the earlier note")
	assert.Contains(t, resp.Content, "sequential_iteration")
	assert.Contains(t, resp.Content, `"keep":"second"`)
}

func TestMockClientDetectsContextualConvergence(t *testing.T) {
	resp := complete(t, "arrived at this from a different angle with new context")
	assert.Contains(t, resp.Content, "contextual_convergence")
	assert.Contains(t, resp.Content, `"keep":"merge"`)
}

func TestMockClientDefaultsToDuplicateWork(t *testing.T) {
	resp := complete(t, "identical text with no special keywords")
	assert.Contains(t, resp.Content, "duplicate_work")
}

func TestMockClientHandlesEmptyMessages(t *testing.T) {
	client := NewMockClient()
	resp, err := client.Complete(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "empty request")
}

func TestMockClientTestAndConfig(t *testing.T) {
	client := NewMockClient()
	assert.NoError(t, client.Test(context.Background()))
	assert.Equal(t, "mock-model", client.GetConfig().Model)
}
