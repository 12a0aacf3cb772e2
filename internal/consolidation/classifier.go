// Package consolidation implements the Atlas chunk consolidation engine:
// a classifier adapter, candidate finder, merge executor, per-level
// driver, ingest pause controller, watchdog, and lifecycle vacuum that
// together merge near-duplicate chunks in a vector store.
package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"atlas-consolidation/internal/errors"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/pkg/ai"
	"atlas-consolidation/pkg/types"
)

// Classifier labels the relationship between two chunks and picks a
// survivor. It never returns an error to the caller — any transport,
// timeout, or parse failure is absorbed into the deterministic fallback.
type Classifier interface {
	Classify(ctx context.Context, a, b types.Chunk) types.ClassifierVerdict
}

// AdapterClassifier wraps an ai.AIClient behind the Classifier contract,
// building a two-chunk comparison prompt and parsing a structured JSON
// verdict out of the response.
type AdapterClassifier struct {
	client  ai.AIClient
	timeout time.Duration
	log     logging.Logger
}

// NewAdapterClassifier wraps client. A zero timeout defaults to 10s.
func NewAdapterClassifier(client ai.AIClient, timeout time.Duration) *AdapterClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AdapterClassifier{
		client:  client,
		timeout: timeout,
		log:     logging.WithComponent("consolidation.classifier"),
	}
}

type verdictPayload struct {
	Type      string `json:"type"`
	Direction string `json:"direction"`
	Reasoning string `json:"reasoning"`
	Keep      string `json:"keep"`
}

// Classify implements Classifier. Any failure to call the model, parse
// its response, or validate the resulting enums falls back to
// types.DeterministicFallback, matching spec.md §4.1.
func (c *AdapterClassifier) Classify(ctx context.Context, a, b types.Chunk) types.ClassifierVerdict {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: buildComparisonPrompt(a, b)},
		},
		MaxTokens:   256,
		Temperature: 0,
	}

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		if errors.IsRetryable(err) {
			c.log.Warn("classifier call failed with a retryable error, using deterministic fallback", "error", err)
		} else {
			c.log.Error("classifier call failed with a non-retryable error, using deterministic fallback", "error", err)
		}
		return types.DeterministicFallback()
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		c.log.Warn("classifier response malformed, using deterministic fallback", "error", err)
		return types.DeterministicFallback()
	}

	return verdict
}

const classifierSystemPrompt = `You compare two text chunks and decide how they relate. Respond with a single JSON object: {"type": "duplicate_work"|"sequential_iteration"|"contextual_convergence", "direction": "forward"|"backward"|"unknown", "reasoning": "<one sentence>", "keep": "first"|"second"|"merge"}.`

func buildComparisonPrompt(a, b types.Chunk) string {
	var sb strings.Builder
	sb.WriteString("Chunk A:\n")
	sb.WriteString("created_at: " + a.CreatedAt.Format(time.RFC3339) + "\n")
	sb.WriteString("qntm_keys: " + strings.Join(a.QNTMKeys, ", ") + "\n")
	sb.WriteString("text: " + a.OriginalText + "\n\n")
	sb.WriteString("Chunk B:\n")
	sb.WriteString("created_at: " + b.CreatedAt.Format(time.RFC3339) + "\n")
	sb.WriteString("qntm_keys: " + strings.Join(b.QNTMKeys, ", ") + "\n")
	sb.WriteString("text: " + b.OriginalText + "\n")
	return sb.String()
}

func parseVerdict(content string) (types.ClassifierVerdict, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return types.ClassifierVerdict{}, fmt.Errorf("no JSON object in response")
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return types.ClassifierVerdict{}, fmt.Errorf("unmarshal verdict: %w", err)
	}

	verdict := types.ClassifierVerdict{
		Type:      types.ConsolidationType(payload.Type),
		Direction: types.ConsolidationDirection(payload.Direction),
		Reasoning: payload.Reasoning,
		Keep:      types.Keep(payload.Keep),
	}

	if !verdict.Type.Valid() || !verdict.Direction.Valid() || !verdict.Keep.Valid() {
		return types.ClassifierVerdict{}, fmt.Errorf("invalid verdict enum: %+v", payload)
	}

	return verdict, nil
}
