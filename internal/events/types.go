// Package events provides a best-effort pub/sub bus for consolidation
// lifecycle notifications: scan starts, pair merges, pass completion,
// and errors, consumed by anything watching the engine run (a CLI
// progress line, a metrics scraper, a test).
package events

import "time"

// EventType identifies a consolidation lifecycle event.
type EventType string

const (
	EventTriggered EventType = "consolidate.triggered"
	EventScan      EventType = "consolidate.scan"
	EventMerged    EventType = "consolidate.pair.merged"
	EventCompleted EventType = "consolidate.completed"
	EventError     EventType = "consolidate.error"
	EventVacuum    EventType = "lifecycle.vacuum"
)

// Event is a single consolidation lifecycle notification.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Level is the consolidation level a scan/merge/completion pertains to.
	Level int `json:"level,omitempty"`

	// PairKey is the canonical pair key for a merge event.
	PairKey string `json:"pair_key,omitempty"`

	// ChunksScanned/MergesApplied summarize a scan or a completed pass.
	ChunksScanned int `json:"chunks_scanned,omitempty"`
	MergesApplied int `json:"merges_applied,omitempty"`

	// Err carries an error event's message; empty for non-error events.
	Err string `json:"error,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
