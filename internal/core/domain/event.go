package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventTaskCreated        EventType = "task_created"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskFailed         EventType = "task_failed"
	EventConsensusCompleted EventType = "consensus_completed"
	EventConsensusFailed    EventType = "consensus_failed"
	EventViewChanged        EventType = "view_changed"
	EventNodeExcluded       EventType = "node_excluded"
	EventPatternReinforced  EventType = "pattern_reinforced"
	EventHealthAlert        EventType = "health_alert"
	EventRecoveryCompleted  EventType = "recovery_completed"
	EventRecoveryFailed     EventType = "recovery_failed"
)

// Event is a lifecycle notification emitted on the pub/sub channel
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Envelope is the transport-level unit exchanged between peers
type Envelope struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}
