package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessagePrePrepare        MessageType = "pre-prepare"
	MessagePrepare           MessageType = "prepare"
	MessageCommit            MessageType = "commit"
	MessageViewChange        MessageType = "view-change"
	MessageRequest           MessageType = "request"
	MessageHeartbeat         MessageType = "heartbeat"
	MessageCheckpointRequest MessageType = "checkpoint-request"
	MessageCheckpoint        MessageType = "checkpoint"
)

// Proposal is a value submitted for agreement by the primary of a view.
// Digest must equal the hash of the canonical encoding of Value.
type Proposal struct {
	ID         string          `json:"id"`
	ProposerID string          `json:"proposer_id"`
	View       uint64          `json:"view"`
	Sequence   uint64          `json:"sequence"`
	Value      json.RawMessage `json:"value"`
	Digest     string          `json:"digest"`
	Signature  []byte          `json:"signature,omitempty"`
}

// Message is a signed consensus vote or control message.
// A correct node emits at most one message per (view, sequence, type).
type Message struct {
	Type       MessageType `json:"type"`
	SenderID   string      `json:"sender_id"`
	View       uint64      `json:"view"`
	Sequence   uint64      `json:"sequence"`
	Digest     string      `json:"digest"`
	Accept     bool        `json:"accept"`
	Reason     string      `json:"reason,omitempty"`
	Proposal   *Proposal   `json:"proposal,omitempty"`   // pre-prepare and request only
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"` // checkpoint replies only
	Timestamp  time.Time   `json:"timestamp"`
	TTL        int         `json:"ttl"`
	Signature  []byte      `json:"signature,omitempty"`
}

// ConsensusResult is the structured outcome of one consensus run
type ConsensusResult struct {
	ProposalID  string          `json:"proposal_id"`
	Success     bool            `json:"success"`
	View        uint64          `json:"view"`
	Sequence    uint64          `json:"sequence"`
	Digest      string          `json:"digest"`
	Value       json.RawMessage `json:"value,omitempty"`
	AcceptVotes int             `json:"accept_votes"`
	RejectVotes int             `json:"reject_votes"`
	Quorum      int             `json:"quorum"`
	Reason      string          `json:"reason,omitempty"`
	Evidence    []Evidence      `json:"evidence,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

type EvidenceKind string

const (
	EvidenceDoubleVoting     EvidenceKind = "double-voting"
	EvidenceSilence          EvidenceKind = "silence"
	EvidenceInvalidSignature EvidenceKind = "invalid-signature"
	EvidenceCorruptDigest    EvidenceKind = "corrupt-digest"
)

// Evidence records observed Byzantine behavior of a node
type Evidence struct {
	NodeID     string       `json:"node_id"`
	Kind       EvidenceKind `json:"kind"`
	View       uint64       `json:"view"`
	Sequence   uint64       `json:"sequence"`
	Phase      MessageType  `json:"phase,omitempty"`
	Detail     string       `json:"detail"`
	ObservedAt time.Time    `json:"observed_at"`
}

// Checkpoint is a signed state digest persisted after each finalized proposal
type Checkpoint struct {
	NodeID      string    `json:"node_id"`
	View        uint64    `json:"view"`
	Sequence    uint64    `json:"sequence"`
	ProposalID  string    `json:"proposal_id"`
	Digest      string    `json:"digest"`       // Digest of the finalized value
	StateDigest string    `json:"state_digest"` // Chained digest of all finalized values
	CreatedAt   time.Time `json:"created_at"`
	Signature   []byte    `json:"signature,omitempty"`
}
