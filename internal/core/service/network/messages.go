package network

import (
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

const (
	kindJoin         = "network.join"
	kindWelcome      = "network.welcome"
	kindLeave        = "network.leave"
	kindGossip       = "network.gossip"
	kindProposal     = "network.proposal"
	kindBid          = "network.bid"
	kindCollab       = "network.collab"
	kindCollabReply  = "network.collab-reply"
	kindExecute      = "network.execute"
	kindExecuteReply = "network.execute-reply"
)

// TaskProposal travels through the network looking for a node able to take the task
type TaskProposal struct {
	ID     string       `json:"id"`
	Origin string       `json:"origin"`
	Task   *domain.Task `json:"task"`
	TTL    int          `json:"ttl"`
	Hops   int          `json:"hops"`
}

// Bid is a node's offer to run a proposed task, sent straight to the origin
type Bid struct {
	ProposalID    string        `json:"proposal_id"`
	TaskID        string        `json:"task_id"`
	NodeID        string        `json:"node_id"`
	Confidence    float64       `json:"confidence"`
	EstimatedTime time.Duration `json:"estimated_time"`
	EstimatedCost float64       `json:"estimated_cost"`
	Workload      float64       `json:"workload"`
	Hops          int           `json:"hops"`
}

// Negotiation is the outcome of proposing one task
type Negotiation struct {
	ProposalID string        `json:"proposal_id"`
	TaskID     string        `json:"task_id"`
	Bids       []Bid         `json:"bids"` // Best first
	Winner     *Bid          `json:"winner,omitempty"`
	Required   int           `json:"required"`
	TimedOut   bool          `json:"timed_out"`
	Duration   time.Duration `json:"duration"`
}

// CollaborationRequest asks neighbors which subtasks they can take
type CollaborationRequest struct {
	ID       string         `json:"id"`
	Origin   string         `json:"origin"`
	Subtasks []*domain.Task `json:"subtasks"`
}

// CollaborationReply declares the subtasks a node accepts and how long they would take
type CollaborationReply struct {
	RequestID     string        `json:"request_id"`
	NodeID        string        `json:"node_id"`
	Accepted      []string      `json:"accepted"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

type gossipMessage struct {
	States []PeerState `json:"states"`
}

type leaveMessage struct {
	NodeID string `json:"node_id"`
}

type executeRequest struct {
	ID   string       `json:"id"`
	Task *domain.Task `json:"task"`
}

type executeReply struct {
	ID     string                 `json:"id"`
	Result domain.ExecutionResult `json:"result"`
	Error  string                 `json:"error,omitempty"`
}

// Stats counts protocol activity of one peer
type Stats struct {
	ProposalsReceived  int64 `json:"proposals_received"`
	ProposalsForwarded int64 `json:"proposals_forwarded"`
	ProposalsExpired   int64 `json:"proposals_expired"`
	BidsSent           int64 `json:"bids_sent"`
	GossipRounds       int64 `json:"gossip_rounds"`
	Executions         int64 `json:"executions"`
}
