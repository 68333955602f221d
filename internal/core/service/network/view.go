package network

import (
	"sort"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// PeerState is the gossiped state of one node
type PeerState struct {
	NodeID       string              `json:"node_id"`
	Version      uint64              `json:"version"`
	Workload     float64             `json:"workload"`
	Reputation   float64             `json:"reputation"`
	Capabilities domain.Capabilities `json:"capabilities"`
	Status       domain.WorkerStatus `json:"status"`
	UpdatedAt    time.Time           `json:"updated_at"` // Informational; merge ignores it
}

// Worker converts the state into a worker record
func (s PeerState) Worker() *domain.Worker {
	return &domain.Worker{
		ID:           s.NodeID,
		Capabilities: s.Capabilities,
		Workload:     s.Workload,
		Reputation:   s.Reputation,
		Status:       s.Status,
		LastSeen:     s.UpdatedAt,
	}
}

func stateOf(w *domain.Worker, version uint64) PeerState {
	return PeerState{
		NodeID:       w.ID,
		Version:      version,
		Workload:     w.Workload,
		Reputation:   w.Reputation,
		Capabilities: w.Capabilities,
		Status:       w.Status,
		UpdatedAt:    time.Now().UTC(),
	}
}

// View is a node's local picture of the network, merged last-write-wins by
// per-sender version so clock skew cannot reorder updates. Removed nodes
// leave a tombstone so stale gossip cannot bring them back.
type View struct {
	mu         sync.RWMutex
	states     map[string]PeerState
	tombstones map[string]uint64
}

func NewView() *View {
	return &View{
		states:     make(map[string]PeerState),
		tombstones: make(map[string]uint64),
	}
}

// Merge stores s if it is newer than what the view holds. It reports whether the view changed.
func (v *View) Merge(s PeerState) bool {
	if s.NodeID == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.states[s.NodeID]
	if ok && s.Version <= cur.Version {
		return false
	}
	if dead, ok := v.tombstones[s.NodeID]; ok && s.Version <= dead {
		return false
	}
	delete(v.tombstones, s.NodeID)
	s.Capabilities.Domains = append([]string(nil), s.Capabilities.Domains...)
	s.Capabilities.Skills = append([]string(nil), s.Capabilities.Skills...)
	v.states[s.NodeID] = s
	return true
}

func (v *View) Get(nodeID string) (PeerState, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.states[nodeID]
	return s, ok
}

// Remove drops a node and tombstones its last known version
func (v *View) Remove(nodeID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.states[nodeID]
	if !ok {
		return false
	}
	if cur.Version > v.tombstones[nodeID] {
		v.tombstones[nodeID] = cur.Version
	}
	delete(v.states, nodeID)
	return true
}

// Readmit clears the tombstone of a node that explicitly joined again
func (v *View) Readmit(nodeID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tombstones, nodeID)
}

// Snapshot returns every known state ordered by node id
func (v *View) Snapshot() []PeerState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]PeerState, 0, len(v.states))
	for _, s := range v.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.states)
}
