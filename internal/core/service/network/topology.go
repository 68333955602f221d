package network

import (
	"sort"
	"strings"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Connection score weights
const (
	complementarityWeight = 0.5
	reputationWeight      = 0.3
	workloadWeight        = 0.2
)

// ConnectionScore rates how useful other is as a neighbor of self: nodes
// that cover domains self lacks, are reputable and have spare capacity rank higher.
func ConnectionScore(self domain.Capabilities, other PeerState) float64 {
	return complementarityWeight*complementarity(self, other.Capabilities) +
		reputationWeight*domain.Clamp01(other.Reputation) +
		workloadWeight*domain.Clamp01(1-other.Workload/100)
}

func complementarity(self, other domain.Capabilities) float64 {
	mine := make(map[string]bool, len(self.Domains))
	for _, d := range self.Domains {
		mine[strings.ToLower(d)] = true
	}
	union := len(mine)
	novel := 0
	for _, d := range other.Domains {
		d = strings.ToLower(d)
		if !mine[d] {
			novel++
			union++
			mine[d] = true
		}
	}
	if union == 0 {
		return 0
	}
	return float64(novel) / float64(union)
}

type scored struct {
	id    string
	score float64
}

// selectNeighbors picks the top k candidates by connection score, ties broken by id
func selectNeighbors(self *domain.Worker, candidates []PeerState, k int) []string {
	var ranked []scored
	for _, s := range candidates {
		if s.NodeID == self.ID || s.Status != domain.WorkerStatusActive {
			continue
		}
		ranked = append(ranked, scored{s.NodeID, ConnectionScore(self.Capabilities, s)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	return ids
}
