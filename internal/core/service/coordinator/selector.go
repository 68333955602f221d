package coordinator

import "github.com/crabzie/swarm-coordinator/internal/core/domain"

// Decision is the outcome of mode selection
type Decision struct {
	Mode              domain.CoordinationMode
	RequiresConsensus bool
	Reason            string
}

// ModeSelector chooses how a task is coordinated
type ModeSelector interface {
	Select(task *domain.Task, poolSize int, health float64) Decision
}

// RuleSelector applies the mode rules in order; the first match wins
type RuleSelector struct {
	cfg Config
}

func NewRuleSelector(cfg Config) *RuleSelector {
	return &RuleSelector{cfg: cfg}
}

func (s *RuleSelector) Select(task *domain.Task, poolSize int, health float64) Decision {
	switch {
	case task.RequiresConsensus(s.cfg.ConsensusCategories):
		return Decision{Mode: domain.ModeDecentralized, RequiresConsensus: true, Reason: "consensus-required category"}
	case health < s.cfg.FailoverThreshold:
		return Decision{Mode: domain.ModeDecentralized, Reason: "coordinator health below failover threshold"}
	case poolSize >= s.cfg.LargePoolSize && task.Complexity <= s.cfg.LowComplexity:
		return Decision{Mode: domain.ModeCentralized, Reason: "large pool and low complexity"}
	case task.Complexity >= s.cfg.HighComplexity && task.SubtaskCount() >= s.cfg.HighSubtaskCount:
		return Decision{Mode: domain.ModeDecentralized, Reason: "high complexity and parallelism"}
	default:
		return Decision{Mode: domain.ModeHybrid, Reason: "mixed workload"}
	}
}

// fallback is the other primary mode tried once after a failure
func fallback(mode domain.CoordinationMode) domain.CoordinationMode {
	if mode == domain.ModeCentralized {
		return domain.ModeDecentralized
	}
	return domain.ModeCentralized
}
