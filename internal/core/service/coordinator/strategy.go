package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/service/network"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Negotiator runs decentralized task negotiation among peers
type Negotiator interface {
	ProposeTask(ctx context.Context, task *domain.Task) (*network.Negotiation, error)
}

// Agreement runs Byzantine agreement on a value
type Agreement interface {
	Propose(ctx context.Context, value json.RawMessage) (*domain.ConsensusResult, error)
}

// Planned is what an execution strategy decided for a set of units
type Planned struct {
	Assignments []domain.Assignment
	Consensus   *domain.ConsensusResult
}

// ExecutionStrategy assigns units to workers for one coordination mode
type ExecutionStrategy interface {
	Mode() domain.CoordinationMode
	Plan(ctx context.Context, task *domain.Task, units []*domain.Task, d Decision) (*Planned, error)
}

type centralized struct{ c *Coordinator }

func (centralized) Mode() domain.CoordinationMode { return domain.ModeCentralized }

func (s centralized) Plan(ctx context.Context, task *domain.Task, units []*domain.Task, d Decision) (*Planned, error) {
	workers, err := s.c.pool(ctx)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, domain.ErrNoWorkers
	}
	res, err := s.c.optimizer.Optimize(ctx, units, workers)
	if err != nil {
		return nil, fmt.Errorf("optimize %s: %w", task.ID, err)
	}
	if len(res.LowConfidence) > 0 {
		s.c.log.Warn("capability mismatch, assigning with low confidence",
			zap.String("task_id", task.ID), zap.Strings("units", res.LowConfidence))
	}
	p := &Planned{Assignments: res.Assignments}
	if d.RequiresConsensus {
		if p.Consensus, err = s.c.agree(ctx, task.ID, p.Assignments); err != nil {
			return p, err
		}
	}
	return p, nil
}

type decentralized struct{ c *Coordinator }

func (decentralized) Mode() domain.CoordinationMode { return domain.ModeDecentralized }

func (s decentralized) Plan(ctx context.Context, task *domain.Task, units []*domain.Task, d Decision) (*Planned, error) {
	if s.c.negotiator == nil {
		return nil, fmt.Errorf("decentralized coordination of %s: no peer network configured", task.ID)
	}
	assignments := make([]domain.Assignment, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(s.c.cfg.MaxConcurrentExecutions))
	for i, u := range units {
		g.Go(func() error {
			neg, err := s.c.negotiator.ProposeTask(gctx, u)
			if err != nil {
				return fmt.Errorf("negotiate %s: %w", u.ID, err)
			}
			if neg.Winner == nil {
				return fmt.Errorf("%w: no peer bid for %s", domain.ErrCapabilityMismatch, u.ID)
			}
			w := neg.Winner
			assignments[i] = domain.Assignment{
				TaskID:        u.ID,
				WorkerID:      w.NodeID,
				Confidence:    w.Confidence,
				EstimatedTime: w.EstimatedTime,
				EstimatedCost: w.EstimatedCost,
				LowConfidence: w.Confidence < s.c.minConfidence,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &Planned{Assignments: assignments}
	if d.RequiresConsensus {
		var err error
		if p.Consensus, err = s.c.agree(ctx, task.ID, p.Assignments); err != nil {
			return p, err
		}
	}
	return p, nil
}

// hybrid routes critical units through negotiation and consensus and the
// rest through the central optimizer, merging by unit id.
type hybrid struct{ c *Coordinator }

func (hybrid) Mode() domain.CoordinationMode { return domain.ModeHybrid }

func (s hybrid) Plan(ctx context.Context, task *domain.Task, units []*domain.Task, d Decision) (*Planned, error) {
	var critical, rest []*domain.Task
	for _, u := range units {
		if d.RequiresConsensus || u.RequiresConsensus(s.c.cfg.ConsensusCategories) {
			critical = append(critical, u)
		} else {
			rest = append(rest, u)
		}
	}

	byID := make(map[string]domain.Assignment, len(units))
	out := &Planned{}
	if len(critical) > 0 {
		p, err := decentralized{s.c}.Plan(ctx, task, critical, Decision{Mode: domain.ModeDecentralized, RequiresConsensus: true})
		if p != nil {
			out.Consensus = p.Consensus
		}
		if err != nil {
			return out, fmt.Errorf("critical subtasks: %w", err)
		}
		for _, a := range p.Assignments {
			byID[a.TaskID] = a
		}
	}
	if len(rest) > 0 {
		p, err := centralized{s.c}.Plan(ctx, task, rest, Decision{Mode: domain.ModeCentralized})
		if err != nil {
			return out, err
		}
		for _, a := range p.Assignments {
			byID[a.TaskID] = a
		}
	}
	for _, u := range units {
		out.Assignments = append(out.Assignments, byID[u.ID])
	}
	return out, nil
}

type planEntry struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
}

type planValue struct {
	TaskID      string      `json:"task_id"`
	Assignments []planEntry `json:"assignments"`
}

// agree runs consensus on the assignment of units to workers
func (c *Coordinator) agree(ctx context.Context, taskID string, assignments []domain.Assignment) (*domain.ConsensusResult, error) {
	if c.consensus == nil {
		return nil, fmt.Errorf("%w: task %s requires consensus but no validator group is configured", domain.ErrQuorumNotReached, taskID)
	}
	v := planValue{TaskID: taskID}
	for _, a := range assignments {
		v.Assignments = append(v.Assignments, planEntry{TaskID: a.TaskID, WorkerID: a.WorkerID})
	}
	value, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	res, err := c.consensus.Propose(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("consensus on %s: %w", taskID, err)
	}
	if !res.Success {
		return res, fmt.Errorf("%w: %s", domain.ErrQuorumNotReached, res.Reason)
	}
	return res, nil
}
