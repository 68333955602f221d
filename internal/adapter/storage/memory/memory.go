// Package memory provides in-process implementations of the storage ports,
// used by the simulation binary and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Registry tracks workers in a map
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*domain.Worker
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*domain.Worker)}
}

func (r *Registry) RegisterWorker(_ context.Context, w *domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := w.Clone()
	if c.LastSeen.IsZero() {
		c.LastSeen = time.Now()
	}
	r.workers[w.ID] = c
	return nil
}

func (r *Registry) GetWorker(_ context.Context, id string) (*domain.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, id)
	}
	return w.Clone(), nil
}

func (r *Registry) GetActiveWorkers(_ context.Context) ([]*domain.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if w.IsActive() {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) MarkInactive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, id)
	}
	w.Status = domain.WorkerStatusInactive
	return nil
}

// Plans stores execution plans and per-task status
type Plans struct {
	mu     sync.RWMutex
	plans  map[string]*domain.ExecutionPlan
	status map[string]domain.TaskStatus
}

func NewPlans() *Plans {
	return &Plans{
		plans:  make(map[string]*domain.ExecutionPlan),
		status: make(map[string]domain.TaskStatus),
	}
}

func (p *Plans) SavePlan(_ context.Context, plan *domain.ExecutionPlan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := *plan
	c.Assignments = append([]domain.Assignment(nil), plan.Assignments...)
	p.plans[plan.TaskID] = &c
	for _, a := range plan.Assignments {
		if _, ok := p.status[a.TaskID]; !ok {
			p.status[a.TaskID] = domain.TaskStatusPending
		}
	}
	return nil
}

func (p *Plans) GetPlan(_ context.Context, taskID string) (*domain.ExecutionPlan, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	plan, ok := p.plans[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, taskID)
	}
	c := *plan
	c.Assignments = append([]domain.Assignment(nil), plan.Assignments...)
	return &c, nil
}

func (p *Plans) UpdateStatus(_ context.Context, taskID string, status domain.TaskStatus, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[taskID] = status
	return nil
}

// Status returns the last recorded status of a (sub)task
func (p *Plans) Status(taskID string) domain.TaskStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status[taskID]
}

// Checkpoints keeps every checkpoint per node
type Checkpoints struct {
	mu     sync.RWMutex
	byNode map[string][]*domain.Checkpoint
}

func NewCheckpoints() *Checkpoints {
	return &Checkpoints{byNode: make(map[string][]*domain.Checkpoint)}
}

func (c *Checkpoints) SaveCheckpoint(_ context.Context, cp *domain.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cpy := *cp
	c.byNode[cp.NodeID] = append(c.byNode[cp.NodeID], &cpy)
	return nil
}

func (c *Checkpoints) LatestCheckpoint(_ context.Context, nodeID string) (*domain.Checkpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *domain.Checkpoint
	for _, cp := range c.byNode[nodeID] {
		if latest == nil || cp.Sequence > latest.Sequence {
			latest = cp
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: node %s", domain.ErrCheckpointNotFound, nodeID)
	}
	cpy := *latest
	return &cpy, nil
}

// Recoveries records recovery history
type Recoveries struct {
	mu      sync.Mutex
	records []domain.RecoveryResult
}

func NewRecoveries() *Recoveries {
	return &Recoveries{}
}

func (r *Recoveries) RecordRecovery(_ context.Context, _ domain.HealthIssue, result domain.RecoveryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, result)
	return nil
}

// Results returns a copy of every recorded recovery
func (r *Recoveries) Results() []domain.RecoveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RecoveryResult(nil), r.records...)
}

// Views keeps gossip view snapshots
type Views struct {
	mu    sync.RWMutex
	views map[string][]byte
}

func NewViews() *Views {
	return &Views{views: make(map[string][]byte)}
}

func (v *Views) SaveView(_ context.Context, nodeID string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[nodeID] = append([]byte(nil), data...)
	return nil
}

func (v *Views) LoadView(_ context.Context, nodeID string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	data, ok := v.views[nodeID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}
