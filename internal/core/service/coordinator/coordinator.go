// Package coordinator picks a coordination mode per task, plans the
// assignment of its subtasks and executes them in dependency order.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/crabzie/swarm-coordinator/internal/core/service/healing"
	"github.com/crabzie/swarm-coordinator/internal/core/service/notify"
	"github.com/crabzie/swarm-coordinator/internal/core/service/optimizer"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

type Option func(*Coordinator)

func WithPlanRepository(r port.PlanRepository) Option {
	return func(c *Coordinator) { c.plans = r }
}

func WithNegotiator(n Negotiator) Option {
	return func(c *Coordinator) { c.negotiator = n }
}

func WithConsensus(a Agreement) Option {
	return func(c *Coordinator) { c.consensus = a }
}

// WithHealing lets the coordinator feed outcomes to the self-healing manager
// and skip workers whose circuit is open.
func WithHealing(m *healing.Manager) Option {
	return func(c *Coordinator) { c.healing = m }
}

func WithMemoryProbe(p MemoryProbe) Option {
	return func(c *Coordinator) { c.memory = p }
}

func WithNotifier(n *notify.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithMetrics(m port.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithSelector(s ModeSelector) Option {
	return func(c *Coordinator) { c.selector = s }
}

// WithMinConfidence sets the confidence below which negotiated assignments are flagged
func WithMinConfidence(v float64) Option {
	return func(c *Coordinator) { c.minConfidence = v }
}

// Coordinator is the entry point for task coordination
type Coordinator struct {
	cfg           Config
	registry      port.WorkerRegistry
	dispatcher    port.Dispatcher
	optimizer     optimizer.Optimizer
	plans         port.PlanRepository
	negotiator    Negotiator
	consensus     Agreement
	healing       *healing.Manager
	memory        MemoryProbe
	notifier      *notify.Notifier
	metrics       port.Metrics
	selector      ModeSelector
	minConfidence float64
	log           *zap.Logger

	health     *HealthChecker
	strategies map[domain.CoordinationMode]ExecutionStrategy
	slots      *semaphore.Weighted
}

func New(cfg Config, registry port.WorkerRegistry, dispatcher port.Dispatcher, opt optimizer.Optimizer, log *zap.Logger, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil || dispatcher == nil || opt == nil {
		return nil, fmt.Errorf("%w: coordinator needs a registry, a dispatcher and an optimizer", domain.ErrInvalidConfig)
	}
	c := &Coordinator{
		cfg:           cfg,
		registry:      registry,
		dispatcher:    dispatcher,
		optimizer:     opt,
		metrics:       port.NopMetrics{},
		minConfidence: optimizer.DefaultConfig().MinConfidence,
		log:           log.Named("coordinator"),
		slots:         semaphore.NewWeighted(cfg.MaxConcurrentExecutions),
	}
	for _, o := range opts {
		o(c)
	}
	if c.selector == nil {
		c.selector = NewRuleSelector(cfg)
	}
	c.health = NewHealthChecker(cfg, c.memory)
	c.strategies = map[domain.CoordinationMode]ExecutionStrategy{
		domain.ModeCentralized:   centralized{c},
		domain.ModeDecentralized: decentralized{c},
		domain.ModeHybrid:        hybrid{c},
	}
	return c, nil
}

// Health evaluates the coordinator's own health
func (c *Coordinator) Health(ctx context.Context) HealthReport {
	return c.health.Check(ctx)
}

// RegisterNode adds a worker to the pool and to health monitoring
func (c *Coordinator) RegisterNode(ctx context.Context, w *domain.Worker) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("%w: worker id is required", domain.ErrInvalidConfig)
	}
	w = w.Clone()
	if w.Status == "" {
		w.Status = domain.WorkerStatusActive
	}
	w.LastSeen = time.Now()
	if err := c.registry.RegisterWorker(ctx, w); err != nil {
		return fmt.Errorf("register worker %s: %w", w.ID, err)
	}
	if c.healing != nil {
		if err := c.healing.RegisterForMonitoring("worker", w.ID); err != nil {
			return err
		}
	}
	c.log.Info("worker registered", zap.String("worker_id", w.ID), zap.Strings("domains", w.Capabilities.Domains))
	return nil
}

// HandleExclusion reacts to consensus excluding a node for Byzantine behavior
func (c *Coordinator) HandleExclusion(ctx context.Context, nodeID string) {
	c.log.Warn("node excluded by consensus", zap.String("node_id", nodeID))
	if err := c.registry.MarkInactive(ctx, nodeID); err != nil && !errors.Is(err, domain.ErrWorkerNotFound) {
		c.log.Error("failed to deactivate excluded worker", zap.String("node_id", nodeID), zap.Error(err))
	}
	if e, ok := c.negotiator.(interface{ Evict(string) }); ok {
		e.Evict(nodeID)
	}
	if c.healing != nil {
		err := c.healing.Report(domain.HealthIssue{
			ComponentID: nodeID,
			Severity:    domain.SeverityCritical,
			Type:        domain.IssueSecurity,
			Kind:        domain.IssueByzantine,
			Symptoms:    []string{"excluded by consensus"},
		})
		if err != nil {
			c.log.Debug("excluded node is not monitored", zap.String("node_id", nodeID))
		}
	}
}

// pool returns the active workers whose circuit is not open
func (c *Coordinator) pool(ctx context.Context) ([]*domain.Worker, error) {
	workers, err := c.registry.GetActiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	if c.healing == nil {
		return workers, nil
	}
	out := workers[:0:0]
	for _, w := range workers {
		if c.healing.BreakerState(w.ID) != healing.BreakerOpen {
			out = append(out, w)
		}
	}
	return out, nil
}

// CoordinateTask selects a mode, plans and executes task. A failed attempt is
// retried once in the other primary mode. Coordination failures are reported
// on the returned assignment; only an invalid task yields an error.
func (c *Coordinator) CoordinateTask(ctx context.Context, task *domain.Task) (*domain.TaskAssignment, error) {
	if task == nil {
		return nil, fmt.Errorf("%w: nil task", domain.ErrInvalidTask)
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	levels, err := waves(task)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CoordinationTimeout)
	defer cancel()
	start := time.Now()
	c.notifier.Emit(domain.EventTaskCreated, map[string]any{"task_id": task.ID, "complexity": task.Complexity})

	poolSize := 0
	if workers, err := c.pool(ctx); err != nil {
		c.log.Warn("could not size worker pool", zap.Error(err))
	} else {
		poolSize = len(workers)
	}
	report := c.health.Check(ctx)
	d := c.selector.Select(task, poolSize, report.Score)
	c.log.Info("coordinating task",
		zap.String("task_id", task.ID),
		zap.String("mode", string(d.Mode)),
		zap.String("reason", d.Reason),
		zap.Bool("consensus", d.RequiresConsensus),
		zap.Int("pool", poolSize),
		zap.Float64("health", report.Score))

	out := &domain.TaskAssignment{TaskID: task.ID, Mode: d.Mode}
	run := newRun(task, levels)
	err = c.attempt(ctx, run, d, out)
	if err != nil {
		next := fallback(d.Mode)
		c.log.Warn("coordination failed, falling back",
			zap.String("task_id", task.ID),
			zap.String("from", string(d.Mode)),
			zap.String("to", string(next)),
			zap.Error(err))
		d.Mode = next
		d.RequiresConsensus = d.RequiresConsensus || c.critical(run.pending())
		out.Mode = next
		out.FallbackUsed = true
		err = c.attempt(ctx, run, d, out)
	}

	out.Results = run.ordered()
	out.Success = err == nil
	if err != nil {
		out.Reason = err.Error()
	}
	out.Duration = time.Since(start)
	c.finish(ctx, task, out)
	return out, nil
}

// critical reports whether any unit falls in a consensus-required category
func (c *Coordinator) critical(units []*domain.Task) bool {
	for _, u := range units {
		if u.RequiresConsensus(c.cfg.ConsensusCategories) {
			return true
		}
	}
	return false
}

func (c *Coordinator) finish(ctx context.Context, task *domain.Task, out *domain.TaskAssignment) {
	c.metrics.ObserveCoordination(out.Mode, out.Success, out.Duration)
	status, ev := domain.TaskStatusCompleted, domain.EventTaskCompleted
	if !out.Success {
		status, ev = domain.TaskStatusFailed, domain.EventTaskFailed
		c.log.Warn("task coordination failed", zap.String("task_id", task.ID), zap.String("reason", out.Reason))
	} else {
		c.log.Info("task completed", zap.String("task_id", task.ID),
			zap.String("mode", string(out.Mode)), zap.Duration("duration", out.Duration))
	}
	if c.plans != nil && out.Plan != nil {
		if err := c.plans.UpdateStatus(context.WithoutCancel(ctx), task.ID, status, ""); err != nil {
			c.log.Error("failed to update task status", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	c.notifier.Emit(ev, map[string]any{
		"task_id":  task.ID,
		"mode":     out.Mode,
		"fallback": out.FallbackUsed,
		"reason":   out.Reason,
	})
}

// run tracks the unit results of one coordination across attempts
type run struct {
	task   *domain.Task
	levels [][]*domain.Task

	mu      sync.Mutex
	results map[string]domain.ExecutionResult
	plan    map[string]domain.Assignment
}

func newRun(task *domain.Task, levels [][]*domain.Task) *run {
	return &run{
		task:    task,
		levels:  levels,
		results: make(map[string]domain.ExecutionResult),
		plan:    make(map[string]domain.Assignment),
	}
}

func (r *run) done(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[id].Success
}

func (r *run) record(res domain.ExecutionResult) {
	r.mu.Lock()
	r.results[res.TaskID] = res
	r.mu.Unlock()
}

// pending lists the units that have not succeeded yet
func (r *run) pending() []*domain.Task {
	var out []*domain.Task
	for _, level := range r.levels {
		for _, u := range level {
			if !r.done(u.ID) {
				out = append(out, u)
			}
		}
	}
	return out
}

func (r *run) ordered() []domain.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionResult
	for _, level := range r.levels {
		for _, u := range level {
			if res, ok := r.results[u.ID]; ok {
				out = append(out, res)
			}
		}
	}
	return out
}

// attempt plans the pending units in mode d and executes them
func (c *Coordinator) attempt(ctx context.Context, r *run, d Decision, out *domain.TaskAssignment) error {
	units := r.pending()
	strategy := c.strategies[d.Mode]
	planned, err := strategy.Plan(ctx, r.task, units, d)
	if planned != nil && planned.Consensus != nil {
		out.Consensus = planned.Consensus
	}
	if err != nil {
		return fmt.Errorf("%s planning: %w", d.Mode, err)
	}

	r.mu.Lock()
	for _, a := range planned.Assignments {
		r.plan[a.TaskID] = a
	}
	plan := &domain.ExecutionPlan{TaskID: r.task.ID, Mode: d.Mode, CreatedAt: time.Now()}
	for _, level := range r.levels {
		for _, u := range level {
			plan.Assignments = append(plan.Assignments, r.plan[u.ID])
		}
	}
	r.mu.Unlock()
	out.Plan = plan

	if c.plans != nil {
		if err := c.plans.SavePlan(ctx, plan); err != nil {
			c.log.Error("failed to save plan", zap.String("task_id", r.task.ID), zap.Error(err))
		}
	}
	return c.execute(ctx, r, plan)
}

// execute dispatches the pending units wave by wave, bounded by the execution cap
func (c *Coordinator) execute(ctx context.Context, r *run, plan *domain.ExecutionPlan) error {
	for i, level := range r.levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, u := range level {
			if r.done(u.ID) {
				continue
			}
			a, ok := plan.AssignmentFor(u.ID)
			if !ok || a.WorkerID == "" {
				return fmt.Errorf("no assignment for %s", u.ID)
			}
			g.Go(func() error {
				if err := c.slots.Acquire(gctx, 1); err != nil {
					return fmt.Errorf("%w: %v", domain.ErrExecutionCapacity, err)
				}
				defer c.slots.Release(1)
				res := c.dispatch(gctx, u, a)
				r.record(res)
				if !res.Success {
					return fmt.Errorf("subtask %s failed on %s: %s", u.ID, a.WorkerID, res.Error)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("wave %d: %w", i+1, err)
		}
	}
	return nil
}

// dispatch runs one unit on its worker and feeds the outcome back into health,
// self-healing and the optimizer's pattern memory.
func (c *Coordinator) dispatch(ctx context.Context, u *domain.Task, a domain.Assignment) domain.ExecutionResult {
	end := c.health.Begin()
	start := time.Now()
	if c.plans != nil {
		if err := c.plans.UpdateStatus(ctx, u.ID, domain.TaskStatusInProgress, a.WorkerID); err != nil {
			c.log.Debug("failed to update subtask status", zap.String("task_id", u.ID), zap.Error(err))
		}
	}

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ExecutionTimeout)
	res, err := c.dispatcher.Dispatch(dctx, a.WorkerID, u)
	cancel()
	res.TaskID = u.ID
	res.WorkerID = a.WorkerID
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	if err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	end(res.Success, res.Duration)
	c.metrics.ObserveExecution(res)

	// A sibling failure cancels ctx; that is not the worker's fault
	if c.healing != nil && (res.Success || ctx.Err() == nil) {
		c.healing.RecordOutcome(a.WorkerID, res.Success, res.Duration)
	}
	if c.plans != nil {
		status := domain.TaskStatusCompleted
		if !res.Success {
			status = domain.TaskStatusFailed
		}
		if err := c.plans.UpdateStatus(context.WithoutCancel(ctx), u.ID, status, a.WorkerID); err != nil {
			c.log.Debug("failed to update subtask status", zap.String("task_id", u.ID), zap.Error(err))
		}
	}
	if res.Success {
		c.reinforce(u, a.WorkerID, res.Quality)
	}
	return res
}

func (c *Coordinator) reinforce(u *domain.Task, workerID string, quality float64) {
	r, ok := c.optimizer.(optimizer.Reinforcer)
	if !ok {
		return
	}
	if n := r.Reinforce(u, workerID, quality); n > 0 {
		c.notifier.Emit(domain.EventPatternReinforced, map[string]any{
			"task_id":   u.ID,
			"worker_id": workerID,
			"domains":   u.Domains,
			"quality":   quality,
		})
	}
}
