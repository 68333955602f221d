// Package worker runs the local swarm member: a heartbeat keeps it in the
// registry and every execution it performs is reflected in the plan status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"go.uber.org/zap"
)

const DefaultHeartbeatInterval = 10 * time.Second

type Option func(*Service)

func WithPlanRepository(r port.PlanRepository) Option {
	return func(s *Service) { s.plans = r }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Service) { s.interval = d }
}

// Service wraps the local executor. It implements port.Executor so the peer
// network can hand it remote execution requests.
type Service struct {
	self     func() *domain.Worker
	registry port.WorkerRegistry
	executor port.Executor
	plans    port.PlanRepository
	interval time.Duration
	log      *zap.Logger

	wg sync.WaitGroup
}

// NewService builds the member service; self returns the current local worker state
func NewService(self func() *domain.Worker, registry port.WorkerRegistry, executor port.Executor, log *zap.Logger, opts ...Option) (*Service, error) {
	if self == nil || registry == nil || executor == nil {
		return nil, fmt.Errorf("%w: worker service needs local state, a registry and an executor", domain.ErrInvalidConfig)
	}
	s := &Service{
		self:     self,
		registry: registry,
		executor: executor,
		interval: DefaultHeartbeatInterval,
		log:      log.Named("worker"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("%w: heartbeat interval must be positive", domain.ErrInvalidConfig)
	}
	return s, nil
}

// Start registers the member and keeps its registration fresh until ctx is done
func (s *Service) Start(ctx context.Context) error {
	w := s.self()
	s.log.Info("Starting Worker Node", zap.String("id", w.ID))
	if err := s.beat(ctx); err != nil {
		return fmt.Errorf("initial registration: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(ctx)
	}()
	return nil
}

// Wait blocks until the heartbeat loop has exited
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.beat(ctx); err != nil {
				s.log.Error("Heartbeat failed", zap.Error(err))
			} else {
				s.log.Debug("Heartbeat sent")
			}
		}
	}
}

// beat re-registers the current local state. A member deactivated by the
// coordinator (for example after a consensus exclusion) stays inactive.
func (s *Service) beat(ctx context.Context) error {
	w := s.self()
	prev, err := s.registry.GetWorker(ctx, w.ID)
	switch {
	case err == nil && prev.Status == domain.WorkerStatusInactive:
		s.log.Warn("member is deactivated, heartbeat suppressed", zap.String("id", w.ID))
		return nil
	case err != nil && !errors.Is(err, domain.ErrWorkerNotFound):
		return err
	}
	if w.Status == "" {
		w.Status = domain.WorkerStatusActive
	}
	w.LastSeen = time.Now()
	return s.registry.RegisterWorker(ctx, w)
}

// Execute runs task on the local executor, recording its progress
func (s *Service) Execute(ctx context.Context, task *domain.Task) (domain.ExecutionResult, error) {
	w := s.self()
	s.log.Info("Processing Task...", zap.String("id", task.ID), zap.Int("complexity", task.Complexity))

	s.update(ctx, task.ID, domain.TaskStatusInProgress, w.ID)
	res, err := s.executor.Execute(ctx, task)
	status := domain.TaskStatusCompleted
	if err != nil || !res.Success {
		status = domain.TaskStatusFailed
	}
	s.update(context.WithoutCancel(ctx), task.ID, status, w.ID)

	if status == domain.TaskStatusFailed {
		s.log.Warn("Task Failed", zap.String("id", task.ID), zap.String("error", res.Error), zap.Error(err))
	} else {
		s.log.Info("Task Completed", zap.String("id", task.ID), zap.Float64("quality", res.Quality))
	}
	return res, err
}

func (s *Service) update(ctx context.Context, taskID string, status domain.TaskStatus, workerID string) {
	if s.plans == nil {
		return
	}
	if err := s.plans.UpdateStatus(ctx, taskID, status, workerID); err != nil {
		s.log.Error("Failed to update task status", zap.String("status", string(status)), zap.Error(err))
	}
}
