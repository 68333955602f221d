package simulated

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Fleet is a set of simulated workers. It dispatches tasks to them, reports
// their metrics and carries out recovery actions against them.
type Fleet struct {
	mu        sync.RWMutex
	executors map[string]*Executor
	base      Profile
	seed      int64
	replaced  int
}

func NewFleet(base Profile, seed int64) *Fleet {
	return &Fleet{executors: make(map[string]*Executor), base: base, seed: seed}
}

// Add creates a worker with the base profile and returns it
func (f *Fleet) Add(id string) *Executor {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := NewExecutor(id, f.base, f.seed+int64(len(f.executors)))
	f.executors[id] = e
	return e
}

func (f *Fleet) Get(id string) (*Executor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.executors[id]
	return e, ok
}

func (f *Fleet) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.executors))
	for id := range f.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *Fleet) lookup(id string) (*Executor, error) {
	e, ok := f.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrComponentNotFound, id)
	}
	return e, nil
}

func (f *Fleet) Dispatch(ctx context.Context, workerID string, task *domain.Task) (domain.ExecutionResult, error) {
	e, err := f.lookup(workerID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	return e.Execute(ctx, task)
}

func (f *Fleet) GetComponentMetrics(_ context.Context, componentID string) (domain.HealthMetrics, error) {
	e, err := f.lookup(componentID)
	if err != nil {
		return domain.HealthMetrics{}, err
	}
	return e.Metrics(), nil
}

// Restart brings the worker back with the base profile and clean counters
func (f *Fleet) Restart(_ context.Context, componentID string) error {
	e, err := f.lookup(componentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.profile = f.base
	e.reset()
	e.mu.Unlock()
	return nil
}

// ReleaseResources drops the worker's memory pressure to the base level
func (f *Fleet) ReleaseResources(_ context.Context, componentID string) error {
	e, err := f.lookup(componentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.profile.MemoryUsage = f.base.MemoryUsage
	e.mu.Unlock()
	return nil
}

// Replace retires the worker and starts a fresh one under a new id
func (f *Fleet) Replace(_ context.Context, componentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.executors[componentID]; !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrComponentNotFound, componentID)
	}
	f.replaced++
	id := fmt.Sprintf("%s-r%d", componentID, f.replaced)
	delete(f.executors, componentID)
	f.executors[id] = NewExecutor(id, f.base, f.seed+int64(1000+f.replaced))
	return id, nil
}
