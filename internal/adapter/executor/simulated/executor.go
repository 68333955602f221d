// Package simulated provides in-process workers whose behavior can be tuned
// and faulted, for the simulation binary and for end-to-end tests.
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Profile controls how a simulated worker behaves
type Profile struct {
	UnitTime    time.Duration // Time per complexity point
	FailureRate float64       // 0 to 1
	Quality     float64       // Base output quality, 0 to 1
	MemoryUsage float64       // Reported memory pressure, 0 to 1
}

func DefaultProfile() Profile {
	return Profile{UnitTime: 2 * time.Millisecond, FailureRate: 0, Quality: 0.85, MemoryUsage: 0.3}
}

// Executor executes tasks by sleeping for their simulated duration
type Executor struct {
	id string

	mu       sync.Mutex
	profile  Profile
	rng      *rand.Rand
	down     bool
	runs     int
	failures int
	streak   int
	latency  time.Duration
}

func NewExecutor(id string, profile Profile, seed int64) *Executor {
	return &Executor{id: id, profile: profile, rng: rand.New(rand.NewSource(seed))}
}

func (e *Executor) ID() string { return e.id }

func (e *Executor) Execute(ctx context.Context, task *domain.Task) (domain.ExecutionResult, error) {
	e.mu.Lock()
	if e.down {
		e.mu.Unlock()
		e.observe(false, 0)
		return domain.ExecutionResult{}, fmt.Errorf("%w: %s is down", domain.ErrWorkerNotFound, e.id)
	}
	p := e.profile
	failed := e.rng.Float64() < p.FailureRate
	jitter := 0.9 + 0.2*e.rng.Float64()
	quality := domain.Clamp01(p.Quality + 0.1*(e.rng.Float64()-0.5))
	e.mu.Unlock()

	d := time.Duration(float64(p.UnitTime) * float64(task.Complexity) * jitter)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		e.observe(false, d)
		return domain.ExecutionResult{}, ctx.Err()
	case <-timer.C:
	}

	res := domain.ExecutionResult{TaskID: task.ID, WorkerID: e.id, Success: !failed, Duration: d}
	if failed {
		res.Error = "simulated failure"
	} else {
		res.Quality = quality
		res.Output = fmt.Sprintf("%s done by %s", task.ID, e.id)
	}
	e.observe(!failed, d)
	return res, nil
}

func (e *Executor) observe(success bool, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs++
	e.latency = d
	if success {
		e.streak = 0
		return
	}
	e.failures++
	e.streak++
}

// SetProfile changes the behavior of subsequent executions
func (e *Executor) SetProfile(p Profile) {
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()
}

func (e *Executor) Profile() Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// Crash makes every execution fail until Restart
func (e *Executor) Crash() {
	e.mu.Lock()
	e.down = true
	e.mu.Unlock()
}

// Metrics reports health metrics derived from the executions seen since the last reset
func (e *Executor) Metrics() domain.HealthMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := domain.HealthMetrics{
		ResponseTime:        e.latency,
		MemoryUsage:         e.profile.MemoryUsage,
		ConsecutiveFailures: e.streak,
	}
	if e.runs > 0 {
		m.ErrorRate = float64(e.failures) / float64(e.runs)
	}
	return m
}

func (e *Executor) reset() {
	e.down = false
	e.runs, e.failures, e.streak = 0, 0, 0
	e.latency = 0
}
