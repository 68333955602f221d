package optimizer

import (
	"context"
	"math/rand"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Optimizer maps tasks onto workers
type Optimizer interface {
	Name() string
	Optimize(ctx context.Context, tasks []*domain.Task, workers []*domain.Worker) (*Result, error)
}

// Reinforcer is implemented by optimizers that learn from execution outcomes
type Reinforcer interface {
	Reinforce(task *domain.Task, workerID string, quality float64) int
}

// Result is the optimizer output. Every input task appears in Assignments exactly once.
type Result struct {
	Algorithm     string              `json:"algorithm"`
	Assignments   []domain.Assignment `json:"assignments"`
	Fitness       float64             `json:"fitness"`
	Iterations    int                 `json:"iterations"`
	Converged     bool                `json:"converged"`
	History       []float64           `json:"history"` // Global-best fitness per iteration
	LowConfidence []string            `json:"low_confidence,omitempty"`
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

func activeWorkers(workers []*domain.Worker) []*domain.Worker {
	out := make([]*domain.Worker, 0, len(workers))
	for _, w := range workers {
		if w != nil && w.IsActive() {
			out = append(out, w)
		}
	}
	return out
}

// variance of the trailing window of xs
func windowVariance(xs []float64, window int) float64 {
	if len(xs) < window {
		window = len(xs)
	}
	if window == 0 {
		return 0
	}
	tail := xs[len(xs)-window:]
	var mean float64
	for _, x := range tail {
		mean += x
	}
	mean /= float64(window)
	var v float64
	for _, x := range tail {
		v += (x - mean) * (x - mean)
	}
	return v / float64(window)
}
