package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

const (
	minPheromone = 0.01
	maxPheromone = 10.0
)

type patternKey struct {
	domain   string
	workerID string
}

// ACO is an ant-colony optimizer. Ants build assignments task by task,
// choosing workers in proportion to pheromone and heuristic confidence.
// Pheromone learned from completed executions persists across calls.
type ACO struct {
	cfg Config

	mu     sync.RWMutex
	memory map[patternKey]float64
}

func NewACO(cfg Config) *ACO {
	return &ACO{cfg: cfg, memory: make(map[patternKey]float64)}
}

func (o *ACO) Name() string { return AlgorithmACO }

// Optimize runs the colony for the configured number of iterations
func (o *ACO) Optimize(ctx context.Context, tasks []*domain.Task, workers []*domain.Worker) (*Result, error) {
	res := &Result{Algorithm: AlgorithmACO}
	if len(tasks) == 0 {
		res.Converged = true
		return res, nil
	}
	active := activeWorkers(workers)
	if len(active) == 0 {
		return nil, domain.ErrNoWorkers
	}

	cfg := o.cfg.ACO
	prob := newProblem(tasks, active, o.cfg.Weights)
	rng := newRand(o.cfg.Seed)
	tau := o.initialPheromone(prob)

	best := prob.greedy()
	bestFit := prob.fitness(best)

	for iter := 0; iter < cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("aco interrupted after %d iterations: %w", iter, err)
		}
		for a := 0; a < cfg.Ants; a++ {
			assign := o.walk(rng, prob, tau)
			if fit := prob.fitness(assign); fit > bestFit {
				bestFit = fit
				best = assign
			}
		}
		for ti := range tau {
			for wi := range tau[ti] {
				tau[ti][wi] = math.Max(minPheromone, tau[ti][wi]*(1-cfg.Evaporation))
			}
			tau[ti][best[ti]] = math.Min(maxPheromone, tau[ti][best[ti]]+cfg.Deposit*bestFit)
		}
		res.History = append(res.History, bestFit)
		res.Iterations = iter + 1
	}

	res.Converged = true
	res.Fitness = bestFit
	res.Assignments, res.LowConfidence = prob.assignments(best, o.cfg.MinConfidence)
	return res, nil
}

func (o *ACO) initialPheromone(prob *problem) [][]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	tau := make([][]float64, len(prob.tasks))
	for ti, t := range prob.tasks {
		tau[ti] = make([]float64, len(prob.workers))
		for wi, w := range prob.workers {
			bonus := 0.0
			for _, d := range t.Domains {
				bonus += o.memory[patternKey{strings.ToLower(d), w.ID}]
			}
			tau[ti][wi] = 1 + bonus
		}
	}
	return tau
}

// walk builds one ant's assignment by roulette selection
func (o *ACO) walk(rng *rand.Rand, prob *problem, tau [][]float64) []int {
	cfg := o.cfg.ACO
	assign := make([]int, len(prob.tasks))
	weights := make([]float64, len(prob.workers))
	for ti := range prob.tasks {
		var total float64
		for _, wi := range prob.candidates[ti] {
			eta := prob.est[ti][wi].Confidence + 1e-3
			weights[wi] = math.Pow(tau[ti][wi], cfg.Alpha) * math.Pow(eta, cfg.Beta)
			total += weights[wi]
		}
		pick := prob.candidates[ti][0]
		r := rng.Float64() * total
		for _, wi := range prob.candidates[ti] {
			r -= weights[wi]
			if r <= 0 {
				pick = wi
				break
			}
		}
		assign[ti] = pick
	}
	return assign
}

// Reinforce strengthens the pattern memory for the task's domains on the
// worker that executed it, weighted by output quality. It returns the number
// of patterns updated.
func (o *ACO) Reinforce(task *domain.Task, workerID string, quality float64) int {
	if task == nil || workerID == "" {
		return 0
	}
	rate := o.cfg.ACO.ReinforceRate
	quality = domain.Clamp01(quality)

	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, d := range task.Domains {
		k := patternKey{strings.ToLower(d), workerID}
		o.memory[k] = math.Min(maxPheromone, o.memory[k]*(1-rate)+rate*quality*maxPheromone/2)
		n++
	}
	return n
}

// Pattern returns the learned strength for a domain on a worker
func (o *ACO) Pattern(domainTag, workerID string) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.memory[patternKey{strings.ToLower(domainTag), workerID}]
}
