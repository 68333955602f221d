package optimizer

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// PSO is a particle-swarm optimizer over a relaxed task×worker preference
// matrix. Each particle position is decoded by taking, per task, the capable
// worker with the highest preference.
type PSO struct {
	cfg Config
}

func NewPSO(cfg Config) *PSO {
	return &PSO{cfg: cfg}
}

func (o *PSO) Name() string { return AlgorithmPSO }

type particle struct {
	pos, vel []float64
	bestPos  []float64
	bestFit  float64
}

// Optimize runs the swarm until the global-best fitness settles or the
// iteration budget is spent.
func (o *PSO) Optimize(ctx context.Context, tasks []*domain.Task, workers []*domain.Worker) (*Result, error) {
	res := &Result{Algorithm: AlgorithmPSO}
	if len(tasks) == 0 {
		res.Converged = true
		return res, nil
	}
	active := activeWorkers(workers)
	if len(active) == 0 {
		return nil, domain.ErrNoWorkers
	}

	cfg := o.cfg.PSO
	prob := newProblem(tasks, active, o.cfg.Weights)
	rng := newRand(o.cfg.Seed)
	nw := len(active)
	dims := len(tasks) * nw

	swarm := make([]*particle, cfg.SwarmSize)
	var gBestPos []float64
	gBestFit := -1.0

	for i := range swarm {
		p := &particle{pos: make([]float64, dims), vel: make([]float64, dims)}
		if i == 0 {
			// Seed one particle with the greedy assignment so the swarm never starts below it
			for ti, wi := range prob.greedy() {
				p.pos[ti*nw+wi] = 1
			}
		} else {
			for d := range p.pos {
				p.pos[d] = rng.Float64()
			}
		}
		for d := range p.vel {
			p.vel[d] = cfg.MinVelocity + rng.Float64()*(cfg.MaxVelocity-cfg.MinVelocity)
		}
		p.bestPos = append([]float64(nil), p.pos...)
		p.bestFit = prob.fitness(o.decode(prob, p.pos))
		if p.bestFit > gBestFit {
			gBestFit = p.bestFit
			gBestPos = append([]float64(nil), p.pos...)
		}
		swarm[i] = p
	}

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pso interrupted after %d iterations: %w", iter, err)
		}
		for _, p := range swarm {
			o.step(rng, p, gBestPos)
			fit := prob.fitness(o.decode(prob, p.pos))
			if fit > p.bestFit {
				p.bestFit = fit
				copy(p.bestPos, p.pos)
			}
			if fit > gBestFit {
				gBestFit = fit
				copy(gBestPos, p.pos)
			}
		}
		res.History = append(res.History, gBestFit)
		res.Iterations = iter + 1

		if len(res.History) >= cfg.ConvergenceWindow &&
			windowVariance(res.History, cfg.ConvergenceWindow) < cfg.ConvergenceThreshold {
			res.Converged = true
			break
		}
	}

	assign := o.decode(prob, gBestPos)
	res.Fitness = gBestFit
	res.Assignments, res.LowConfidence = prob.assignments(assign, o.cfg.MinConfidence)
	return res, nil
}

func (o *PSO) step(rng *rand.Rand, p *particle, gBest []float64) {
	cfg := o.cfg.PSO
	for d := range p.pos {
		r1, r2 := rng.Float64(), rng.Float64()
		v := cfg.Inertia*p.vel[d] +
			cfg.Cognitive*r1*(p.bestPos[d]-p.pos[d]) +
			cfg.Social*r2*(gBest[d]-p.pos[d])
		if v < cfg.MinVelocity {
			v = cfg.MinVelocity
		} else if v > cfg.MaxVelocity {
			v = cfg.MaxVelocity
		}
		p.vel[d] = v
		p.pos[d] = domain.Clamp01(p.pos[d] + v)
	}
}

// decode maps a position to one worker per task
func (o *PSO) decode(prob *problem, pos []float64) []int {
	nw := len(prob.workers)
	assign := make([]int, len(prob.tasks))
	for ti := range prob.tasks {
		row := pos[ti*nw : (ti+1)*nw]
		best := prob.candidates[ti][0]
		for _, wi := range prob.candidates[ti] {
			if row[wi] > row[best] {
				best = wi
			}
		}
		assign[ti] = best
	}
	return assign
}
