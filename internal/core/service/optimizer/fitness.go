package optimizer

import (
	"math"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// problem is the precomputed cost model shared by every candidate evaluation
type problem struct {
	tasks   []*domain.Task
	workers []*domain.Worker
	est     [][]Estimate
	// candidates[t] lists the worker indexes decoding may pick for task t
	candidates [][]int
	mismatch   []bool // No capable worker exists for task t
	minTime    float64
	minCost    float64
	weights    Weights
}

func newProblem(tasks []*domain.Task, workers []*domain.Worker, weights Weights) *problem {
	p := &problem{
		tasks:      tasks,
		workers:    workers,
		est:        make([][]Estimate, len(tasks)),
		candidates: make([][]int, len(tasks)),
		mismatch:   make([]bool, len(tasks)),
		weights:    weights,
	}
	for ti, t := range tasks {
		p.est[ti] = make([]Estimate, len(workers))
		bestTime, bestCost := math.Inf(1), math.Inf(1)
		for wi, w := range workers {
			e := EstimatePair(t, w)
			p.est[ti][wi] = e
			if e.Match.Capable {
				p.candidates[ti] = append(p.candidates[ti], wi)
			}
			bestTime = math.Min(bestTime, float64(e.Time))
			bestCost = math.Min(bestCost, e.Cost)
		}
		if len(p.candidates[ti]) == 0 {
			p.mismatch[ti] = true
			for wi := range workers {
				p.candidates[ti] = append(p.candidates[ti], wi)
			}
		}
		p.minTime += bestTime
		p.minCost += bestCost
	}
	return p
}

// fitness scores an assignment vector (task index to worker index). Higher is better.
func (p *problem) fitness(assign []int) float64 {
	var total, cost, quality float64
	counts := make([]int, len(p.workers))
	for ti, wi := range assign {
		e := p.est[ti][wi]
		total += float64(e.Time)
		cost += e.Cost
		quality += e.Confidence
		counts[wi]++
	}
	n := float64(len(assign))
	if n == 0 {
		return 0
	}

	timeScore, costScore := 1.0, 1.0
	if total > 0 {
		timeScore = p.minTime / total
	}
	if cost > 0 {
		costScore = p.minCost / cost
	}
	quality /= n

	w := p.weights
	sum := w.sum()
	return (w.Time*timeScore + w.Cost*costScore + w.Quality*quality + w.LoadBalance*p.balance(counts)) / sum
}

// balance is the inverse load variance across workers after the assignment
func (p *problem) balance(counts []int) float64 {
	if len(p.workers) < 2 {
		return 1
	}
	loads := make([]float64, len(p.workers))
	var mean float64
	for wi, w := range p.workers {
		par := w.Capabilities.MaxParallel
		if par < 1 {
			par = 1
		}
		loads[wi] = w.Workload/100 + float64(counts[wi])/float64(par)
		mean += loads[wi]
	}
	mean /= float64(len(loads))
	var v float64
	for _, l := range loads {
		v += (l - mean) * (l - mean)
	}
	v /= float64(len(loads))
	return 1 / (1 + v)
}

// greedy picks the highest-confidence candidate per task
func (p *problem) greedy() []int {
	assign := make([]int, len(p.tasks))
	for ti := range p.tasks {
		best := p.candidates[ti][0]
		for _, wi := range p.candidates[ti] {
			if p.est[ti][wi].Confidence > p.est[ti][best].Confidence {
				best = wi
			}
		}
		assign[ti] = best
	}
	return assign
}

// assignments turns an assignment vector into the public result form
func (p *problem) assignments(assign []int, minConfidence float64) ([]domain.Assignment, []string) {
	out := make([]domain.Assignment, len(assign))
	var low []string
	for ti, wi := range assign {
		e := p.est[ti][wi]
		a := domain.Assignment{
			TaskID:        p.tasks[ti].ID,
			WorkerID:      p.workers[wi].ID,
			Confidence:    e.Confidence,
			EstimatedTime: e.Time,
			EstimatedCost: e.Cost,
			LowConfidence: p.mismatch[ti] || e.Confidence < minConfidence,
		}
		if a.LowConfidence {
			low = append(low, a.TaskID)
		}
		out[ti] = a
	}
	return out, low
}

// Fitness scores an existing set of assignments with the given weights.
// Assignments naming unknown tasks or workers are ignored.
func Fitness(tasks []*domain.Task, workers []*domain.Worker, assignments []domain.Assignment, weights Weights) float64 {
	if weights.sum() <= 0 {
		return 0
	}
	taskIdx := make(map[string]int, len(tasks))
	for i, t := range tasks {
		taskIdx[t.ID] = i
	}
	workerIdx := make(map[string]int, len(workers))
	for i, w := range workers {
		workerIdx[w.ID] = i
	}

	var sub []*domain.Task
	var assign []int
	for _, a := range assignments {
		ti, ok := taskIdx[a.TaskID]
		if !ok {
			continue
		}
		wi, ok := workerIdx[a.WorkerID]
		if !ok {
			continue
		}
		sub = append(sub, tasks[ti])
		assign = append(assign, wi)
	}
	if len(assign) == 0 {
		return 0
	}
	return newProblem(sub, workers, weights).fitness(assign)
}
