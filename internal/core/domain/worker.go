package domain

import (
	"strings"
	"time"
)

type WorkerStatus string

const (
	WorkerStatusActive   WorkerStatus = "ACTIVE"
	WorkerStatusInactive WorkerStatus = "INACTIVE"
	WorkerStatusDraining WorkerStatus = "DRAINING"
)

// Capabilities describes what a worker declares it can do
type Capabilities struct {
	Domains       []string `json:"domains"`        // Domain tags, e.g. "backend", "security"
	Skills        []string `json:"skills"`         // Specialized skill keywords
	MaxComplexity int      `json:"max_complexity"` // 1 (trivial) to 10 (hardest)
	MaxParallel   int      `json:"max_parallel"`   // Concurrent task capacity
}

// Worker represents a swarm member independent of how it produces results
type Worker struct {
	ID           string       `json:"id"`
	Capabilities Capabilities `json:"capabilities"`
	Workload     float64      `json:"workload"`   // 0 (idle) to 100 (saturated)
	Reputation   float64      `json:"reputation"` // 0 to 1
	Suspicion    float64      `json:"suspicion"`  // 0 to 1, Byzantine suspicion
	Status       WorkerStatus `json:"status"`
	LastSeen     time.Time    `json:"last_seen"`
}

// IsActive reports whether the worker may receive work
func (w *Worker) IsActive() bool {
	return w.Status == WorkerStatusActive
}

// AvailableCapacity returns the remaining workload headroom in [0,1]
func (w *Worker) AvailableCapacity() float64 {
	return clamp01((100 - w.Workload) / 100)
}

// CanHandle reports whether the worker declares enough complexity headroom and
// spare capacity for the task.
func (w *Worker) CanHandle(t *Task) bool {
	if !w.IsActive() {
		return false
	}
	if w.Capabilities.MaxComplexity > 0 && t.Complexity > w.Capabilities.MaxComplexity {
		return false
	}
	return w.Workload < 100
}

// HasDomain reports whether the worker declares the given domain tag
func (w *Worker) HasDomain(tag string) bool {
	for _, d := range w.Capabilities.Domains {
		if strings.EqualFold(d, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines
func (w *Worker) Clone() *Worker {
	c := *w
	c.Capabilities.Domains = append([]string(nil), w.Capabilities.Domains...)
	c.Capabilities.Skills = append([]string(nil), w.Capabilities.Skills...)
	return &c
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp01 bounds v to [0,1]
func Clamp01(v float64) float64 {
	return clamp01(v)
}
