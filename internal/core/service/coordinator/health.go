package coordinator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Health penalty weights
const (
	memoryWeight  = 0.3
	loadWeight    = 0.2
	failureWeight = 0.3
	latencyWeight = 0.2
)

// MemoryProbe reports host memory pressure in [0,1]
type MemoryProbe interface {
	MemoryPressure(ctx context.Context) (float64, error)
}

// HealthReport is one evaluation of the coordinator's own health
type HealthReport struct {
	Score           float64       `json:"score"`
	MemoryPressure  float64       `json:"memory_pressure"`
	MemoryError     string        `json:"memory_error,omitempty"`
	Active          int64         `json:"active_executions"`
	Capacity        int64         `json:"capacity"`
	FailureRate     float64       `json:"failure_rate"`
	AverageResponse time.Duration `json:"average_response"`
}

type outcome struct {
	success bool
	d       time.Duration
}

// HealthChecker tracks executions and scores the coordinator's health
type HealthChecker struct {
	capacity int64
	slow     time.Duration
	memory   MemoryProbe
	active   atomic.Int64

	mu       sync.Mutex
	outcomes []outcome
	next     int
	filled   bool
}

func NewHealthChecker(cfg Config, memory MemoryProbe) *HealthChecker {
	return &HealthChecker{
		capacity: cfg.MaxConcurrentExecutions,
		slow:     cfg.SlowResponse,
		memory:   memory,
		outcomes: make([]outcome, cfg.HealthWindow),
	}
}

// Begin marks an execution as active; the returned func records its outcome
func (h *HealthChecker) Begin() func(success bool, d time.Duration) {
	h.active.Add(1)
	var once sync.Once
	return func(success bool, d time.Duration) {
		once.Do(func() {
			h.active.Add(-1)
			h.Record(success, d)
		})
	}
}

// Record adds one execution outcome to the window
func (h *HealthChecker) Record(success bool, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes[h.next] = outcome{success: success, d: d}
	h.next = (h.next + 1) % len(h.outcomes)
	if h.next == 0 {
		h.filled = true
	}
}

// Check combines memory pressure, load, failure rate and latency into a [0,1] score
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	r := HealthReport{Active: h.active.Load(), Capacity: h.capacity}
	if h.memory != nil {
		p, err := h.memory.MemoryPressure(ctx)
		if err != nil {
			r.MemoryError = err.Error()
		} else {
			r.MemoryPressure = domain.Clamp01(p)
		}
	}

	h.mu.Lock()
	n := h.next
	if h.filled {
		n = len(h.outcomes)
	}
	failures := 0
	var total time.Duration
	for _, o := range h.outcomes[:n] {
		if !o.success {
			failures++
		}
		total += o.d
	}
	h.mu.Unlock()
	if n > 0 {
		r.FailureRate = float64(failures) / float64(n)
		r.AverageResponse = total / time.Duration(n)
	}

	load := domain.Clamp01(float64(r.Active) / float64(r.Capacity))
	latency := math.Min(1, float64(r.AverageResponse)/float64(h.slow))
	r.Score = domain.Clamp01(1 -
		memoryWeight*r.MemoryPressure -
		loadWeight*load -
		failureWeight*r.FailureRate -
		latencyWeight*latency)
	return r
}
