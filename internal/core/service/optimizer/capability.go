package optimizer

import (
	"math"
	"strings"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Capability score weights
const (
	domainWeight     = 0.5
	skillWeight      = 0.3
	complexityWeight = 0.2

	skillSaturation = 2 // Matched skills needed for a full skill score
)

// UnitTime is the nominal duration of one complexity point on an idle,
// perfectly matched worker.
var UnitTime = 30 * time.Second

// Match describes how well one worker fits one task
type Match struct {
	Score      float64 // Weighted capability score in [0,1]
	Domain     float64
	Skill      float64
	Complexity float64
	Capable    bool // The worker declares every hard requirement
}

// CapabilityMatch scores worker w against task t
func CapabilityMatch(t *domain.Task, w *domain.Worker) Match {
	m := Match{
		Domain:     domainOverlap(t, w),
		Skill:      skillOverlap(t, w),
		Complexity: complexityFit(t, w),
	}
	m.Score = domainWeight*m.Domain + skillWeight*m.Skill + complexityWeight*m.Complexity
	m.Capable = w.CanHandle(t) && (len(t.Domains) == 0 || m.Domain > 0)
	return m
}

func domainOverlap(t *domain.Task, w *domain.Worker) float64 {
	if len(t.Domains) == 0 {
		return 1
	}
	hits := 0
	for _, d := range t.Domains {
		if w.HasDomain(d) {
			hits++
		}
	}
	return float64(hits) / float64(len(t.Domains))
}

func skillOverlap(t *domain.Task, w *domain.Worker) float64 {
	if len(w.Capabilities.Skills) == 0 {
		return 0
	}
	desc := strings.ToLower(t.Description)
	hits := 0
	for _, s := range w.Capabilities.Skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if strings.Contains(desc, s) {
			hits++
			continue
		}
		for _, d := range t.Domains {
			if strings.EqualFold(d, s) {
				hits++
				break
			}
		}
	}
	return math.Min(1, float64(hits)/skillSaturation)
}

func complexityFit(t *domain.Task, w *domain.Worker) float64 {
	limit := w.Capabilities.MaxComplexity
	if limit <= 0 || t.Complexity <= limit {
		return 1
	}
	return float64(limit) / float64(t.Complexity)
}

// Estimate holds the derived cost model of one task-worker pair
type Estimate struct {
	Match      Match
	Time       time.Duration
	Cost       float64
	Confidence float64
}

// EstimatePair computes time, cost and confidence for running t on w.
// Busy or poorly matched workers are slower and more expensive.
func EstimatePair(t *domain.Task, w *domain.Worker) Estimate {
	m := CapabilityMatch(t, w)
	efficiency := 0.25 + 0.75*m.Score
	load := 1 + domain.Clamp01(w.Workload/100)
	base := float64(t.Complexity) * float64(UnitTime)

	return Estimate{
		Match:      m,
		Time:       time.Duration(base * load / efficiency),
		Cost:       float64(t.Complexity) * (1 + 0.5*(1-domain.Clamp01(w.Reputation))) / efficiency,
		Confidence: domain.Clamp01(m.Score * (0.7 + 0.3*domain.Clamp01(w.Reputation)) * (1 - 0.5*domain.Clamp01(w.Suspicion))),
	}
}
