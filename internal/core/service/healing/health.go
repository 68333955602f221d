package healing

import (
	"fmt"
	"math"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/google/uuid"
)

// Score penalties
const (
	slowResponsePenalty = 0.25
	memoryPenalty       = 0.2
	cpuPenalty          = 0.1
	errorRatePenalty    = 0.3
	failurePenalty      = 0.15 // Per consecutive failure
	maxFailurePenalty   = 0.6
)

// Score derives a [0,1] health score from metrics through fixed penalties
func (c Config) Score(m domain.HealthMetrics) float64 {
	score := 1.0
	if m.ResponseTime > c.SlowResponse {
		score -= slowResponsePenalty
	}
	if m.MemoryUsage > c.HighMemory {
		score -= memoryPenalty
	}
	if m.CPUUsage > c.HighCPU {
		score -= cpuPenalty
	}
	if m.ErrorRate > c.HighErrorRate {
		score -= errorRatePenalty
	}
	score -= math.Min(maxFailurePenalty, failurePenalty*float64(m.ConsecutiveFailures))
	return domain.Clamp01(score)
}

// Classify maps a score to a health status
func (c Config) Classify(score float64) domain.HealthStatus {
	switch {
	case score >= c.HealthyThreshold:
		return domain.HealthHealthy
	case score >= c.DegradedThreshold:
		return domain.HealthDegraded
	default:
		return domain.HealthFailed
	}
}

// Analyze lists the issues the metrics of componentID breach
func (c Config) Analyze(componentID string, m domain.HealthMetrics) []domain.HealthIssue {
	var out []domain.HealthIssue
	add := func(sev domain.Severity, typ domain.IssueType, kind domain.IssueKind, symptom string) {
		out = append(out, newIssue(componentID, sev, typ, kind, symptom))
	}

	if m.ConsecutiveFailures >= c.ConsecutiveFailures {
		sev := domain.SeverityHigh
		if m.ConsecutiveFailures > c.ConsecutiveFailures {
			sev = domain.SeverityCritical
		}
		add(sev, domain.IssueAvailability, domain.IssueConsecutiveFailures,
			fmt.Sprintf("%d consecutive failures", m.ConsecutiveFailures))
	}
	if m.ErrorRate > c.HighErrorRate {
		sev := domain.SeverityHigh
		if m.ErrorRate >= 0.5 {
			sev = domain.SeverityCritical
		}
		add(sev, domain.IssueIntegrity, domain.IssueHighErrorRate,
			fmt.Sprintf("error rate %.2f", m.ErrorRate))
	}
	if m.ResponseTime > c.SlowResponse {
		sev := domain.SeverityMedium
		if m.ResponseTime > 2*c.SlowResponse {
			sev = domain.SeverityHigh
		}
		add(sev, domain.IssuePerformance, domain.IssueSlowResponse,
			fmt.Sprintf("response time %s", m.ResponseTime))
	}
	if m.MemoryUsage > c.HighMemory {
		sev := domain.SeverityMedium
		if m.MemoryUsage >= 0.95 {
			sev = domain.SeverityHigh
		}
		add(sev, domain.IssuePerformance, domain.IssueHighMemory,
			fmt.Sprintf("memory usage %.0f%%", m.MemoryUsage*100))
	}
	return out
}

// unreachable is raised when monitoring itself could not reach the component
func unreachable(componentID string, err error) domain.HealthIssue {
	return newIssue(componentID, domain.SeverityHigh, domain.IssueAvailability, domain.IssueUnreachable,
		"health probe failed: "+err.Error())
}

func newIssue(componentID string, sev domain.Severity, typ domain.IssueType, kind domain.IssueKind, symptom string) domain.HealthIssue {
	return domain.HealthIssue{
		ID:          uuid.NewString(),
		Severity:    sev,
		Type:        typ,
		Kind:        kind,
		ComponentID: componentID,
		Symptoms:    []string{symptom},
		DetectedAt:  time.Now(),
	}
}

func hasKind(issues []domain.HealthIssue, kind domain.IssueKind) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

// stats accumulates execution outcomes reported for one component
type stats struct {
	consecutive  int
	errorRate    float64 // EWMA
	responseTime time.Duration
	samples      int
}

const outcomeAlpha = 0.2

func (s *stats) record(success bool, d time.Duration) {
	outcome := 0.0
	if !success {
		outcome = 1
		s.consecutive++
	} else {
		s.consecutive = 0
	}
	if s.samples == 0 {
		s.errorRate = outcome
		s.responseTime = d
	} else {
		s.errorRate = (1-outcomeAlpha)*s.errorRate + outcomeAlpha*outcome
		s.responseTime = time.Duration((1-outcomeAlpha)*float64(s.responseTime) + outcomeAlpha*float64(d))
	}
	s.samples++
}

// overlay folds locally observed outcomes into probed metrics, keeping the worse value
func (s *stats) overlay(m domain.HealthMetrics) domain.HealthMetrics {
	if s.consecutive > m.ConsecutiveFailures {
		m.ConsecutiveFailures = s.consecutive
	}
	if s.errorRate > m.ErrorRate {
		m.ErrorRate = s.errorRate
	}
	if s.responseTime > m.ResponseTime {
		m.ResponseTime = s.responseTime
	}
	return m
}
