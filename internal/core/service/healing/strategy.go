package healing

import (
	"context"
	"errors"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
)

var errNoController = errors.New("no component controller configured")

// Target is the freshly probed state of the component a strategy acts on
type Target struct {
	ComponentID string
	TargetType  string
	Health      domain.ComponentHealth
	Issues      []domain.HealthIssue
}

// Active reports whether the issue kind is still present on the target.
// Byzantine suspicion is reported from outside and cannot be probed.
func (t Target) Active(kind domain.IssueKind) bool {
	if kind == domain.IssueByzantine {
		return true
	}
	return hasKind(t.Issues, kind)
}

// Outcome is what a strategy did
type Outcome struct {
	Actions    []string
	NoOp       bool   // Preconditions showed nothing to do
	Isolated   bool   // The component was contained rather than repaired
	Reset      bool   // Locally observed failure counters no longer apply
	ReplacedBy string // Id of the component that took over
}

// Actuator performs the side effects strategies need
type Actuator interface {
	port.ComponentController
	Trip(componentID string) bool
}

// Strategy repairs or contains one class of issues. Execute must check its
// own preconditions so running it against a healthy target is a no-op.
type Strategy interface {
	Info() domain.RecoveryStrategyInfo
	Execute(ctx context.Context, issue domain.HealthIssue, target Target, act Actuator) (Outcome, error)
}

func noop(reason string) Outcome {
	return Outcome{NoOp: true, Actions: []string{reason}}
}

// DefaultStrategies returns the built-in recovery strategies
func DefaultStrategies() []Strategy {
	return []Strategy{restartStrategy{}, circuitBreakerStrategy{}, cleanupStrategy{}, replacementStrategy{}}
}

type restartStrategy struct{}

func (restartStrategy) Info() domain.RecoveryStrategyInfo {
	return domain.RecoveryStrategyInfo{
		Name: "agent_restart",
		Applicable: []domain.IssueKind{
			domain.IssueConsecutiveFailures, domain.IssueUnreachable, domain.IssueHighErrorRate, domain.IssueSlowResponse,
		},
		Priority:      9,
		EstimatedTime: 10 * time.Second,
		Risk:          domain.RiskLow,
		SuccessRate:   0.85,
	}
}

func (restartStrategy) Execute(ctx context.Context, issue domain.HealthIssue, t Target, act Actuator) (Outcome, error) {
	if !t.Active(issue.Kind) {
		return noop("component already healthy, restart skipped"), nil
	}
	if err := act.Restart(ctx, t.ComponentID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Actions: []string{"restarted " + t.ComponentID}, Reset: true}, nil
}

type circuitBreakerStrategy struct{}

func (circuitBreakerStrategy) Info() domain.RecoveryStrategyInfo {
	return domain.RecoveryStrategyInfo{
		Name: "circuit_breaker",
		Applicable: []domain.IssueKind{
			domain.IssueHighErrorRate, domain.IssueConsecutiveFailures, domain.IssueSlowResponse,
		},
		Priority:      7,
		EstimatedTime: time.Second,
		Risk:          domain.RiskLow,
		SuccessRate:   0.75,
	}
}

func (circuitBreakerStrategy) Execute(_ context.Context, issue domain.HealthIssue, t Target, act Actuator) (Outcome, error) {
	if !t.Active(issue.Kind) {
		return noop("component already healthy, breaker left closed"), nil
	}
	if !act.Trip(t.ComponentID) {
		return Outcome{NoOp: true, Isolated: true, Actions: []string{"circuit already open"}}, nil
	}
	return Outcome{Actions: []string{"opened circuit for " + t.ComponentID}, Isolated: true}, nil
}

type cleanupStrategy struct{}

func (cleanupStrategy) Info() domain.RecoveryStrategyInfo {
	return domain.RecoveryStrategyInfo{
		Name:          "resource_cleanup",
		Applicable:    []domain.IssueKind{domain.IssueHighMemory, domain.IssueSlowResponse},
		Priority:      6,
		EstimatedTime: 5 * time.Second,
		Risk:          domain.RiskLow,
		SuccessRate:   0.8,
	}
}

func (cleanupStrategy) Execute(ctx context.Context, issue domain.HealthIssue, t Target, act Actuator) (Outcome, error) {
	if !t.Active(issue.Kind) {
		return noop("resource usage within limits, cleanup skipped"), nil
	}
	if err := act.ReleaseResources(ctx, t.ComponentID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Actions: []string{"released resources of " + t.ComponentID}}, nil
}

type replacementStrategy struct{}

func (replacementStrategy) Info() domain.RecoveryStrategyInfo {
	return domain.RecoveryStrategyInfo{
		Name: "agent_replacement",
		Applicable: []domain.IssueKind{
			domain.IssueConsecutiveFailures, domain.IssueUnreachable, domain.IssueByzantine, domain.IssueHighErrorRate,
		},
		Priority:      5,
		EstimatedTime: 30 * time.Second,
		Risk:          domain.RiskHigh,
		SuccessRate:   0.7,
	}
}

func (replacementStrategy) Execute(ctx context.Context, issue domain.HealthIssue, t Target, act Actuator) (Outcome, error) {
	if !t.Active(issue.Kind) {
		return noop("component already healthy, replacement skipped"), nil
	}
	id, err := act.Replace(ctx, t.ComponentID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Actions: []string{"replaced " + t.ComponentID + " with " + id}, ReplacedBy: id}, nil
}

// applicable reports whether s declares kind
func applicable(s Strategy, kind domain.IssueKind) bool {
	for _, k := range s.Info().Applicable {
		if k == kind {
			return true
		}
	}
	return false
}
