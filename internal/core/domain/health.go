package domain

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so critical issues are serviced first
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type IssueType string

const (
	IssuePerformance  IssueType = "performance"
	IssueAvailability IssueType = "availability"
	IssueIntegrity    IssueType = "integrity"
	IssueSecurity     IssueType = "security"
)

// IssueKind is the concrete symptom class a recovery strategy declares it handles
type IssueKind string

const (
	IssueSlowResponse        IssueKind = "slow_response"
	IssueHighMemory          IssueKind = "high_memory"
	IssueHighErrorRate       IssueKind = "high_error_rate"
	IssueConsecutiveFailures IssueKind = "consecutive_failures"
	IssueUnreachable         IssueKind = "unreachable"
	IssueByzantine           IssueKind = "byzantine_suspect"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailed   HealthStatus = "failed"
)

// HealthMetrics contains the per-component measurements the score is derived from
type HealthMetrics struct {
	ResponseTime        time.Duration `json:"response_time"`
	MemoryUsage         float64       `json:"memory_usage"` // 0 to 1
	CPUUsage            float64       `json:"cpu_usage"`    // 0 to 1
	ErrorRate           float64       `json:"error_rate"`   // 0 to 1
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// ComponentHealth is the latest health view of one monitored component
type ComponentHealth struct {
	ComponentID string        `json:"component_id"`
	TargetType  string        `json:"target_type"`
	Metrics     HealthMetrics `json:"metrics"`
	Score       float64       `json:"score"`
	Status      HealthStatus  `json:"status"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// HealthIssue is created by health analysis and removed once recovered
type HealthIssue struct {
	ID          string    `json:"id"`
	Severity    Severity  `json:"severity"`
	Type        IssueType `json:"type"`
	Kind        IssueKind `json:"kind"`
	ComponentID string    `json:"component_id"`
	Symptoms    []string  `json:"symptoms"`
	DetectedAt  time.Time `json:"detected_at"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RecoveryStrategyInfo describes a recovery strategy for selection and reporting
type RecoveryStrategyInfo struct {
	Name          string        `json:"name"`
	Applicable    []IssueKind   `json:"applicable"`
	Priority      int           `json:"priority"`
	EstimatedTime time.Duration `json:"estimated_time"`
	Risk          RiskLevel     `json:"risk"`
	SuccessRate   float64       `json:"success_rate"` // Historical, 0 to 1
}

// RecoveryResult is the structured outcome of executing one recovery strategy
type RecoveryResult struct {
	IssueID          string        `json:"issue_id"`
	ComponentID      string        `json:"component_id"`
	Strategy         string        `json:"strategy"`
	Success          bool          `json:"success"`
	NewHealthScore   float64       `json:"new_health_score"`
	Actions          []string      `json:"actions"`
	FollowUpRequired bool          `json:"follow_up_required"`
	Reason           string        `json:"reason,omitempty"`
	Duration         time.Duration `json:"duration"`
	CompletedAt      time.Time     `json:"completed_at"`
}
