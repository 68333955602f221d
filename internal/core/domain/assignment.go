package domain

import "time"

type CoordinationMode string

const (
	ModeCentralized   CoordinationMode = "centralized"
	ModeDecentralized CoordinationMode = "decentralized"
	ModeHybrid        CoordinationMode = "hybrid"
)

// Assignment pairs one (sub)task with one worker. Immutable once part of a plan.
type Assignment struct {
	TaskID        string        `json:"task_id"`
	WorkerID      string        `json:"worker_id"`
	Confidence    float64       `json:"confidence"` // 0 to 1
	EstimatedTime time.Duration `json:"estimated_time"`
	EstimatedCost float64       `json:"estimated_cost"`
	LowConfidence bool          `json:"low_confidence"` // Capability mismatch surfaced to the caller
}

// ExecutionPlan is the set of assignments produced for one top-level task
type ExecutionPlan struct {
	TaskID      string           `json:"task_id"`
	Mode        CoordinationMode `json:"mode"`
	Assignments []Assignment     `json:"assignments"`
	CreatedAt   time.Time        `json:"created_at"`
}

// AssignmentFor returns the assignment for a (sub)task id
func (p *ExecutionPlan) AssignmentFor(taskID string) (Assignment, bool) {
	for _, a := range p.Assignments {
		if a.TaskID == taskID {
			return a, true
		}
	}
	return Assignment{}, false
}

// LowConfidenceTasks lists the task ids that received capability-mismatched assignments
func (p *ExecutionPlan) LowConfidenceTasks() []string {
	var ids []string
	for _, a := range p.Assignments {
		if a.LowConfidence {
			ids = append(ids, a.TaskID)
		}
	}
	return ids
}

// ExecutionResult is what a worker returns for one subtask
type ExecutionResult struct {
	TaskID   string        `json:"task_id"`
	WorkerID string        `json:"worker_id"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Quality  float64       `json:"quality"` // 0 to 1 confidence in the output
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TaskAssignment is the outcome of coordinating one top-level task
type TaskAssignment struct {
	TaskID       string            `json:"task_id"`
	Mode         CoordinationMode  `json:"mode"`
	FallbackUsed bool              `json:"fallback_used"`
	Plan         *ExecutionPlan    `json:"plan,omitempty"`
	Consensus    *ConsensusResult  `json:"consensus,omitempty"`
	Results      []ExecutionResult `json:"results,omitempty"`
	Success      bool              `json:"success"`
	Reason       string            `json:"reason,omitempty"`
	Duration     time.Duration     `json:"duration"`
}
