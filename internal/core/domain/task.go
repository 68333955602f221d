package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

const (
	MinComplexity = 1
	MaxComplexity = 10
)

// Task represents a unit of work, possibly decomposed into subtasks
type Task struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	Complexity      int        `json:"complexity"` // 1 (trivial) to 10
	Domains         []string   `json:"domains"`
	Priority        Priority   `json:"priority"`
	Subtasks        []*Task    `json:"subtasks,omitempty"`
	Dependencies    []string   `json:"dependencies,omitempty"`
	SuccessCriteria []string   `json:"success_criteria,omitempty"`
	Status          TaskStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Validate checks the structural invariants of a task tree
func (t *Task) Validate() error {
	seen := make(map[string]struct{})
	return t.validate(seen)
}

func (t *Task) validate(seen map[string]struct{}) error {
	if t.ID == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidTask)
	}
	if _, dup := seen[t.ID]; dup {
		return fmt.Errorf("%w: duplicate task id %s", ErrInvalidTask, t.ID)
	}
	seen[t.ID] = struct{}{}
	if t.Complexity < MinComplexity || t.Complexity > MaxComplexity {
		return fmt.Errorf("%w: task %s complexity %d outside [%d,%d]", ErrInvalidTask, t.ID, t.Complexity, MinComplexity, MaxComplexity)
	}
	for _, sub := range t.Subtasks {
		if err := sub.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// Units returns the schedulable leaves of the task tree. A task without
// subtasks is its own single unit.
func (t *Task) Units() []*Task {
	if len(t.Subtasks) == 0 {
		return []*Task{t}
	}
	var out []*Task
	for _, sub := range t.Subtasks {
		out = append(out, sub.Units()...)
	}
	return out
}

// SubtaskCount returns the number of schedulable leaves
func (t *Task) SubtaskCount() int {
	if len(t.Subtasks) == 0 {
		return 0
	}
	return len(t.Units())
}

// RequiresConsensus reports whether the task is critical or matches one of
// the consensus-required categories by tag or description keyword.
func (t *Task) RequiresConsensus(categories []string) bool {
	if t.Priority == PriorityCritical {
		return true
	}
	desc := strings.ToLower(t.Description)
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		for _, d := range t.Domains {
			if strings.EqualFold(d, c) {
				return true
			}
		}
		if strings.Contains(desc, c) {
			return true
		}
	}
	return false
}
