// Package postgres persists execution plans, task progress, consensus
// checkpoints and recovery history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// DBTX is the subset of pgxpool.Pool the repository needs
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements the plan, checkpoint and recovery ports on PostgreSQL
type Repository struct {
	db  DBTX
	qb  squirrel.StatementBuilderType
	log *zap.Logger
}

// NewRepository creates a new postgres repository
func NewRepository(db DBTX, log *zap.Logger) *Repository {
	return &Repository{
		db:  db,
		qb:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		log: log.Named("postgres"),
	}
}

func (r *Repository) exec(ctx context.Context, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, query, args...)
	return err
}

func (r *Repository) SavePlan(ctx context.Context, plan *domain.ExecutionPlan) error {
	assignments, err := codec.Marshal(plan.Assignments)
	if err != nil {
		return err
	}
	q := r.qb.Insert("execution_plans").
		Columns("task_id", "mode", "assignments", "created_at").
		Values(plan.TaskID, string(plan.Mode), string(assignments), plan.CreatedAt).
		Suffix("ON CONFLICT (task_id) DO UPDATE SET mode = EXCLUDED.mode, assignments = EXCLUDED.assignments, created_at = EXCLUDED.created_at")
	if err := r.exec(ctx, q); err != nil {
		r.log.Error("Failed to save plan", zap.String("task_id", plan.TaskID), zap.Error(err))
		return err
	}
	return nil
}

func (r *Repository) GetPlan(ctx context.Context, taskID string) (*domain.ExecutionPlan, error) {
	query, args, err := r.qb.Select("task_id", "mode", "assignments", "created_at").
		From("execution_plans").
		Where(squirrel.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var (
		plan        domain.ExecutionPlan
		mode        string
		assignments []byte
	)
	row := r.db.QueryRow(ctx, query, args...)
	if err := row.Scan(&plan.TaskID, &mode, &assignments, &plan.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, taskID)
		}
		return nil, err
	}
	plan.Mode = domain.CoordinationMode(mode)
	if err := codec.Unmarshal(assignments, &plan.Assignments); err != nil {
		return nil, fmt.Errorf("decode assignments of %s: %w", taskID, err)
	}
	return &plan, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, workerID string) error {
	q := r.qb.Insert("task_status").
		Columns("task_id", "status", "assigned_node_id", "updated_at").
		Values(taskID, string(status), workerID, time.Now()).
		Suffix("ON CONFLICT (task_id) DO UPDATE SET status = EXCLUDED.status, " +
			"assigned_node_id = COALESCE(NULLIF(EXCLUDED.assigned_node_id, ''), task_status.assigned_node_id), " +
			"updated_at = EXCLUDED.updated_at")
	return r.exec(ctx, q)
}

func (r *Repository) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	payload, err := codec.Marshal(cp)
	if err != nil {
		return err
	}
	q := r.qb.Insert("checkpoints").
		Columns("node_id", "sequence", "view", "state_digest", "payload", "created_at").
		Values(cp.NodeID, int64(cp.Sequence), int64(cp.View), cp.StateDigest, string(payload), cp.CreatedAt).
		Suffix("ON CONFLICT (node_id, sequence) DO NOTHING")
	return r.exec(ctx, q)
}

func (r *Repository) LatestCheckpoint(ctx context.Context, nodeID string) (*domain.Checkpoint, error) {
	query, args, err := r.qb.Select("payload").
		From("checkpoints").
		Where(squirrel.Eq{"node_id": nodeID}).
		OrderBy("sequence DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var payload []byte
	if err := r.db.QueryRow(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: node %s", domain.ErrCheckpointNotFound, nodeID)
		}
		return nil, err
	}
	var cp domain.Checkpoint
	if err := codec.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint of %s: %w", nodeID, err)
	}
	return &cp, nil
}

func (r *Repository) RecordRecovery(ctx context.Context, issue domain.HealthIssue, result domain.RecoveryResult) error {
	actions, err := codec.Marshal(result.Actions)
	if err != nil {
		return err
	}
	q := r.qb.Insert("recoveries").
		Columns("issue_id", "component_id", "issue_kind", "severity", "strategy",
			"success", "health_score", "actions", "duration_ms", "reason", "recorded_at").
		Values(issue.ID, result.ComponentID, string(issue.Kind), string(issue.Severity), result.Strategy,
			result.Success, result.NewHealthScore, string(actions), result.Duration.Milliseconds(), result.Reason, result.CompletedAt)
	if err := r.exec(ctx, q); err != nil {
		r.log.Error("Failed to record recovery", zap.String("component_id", result.ComponentID), zap.Error(err))
		return err
	}
	return nil
}
