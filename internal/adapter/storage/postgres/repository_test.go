package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	sql  string
	args []any
}

// fakeDB records statements and answers QueryRow with canned values
type fakeDB struct {
	calls []call
	row   []any
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{sql, args})
	return fakeRow{values: f.row, err: f.err}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func TestSavePlanUpserts(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, zap.NewNop())
	plan := &domain.ExecutionPlan{
		TaskID:      "job",
		Mode:        domain.ModeHybrid,
		Assignments: []domain.Assignment{{TaskID: "a", WorkerID: "w1", Confidence: 0.8}},
		CreatedAt:   time.Unix(100, 0),
	}
	require.NoError(t, repo.SavePlan(context.Background(), plan))

	require.Len(t, db.calls, 1)
	c := db.calls[0]
	assert.True(t, strings.HasPrefix(c.sql, "INSERT INTO execution_plans (task_id,mode,assignments,created_at) VALUES ($1,$2,$3,$4)"), c.sql)
	assert.Contains(t, c.sql, "ON CONFLICT (task_id) DO UPDATE")
	assert.Equal(t, "job", c.args[0])
	assert.Equal(t, "hybrid", c.args[1])
	assert.Contains(t, c.args[2], `"worker_id":"w1"`)
}

func TestGetPlan(t *testing.T) {
	created := time.Unix(200, 0)
	db := &fakeDB{row: []any{"job", "centralized", []byte(`[{"task_id":"a","worker_id":"w2","confidence":0.5}]`), created}}
	repo := NewRepository(db, zap.NewNop())

	plan, err := repo.GetPlan(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCentralized, plan.Mode)
	assert.Equal(t, created, plan.CreatedAt)
	require.Len(t, plan.Assignments, 1)
	assert.Equal(t, "w2", plan.Assignments[0].WorkerID)
	assert.Equal(t, "SELECT task_id, mode, assignments, created_at FROM execution_plans WHERE task_id = $1", db.calls[0].sql)
}

func TestGetPlanNotFound(t *testing.T) {
	repo := NewRepository(&fakeDB{err: pgx.ErrNoRows}, zap.NewNop())
	_, err := repo.GetPlan(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestUpdateStatusKeepsAssignedNode(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, zap.NewNop())
	require.NoError(t, repo.UpdateStatus(context.Background(), "a", domain.TaskStatusCompleted, ""))
	c := db.calls[0]
	assert.Contains(t, c.sql, "INSERT INTO task_status")
	assert.Contains(t, c.sql, "COALESCE(NULLIF(EXCLUDED.assigned_node_id, ''), task_status.assigned_node_id)")
	assert.Equal(t, []any{"a", "COMPLETED", ""}, c.args[:3])
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, zap.NewNop())
	cp := &domain.Checkpoint{NodeID: "n1", View: 2, Sequence: 9, StateDigest: "abc", Signature: []byte{1, 2}}
	require.NoError(t, repo.SaveCheckpoint(context.Background(), cp))
	saved := db.calls[0]
	assert.Contains(t, saved.sql, "ON CONFLICT (node_id, sequence) DO NOTHING")
	assert.Equal(t, int64(9), saved.args[1])

	db.row = []any{[]byte(saved.args[4].(string))}
	got, err := repo.LatestCheckpoint(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, cp.StateDigest, got.StateDigest)
	assert.Equal(t, cp.Signature, got.Signature)
	assert.Equal(t, "SELECT payload FROM checkpoints WHERE node_id = $1 ORDER BY sequence DESC LIMIT 1", db.calls[1].sql)
}

func TestLatestCheckpointNotFound(t *testing.T) {
	repo := NewRepository(&fakeDB{err: pgx.ErrNoRows}, zap.NewNop())
	_, err := repo.LatestCheckpoint(context.Background(), "n1")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestRecordRecovery(t *testing.T) {
	db := &fakeDB{}
	repo := NewRepository(db, zap.NewNop())
	issue := domain.HealthIssue{ID: "i1", Kind: domain.IssueConsecutiveFailures, Severity: domain.SeverityCritical}
	res := domain.RecoveryResult{ComponentID: "w7", Strategy: "agent_restart", Success: true, Actions: []string{"restart"}, Duration: 1500 * time.Millisecond}
	require.NoError(t, repo.RecordRecovery(context.Background(), issue, res))
	c := db.calls[0]
	assert.Contains(t, c.sql, "INSERT INTO recoveries")
	assert.Equal(t, "i1", c.args[0])
	assert.Equal(t, "w7", c.args[1])
	assert.Equal(t, `["restart"]`, c.args[7])
	assert.Equal(t, int64(1500), c.args[8])

	db.err = errors.New("connection reset")
	assert.Error(t, repo.RecordRecovery(context.Background(), issue, res))
}
