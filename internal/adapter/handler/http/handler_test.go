package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/crabzie/swarm-coordinator/internal/adapter/storage/memory"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/service/coordinator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCoordinator struct {
	fail       bool
	tasks      []*domain.Task
	registered []*domain.Worker
}

func (s *stubCoordinator) CoordinateTask(_ context.Context, task *domain.Task) (*domain.TaskAssignment, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	s.tasks = append(s.tasks, task)
	return &domain.TaskAssignment{TaskID: task.ID, Mode: domain.ModeCentralized, Success: !s.fail}, nil
}

func (s *stubCoordinator) RegisterNode(_ context.Context, w *domain.Worker) error {
	if w.ID == "" {
		return domain.ErrInvalidConfig
	}
	s.registered = append(s.registered, w)
	return nil
}

func (s *stubCoordinator) Health(context.Context) coordinator.HealthReport {
	return coordinator.HealthReport{Score: 0.9, Capacity: 10}
}

type stubHealer struct {
	monitored []string
}

func (s *stubHealer) RegisterForMonitoring(_, id string) error {
	if id == "" {
		return domain.ErrInvalidConfig
	}
	s.monitored = append(s.monitored, id)
	return nil
}

func (s *stubHealer) SystemHealth() float64 { return 0.75 }

func (s *stubHealer) Issues() []domain.HealthIssue {
	return []domain.HealthIssue{{ID: "i1", ComponentID: "w1", Kind: domain.IssueSlowResponse}}
}

func (s *stubHealer) History() []domain.RecoveryResult {
	return []domain.RecoveryResult{{IssueID: "i0", Strategy: "restart", Success: true}}
}

func (s *stubHealer) Strategies() []domain.RecoveryStrategyInfo {
	return []domain.RecoveryStrategyInfo{{Name: "restart"}}
}

type stubSubmitter struct {
	err   error
	tasks []*domain.Task
}

func (s *stubSubmitter) PublishTask(_ context.Context, task *domain.Task) error {
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTask(t *testing.T) {
	coord := &stubCoordinator{}
	h := New(coord, zap.NewNop()).Routes()

	rec := do(t, h, http.MethodPost, "/v1/tasks", `{"id":"t1","complexity":3,"domains":["backend"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out domain.TaskAssignment
	require.NoError(t, codec.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "t1", out.TaskID)
	assert.True(t, out.Success)
	assert.Equal(t, domain.TaskStatusPending, coord.tasks[0].Status)

	rec = do(t, h, http.MethodPost, "/v1/tasks", `{"complexity":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, coord.tasks[1].ID, "an id is generated")

	rec = do(t, h, http.MethodPost, "/v1/tasks", `{"id":"bad","complexity":42}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid task")

	rec = do(t, h, http.MethodPost, "/v1/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTaskFailedCoordination(t *testing.T) {
	h := New(&stubCoordinator{fail: true}, zap.NewNop()).Routes()
	rec := do(t, h, http.MethodPost, "/v1/tasks", `{"id":"t1","complexity":3}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitTaskAsync(t *testing.T) {
	coord := &stubCoordinator{}
	sub := &stubSubmitter{}
	h := New(coord, zap.NewNop(), WithSubmitter(sub)).Routes()

	rec := do(t, h, http.MethodPost, "/v1/tasks?async=true", `{"id":"t1","complexity":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sub.tasks, 1)
	assert.Empty(t, coord.tasks)

	rec = do(t, h, http.MethodPost, "/v1/tasks?async=true", `{"id":"t2","complexity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub.err = errors.New("broker down")
	rec = do(t, h, http.MethodPost, "/v1/tasks?async=true", `{"id":"t3","complexity":3}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, New(coord, zap.NewNop()).Routes(), http.MethodPost, "/v1/tasks?async=true", `{"id":"t4","complexity":3}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestGetPlan(t *testing.T) {
	plans := memory.NewPlans()
	require.NoError(t, plans.SavePlan(context.Background(), &domain.ExecutionPlan{
		TaskID:      "t1",
		Mode:        domain.ModeHybrid,
		Assignments: []domain.Assignment{{TaskID: "t1", WorkerID: "w1"}},
	}))
	h := New(&stubCoordinator{}, zap.NewNop(), WithPlans(plans)).Routes()

	rec := do(t, h, http.MethodGet, "/v1/tasks/t1/plan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var plan domain.ExecutionPlan
	require.NoError(t, codec.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, domain.ModeHybrid, plan.Mode)

	rec = do(t, h, http.MethodGet, "/v1/tasks/missing/plan", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterWorkerAndMonitoring(t *testing.T) {
	coord := &stubCoordinator{}
	healer := &stubHealer{}
	h := New(coord, zap.NewNop(), WithHealer(healer)).Routes()

	rec := do(t, h, http.MethodPost, "/v1/workers", `{"id":"w1","capabilities":{"domains":["ml"],"max_complexity":7}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, coord.registered, 1)
	assert.Equal(t, []string{"ml"}, coord.registered[0].Capabilities.Domains)

	rec = do(t, h, http.MethodPost, "/v1/workers", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/monitoring", `{"target_type":"service","target_id":"db"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"db"}, healer.monitored)

	rec = do(t, h, http.MethodPost, "/v1/monitoring", `{"target_type":"service"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := do(t, New(&stubCoordinator{}, zap.NewNop()).Routes(), http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "system_health")

	h := New(&stubCoordinator{}, zap.NewNop(), WithHealer(&stubHealer{})).Routes()
	rec = do(t, h, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, codec.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.9, resp.Coordinator.Score)
	require.NotNil(t, resp.SystemHealth)
	assert.Equal(t, 0.75, *resp.SystemHealth)
	assert.Len(t, resp.Issues, 1)

	rec = do(t, h, http.MethodGet, "/v1/recoveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"strategy":"restart"`)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("swarm_system_health_score 1\n"))
	})
	h := New(&stubCoordinator{}, zap.NewNop(), WithMetricsHandler(metrics)).Routes()
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swarm_system_health_score")

	rec = do(t, New(&stubCoordinator{}, zap.NewNop()).Routes(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
