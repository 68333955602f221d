package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	fiberredis "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func worker(id string, status domain.WorkerStatus) *domain.Worker {
	return &domain.Worker{
		ID:           id,
		Capabilities: domain.Capabilities{Domains: []string{"backend"}, MaxComplexity: 8, MaxParallel: 2},
		Reputation:   0.7,
		Status:       status,
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	_, client := setup(t)
	reg := NewRegistry(client, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.RegisterWorker(ctx, worker("b", domain.WorkerStatusActive)))
	require.NoError(t, reg.RegisterWorker(ctx, worker("a", domain.WorkerStatusActive)))
	require.NoError(t, reg.RegisterWorker(ctx, worker("c", domain.WorkerStatusDraining)))

	w, err := reg.GetWorker(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, w.Capabilities.Domains)
	assert.Equal(t, 8, w.Capabilities.MaxComplexity)

	active, err := reg.GetActiveWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	_, err = reg.GetWorker(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestRegistryHeartbeatExpiry(t *testing.T) {
	mr, client := setup(t)
	reg := NewRegistry(client, 10*time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.RegisterWorker(ctx, worker("a", domain.WorkerStatusActive)))
	require.NoError(t, reg.RegisterWorker(ctx, worker("b", domain.WorkerStatusActive)))

	mr.FastForward(6 * time.Second)
	require.NoError(t, reg.Heartbeat(ctx, "a"))
	mr.FastForward(6 * time.Second)

	active, err := reg.GetActiveWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)

	assert.ErrorIs(t, reg.Heartbeat(ctx, "b"), domain.ErrWorkerNotFound)
}

func TestRegistryMarkInactiveKeepsTTL(t *testing.T) {
	mr, client := setup(t)
	reg := NewRegistry(client, 10*time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.RegisterWorker(ctx, worker("a", domain.WorkerStatusActive)))
	require.NoError(t, reg.MarkInactive(ctx, "a"))

	active, err := reg.GetActiveWorkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Positive(t, mr.TTL(workerKey("a")))

	assert.ErrorIs(t, reg.MarkInactive(ctx, "missing"), domain.ErrWorkerNotFound)
}

func TestViews(t *testing.T) {
	_, client := setup(t)
	views := NewViews(fiberredis.NewFromConnection(client), 0)
	ctx := context.Background()

	data, err := views.LoadView(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, views.SaveView(ctx, "n1", []byte(`[{"id":"n2"}]`)))
	data, err = views.LoadView(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"n2"}]`, string(data))
}

func TestControllerActions(t *testing.T) {
	_, client := setup(t)
	reg := NewRegistry(client, time.Minute, zap.NewNop())
	ctrl := NewController(reg, zap.NewNop())
	ctx := context.Background()

	sick := worker("sick", domain.WorkerStatusActive)
	sick.Workload = 90
	busy := worker("busy", domain.WorkerStatusActive)
	busy.Workload = 70
	idle := worker("idle", domain.WorkerStatusActive)
	idle.Workload = 10
	other := worker("other", domain.WorkerStatusActive)
	other.Capabilities.Domains = []string{"frontend"}
	for _, w := range []*domain.Worker{sick, busy, idle, other} {
		require.NoError(t, reg.RegisterWorker(ctx, w))
	}

	require.NoError(t, ctrl.ReleaseResources(ctx, "sick"))
	w, err := reg.GetWorker(ctx, "sick")
	require.NoError(t, err)
	assert.Zero(t, w.Workload)

	id, err := ctrl.Replace(ctx, "sick")
	require.NoError(t, err)
	assert.Equal(t, "idle", id)
	w, _ = reg.GetWorker(ctx, "sick")
	assert.Equal(t, domain.WorkerStatusInactive, w.Status)

	require.NoError(t, ctrl.Restart(ctx, "sick"))
	w, _ = reg.GetWorker(ctx, "sick")
	assert.Equal(t, domain.WorkerStatusActive, w.Status)

	assert.ErrorIs(t, ctrl.Restart(ctx, "ghost"), domain.ErrWorkerNotFound)
}

func TestControllerReplaceWithoutCandidates(t *testing.T) {
	_, client := setup(t)
	reg := NewRegistry(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, reg.RegisterWorker(ctx, worker("only", domain.WorkerStatusActive)))

	_, err := NewController(reg, zap.NewNop()).Replace(ctx, "only")
	assert.ErrorIs(t, err, domain.ErrNoWorkers)
	w, _ := reg.GetWorker(ctx, "only")
	assert.Equal(t, domain.WorkerStatusActive, w.Status)
}
