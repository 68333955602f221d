package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ port.Executor            = (*Executor)(nil)
	_ port.Dispatcher          = (*Fleet)(nil)
	_ port.MetricsSource       = (*Fleet)(nil)
	_ port.ComponentController = (*Fleet)(nil)
)

func task(id string, complexity int) *domain.Task {
	return &domain.Task{ID: id, Complexity: complexity}
}

func TestExecutorSucceeds(t *testing.T) {
	e := NewExecutor("w1", DefaultProfile(), 1)
	res, err := e.Execute(context.Background(), task("t", 3))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "w1", res.WorkerID)
	assert.InDelta(t, 0.85, res.Quality, 0.051)
	assert.Positive(t, res.Duration)
	assert.Zero(t, e.Metrics().ErrorRate)
}

func TestExecutorFailureRate(t *testing.T) {
	p := DefaultProfile()
	p.FailureRate = 1
	e := NewExecutor("w1", p, 1)
	for i := 0; i < 3; i++ {
		res, err := e.Execute(context.Background(), task("t", 1))
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "simulated failure", res.Error)
	}
	m := e.Metrics()
	assert.Equal(t, 1.0, m.ErrorRate)
	assert.Equal(t, 3, m.ConsecutiveFailures)
}

func TestExecutorRespectsContext(t *testing.T) {
	p := DefaultProfile()
	p.UnitTime = time.Second
	e := NewExecutor("w1", p, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, task("t", 10))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFleetRecoveryActions(t *testing.T) {
	ctx := context.Background()
	f := NewFleet(DefaultProfile(), 7)
	w := f.Add("w1")
	f.Add("w2")
	assert.Equal(t, []string{"w1", "w2"}, f.IDs())

	w.Crash()
	_, err := f.Dispatch(ctx, "w1", task("t", 1))
	assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
	m, err := f.GetComponentMetrics(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.ConsecutiveFailures)

	require.NoError(t, f.Restart(ctx, "w1"))
	res, err := f.Dispatch(ctx, "w1", task("t", 1))
	require.NoError(t, err)
	assert.True(t, res.Success)

	p := w.Profile()
	p.MemoryUsage = 0.95
	w.SetProfile(p)
	require.NoError(t, f.ReleaseResources(ctx, "w1"))
	m, _ = f.GetComponentMetrics(ctx, "w1")
	assert.Equal(t, 0.3, m.MemoryUsage)

	id, err := f.Replace(ctx, "w2")
	require.NoError(t, err)
	assert.Equal(t, "w2-r1", id)
	assert.Equal(t, []string{"w1", "w2-r1"}, f.IDs())

	_, err = f.GetComponentMetrics(ctx, "w2")
	assert.ErrorIs(t, err, domain.ErrComponentNotFound)
	_, err = f.Replace(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrComponentNotFound)
}
