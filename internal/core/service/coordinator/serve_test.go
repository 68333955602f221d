package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/service/healing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sliceSource struct {
	tasks []*domain.Task
	err   error

	mu      sync.Mutex
	results []error
}

func (s *sliceSource) ConsumeTasks(ctx context.Context, handler func(ctx context.Context, task *domain.Task) error) error {
	if s.err != nil {
		return s.err
	}
	for _, t := range s.tasks {
		err := handler(ctx, t)
		s.mu.Lock()
		s.results = append(s.results, err)
		s.mu.Unlock()
	}
	return nil
}

func (s *sliceSource) Results() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.results...)
}

func TestServeCoordinatesDeliveredTasks(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(4, "backend"))
	src := &sliceSource{tasks: []*domain.Task{
		composite("a", 2, 2, "backend"),
		{ID: "", Complexity: 3},
		{ID: "b", Complexity: 3, Domains: []string{"backend"}},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, f.c.Serve(ctx, src, 10*time.Millisecond))

	results := src.Results()
	require.Len(t, results, 3)
	assert.NoError(t, results[0])
	assert.ErrorIs(t, results[1], domain.ErrInvalidTask)
	assert.NoError(t, results[2])
	assert.Equal(t, domain.TaskStatusCompleted, f.plans.Status("a"))
	assert.Equal(t, domain.TaskStatusCompleted, f.plans.Status("b"))
}

func TestServeFailedCoordinationIsAcknowledged(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(2, "backend"))
	f.dispatcher.fail["w0"] = true
	f.dispatcher.fail["w1"] = true
	src := &sliceSource{tasks: []*domain.Task{{ID: "x", Complexity: 2, Domains: []string{"backend"}}}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, f.c.Serve(ctx, src, 10*time.Millisecond))

	results := src.Results()
	require.Len(t, results, 1)
	assert.NoError(t, results[0])
	assert.Equal(t, domain.TaskStatusFailed, f.plans.Status("x"))
}

func TestServeConsumerError(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(1))
	err := f.c.Serve(context.Background(), &sliceSource{err: errors.New("channel closed")}, time.Second)
	assert.ErrorContains(t, err, "failed to start consumer")
}

func TestServeEnrollsHeartbeatingWorkers(t *testing.T) {
	heal, err := healing.NewManager(healing.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	f := newFixture(t, DefaultConfig(), pool(2), WithHealing(heal))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, f.c.Serve(ctx, &sliceSource{}, 5*time.Millisecond))

	for _, id := range []string{"w0", "w1"} {
		h, ok := heal.Health(id)
		require.True(t, ok, id)
		assert.Equal(t, "worker", h.TargetType)
	}
}
