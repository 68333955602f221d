package system

import (
	"context"
	"testing"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPressureInRange(t *testing.T) {
	p, err := NewProbe("local").MemoryPressure(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
}

func TestComponentMetrics(t *testing.T) {
	probe := NewProbe("local")
	m, err := probe.GetComponentMetrics(context.Background(), "local")
	require.NoError(t, err)
	assert.LessOrEqual(t, m.CPUUsage, 1.0)
	assert.Zero(t, m.ConsecutiveFailures)

	_, err = probe.GetComponentMetrics(context.Background(), "remote")
	assert.ErrorIs(t, err, domain.ErrComponentNotFound)
}
