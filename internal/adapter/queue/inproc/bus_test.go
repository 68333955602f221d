package inproc

import (
	"context"
	"testing"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFiltersByType(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	all, cancelAll := bus.Subscribe(4)
	defer cancelAll()
	alerts, cancelAlerts := bus.Subscribe(4, domain.EventHealthAlert)
	defer cancelAlerts()

	require.NoError(t, bus.Publish(ctx, domain.Event{ID: "1", Type: domain.EventTaskCreated}))
	require.NoError(t, bus.Publish(ctx, domain.Event{ID: "2", Type: domain.EventHealthAlert}))

	assert.Equal(t, "1", (<-all).ID)
	assert.Equal(t, "2", (<-all).ID)
	assert.Equal(t, "2", (<-alerts).ID)
	assert.Empty(t, alerts)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), domain.Event{Type: domain.EventTaskCreated}))
	}
	assert.Len(t, ch, 1)
}

func TestBusCancelAndClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	other, _ := bus.Subscribe(1)
	bus.Close()
	_, open = <-other
	assert.False(t, open)
	assert.ErrorIs(t, bus.Publish(context.Background(), domain.Event{}), domain.ErrTransportClosed)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
