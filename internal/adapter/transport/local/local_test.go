package local

import (
	"context"
	"testing"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func collect(t *Transport) chan domain.Envelope {
	ch := make(chan domain.Envelope, 16)
	t.OnReceive(func(_ context.Context, env domain.Envelope) { ch <- env })
	return ch
}

func TestTransport_SendReceive(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b := hub.Join("a"), hub.Join("b")
	got := collect(b)

	require.NoError(t, a.Send(context.Background(), "b", domain.Envelope{Kind: "test", Payload: []byte(`{}`)}))

	select {
	case env := <-got:
		assert.Equal(t, "a", env.From)
		assert.Equal(t, "b", env.To)
		assert.Equal(t, "test", env.Kind)
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}

	assert.ErrorIs(t, a.Send(context.Background(), "zz", domain.Envelope{}), domain.ErrUnknownPeer)
}

func TestHub_PartitionDropsSilently(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b := hub.Join("a"), hub.Join("b")
	got := collect(b)

	hub.Partition("a", "b")
	require.NoError(t, a.Send(context.Background(), "b", domain.Envelope{Kind: "lost"}))

	hub.Heal()
	require.NoError(t, a.Send(context.Background(), "b", domain.Envelope{Kind: "kept"}))

	select {
	case env := <-got:
		assert.Equal(t, "kept", env.Kind)
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered after heal")
	}
}

func TestTransport_Close(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, b := hub.Join("a"), hub.Join("b")
	collect(b)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(context.Background(), "b", domain.Envelope{}), domain.ErrTransportClosed)
	assert.ErrorIs(t, b.Send(context.Background(), "a", domain.Envelope{}), domain.ErrUnknownPeer)
	assert.ElementsMatch(t, []string{"b"}, hub.Nodes())
}
