package rabbitmq

import (
	"encoding/json"
	"testing"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueName(t *testing.T) {
	assert.Equal(t, "peer.node-1", QueueName("node-1"))
}

func TestDecode(t *testing.T) {
	env := domain.Envelope{From: "a", To: "b", Kind: "network.gossip", Payload: json.RawMessage(`{"states":[]}`)}
	body, err := codec.Marshal(env)
	require.NoError(t, err)

	got, err := decode(body)
	require.NoError(t, err)
	assert.Equal(t, env.Kind, got.Kind)
	assert.JSONEq(t, `{"states":[]}`, string(got.Payload))

	_, err = decode([]byte(`{"kind":"network.gossip"}`))
	assert.Error(t, err)
	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}
