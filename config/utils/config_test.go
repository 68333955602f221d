package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
app:
  name: swarm-test
logger:
  level: debug
  encoding: console
node:
  id: node-1
  domains: [backend, security]
  maxParallel: 2
  checkpoints: postgres
  peerKeys:
    node-2: CAESIAbc
optimizer:
  algorithm: aco
  pso:
    swarmSize: 12
network:
  proposalTTL: 4
  responseTimeout: 750ms
consensus:
  validators: [node-1, node-2, node-3, node-4]
  phaseTimeout: 2s
coordinator:
  failoverThreshold: 0.4
  consensusCategories: [critical, security, payments]
healing:
  maxConcurrentRecoveries: 5
`

func load(t *testing.T, body string) (*AppConfig, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return Load(dir)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := load(t, sample)
	require.NoError(t, err)

	assert.Equal(t, "swarm-test", cfg.App.Name)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.NotNil(t, cfg.Logger.EncoderConfig.EncodeLevel)
	assert.Equal(t, "node-1", cfg.Node.ID)
	assert.Equal(t, []string{"backend", "security"}, cfg.Node.Domains)
	assert.Equal(t, 2, cfg.Node.MaxParallel)
	assert.Equal(t, 10, cfg.Node.MaxComplexity, "unset keys keep their defaults")
	assert.Equal(t, "postgres", cfg.Node.Checkpoints)
	assert.Equal(t, map[string]string{"node-2": "CAESIAbc"}, cfg.Node.PeerKeys)

	assert.Equal(t, "aco", cfg.Optimizer.Algorithm)
	assert.Equal(t, 12, cfg.Optimizer.PSO.SwarmSize)
	assert.Equal(t, 100, cfg.Optimizer.PSO.MaxIterations)
	assert.Equal(t, 4, cfg.Network.ProposalTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.Network.ResponseTimeout)
	assert.Len(t, cfg.Consensus.Validators, 4)
	assert.Equal(t, 2*time.Second, cfg.Consensus.PhaseTimeout)
	assert.Equal(t, 0.4, cfg.Coordinator.FailoverThreshold)
	assert.Equal(t, []string{"critical", "security", "payments"}, cfg.Coordinator.ConsensusCategories)
	assert.Equal(t, int64(5), cfg.Healing.MaxConcurrentRecoveries)
	assert.Equal(t, "swarm.events", cfg.AMQP.EventsExchange)
}

func TestLoadEnvironmentBindings(t *testing.T) {
	t.Setenv("NODE_ID", "from-env")
	t.Setenv("REDIS_ADDR", "cache:6380")
	cfg, err := load(t, sample)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Node.ID)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestLoadRejectsInvalidSections(t *testing.T) {
	_, err := load(t, "optimizer:\n  minConfidence: 2\n")
	assert.Error(t, err)

	_, err = load(t, "healing:\n  maxConcurrentRecoveries: 0\n")
	assert.Error(t, err)

	_, err = load(t, "node:\n  checkpoints: sqlite\n")
	assert.ErrorContains(t, err, "node.checkpoints")
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Defaults().Coordinator, cfg.Coordinator)
}
