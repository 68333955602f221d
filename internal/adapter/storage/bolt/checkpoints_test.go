package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func open(t *testing.T, path string, retain int) *Checkpoints {
	t.Helper()
	store, err := Open(path, retain, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestLatestCheckpoint(t *testing.T) {
	store := open(t, filepath.Join(t.TempDir(), "cp.db"), 0)
	defer store.Close()
	ctx := context.Background()

	_, err := store.LatestCheckpoint(ctx, "n1")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)

	for _, seq := range []uint64{3, 300, 12} {
		require.NoError(t, store.SaveCheckpoint(ctx, &domain.Checkpoint{NodeID: "n1", Sequence: seq, StateDigest: "d"}))
	}
	require.NoError(t, store.SaveCheckpoint(ctx, &domain.Checkpoint{NodeID: "n2", Sequence: 999}))

	cp, err := store.LatestCheckpoint(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), cp.Sequence)
	assert.Equal(t, "d", cp.StateDigest)
}

func TestRetention(t *testing.T) {
	store := open(t, filepath.Join(t.TempDir(), "cp.db"), 3)
	defer store.Close()
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, store.SaveCheckpoint(ctx, &domain.Checkpoint{NodeID: "n1", Sequence: seq}))
	}
	assert.Equal(t, 3, store.Count("n1"))
	cp, err := store.LatestCheckpoint(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.Sequence)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.db")
	ctx := context.Background()

	store := open(t, path, 0)
	require.NoError(t, store.SaveCheckpoint(ctx, &domain.Checkpoint{NodeID: "n1", Sequence: 7, Signature: []byte{9}}))
	require.NoError(t, store.Close())

	store = open(t, path, 0)
	defer store.Close()
	cp, err := store.LatestCheckpoint(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cp.Sequence)
	assert.Equal(t, []byte{9}, cp.Signature)
}
