package libp2p

import (
	"path/filepath"
	"testing"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyring_Verify(t *testing.T) {
	signers, ring, err := Cluster("a", "b")
	require.NoError(t, err)

	msg := []byte("pre-prepare")
	sig, err := signers["a"].Sign(msg)
	require.NoError(t, err)

	assert.NoError(t, ring.Verify("a", msg, sig))
	assert.ErrorIs(t, ring.Verify("b", msg, sig), domain.ErrInvalidSignature)
	assert.ErrorIs(t, ring.Verify("a", []byte("tampered"), sig), domain.ErrInvalidSignature)
	assert.ErrorIs(t, ring.Verify("a", msg, nil), domain.ErrInvalidSignature)
	assert.ErrorIs(t, ring.Verify("c", msg, sig), domain.ErrUnknownPeer)
}

func TestLoadOrGenerate_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	first, err := LoadOrGenerate("n1", path)
	require.NoError(t, err)
	second, err := LoadOrGenerate("n1", path)
	require.NoError(t, err)

	assert.True(t, first.PublicKey().Equals(second.PublicKey()))

	id1, err := first.PeerID()
	require.NoError(t, err)
	id2, err := second.PeerID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestKeyring_AddBase64(t *testing.T) {
	s, err := GenerateSigner("n1")
	require.NoError(t, err)
	b64, err := s.PublicKeyBase64()
	require.NoError(t, err)

	ring := NewKeyring()
	require.NoError(t, ring.AddBase64("n1", b64))
	sig, err := s.Sign([]byte("x"))
	require.NoError(t, err)
	assert.NoError(t, ring.Verify("n1", []byte("x"), sig))

	assert.Error(t, ring.AddBase64("n2", "!!not-base64"))
}
