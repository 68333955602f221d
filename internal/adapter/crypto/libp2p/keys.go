// Package libp2p signs and verifies consensus traffic with libp2p Ed25519 keys.
package libp2p

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Signer holds a node's private key
type Signer struct {
	id   string
	priv libp2pcrypto.PrivKey
}

// GenerateSigner creates a fresh Ed25519 identity for nodeID
func GenerateSigner(nodeID string) (*Signer, error) {
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return &Signer{id: nodeID, priv: priv}, nil
}

// NewSigner wraps an existing private key
func NewSigner(nodeID string, priv libp2pcrypto.PrivKey) *Signer {
	return &Signer{id: nodeID, priv: priv}
}

// LoadOrGenerate reads a marshalled private key from path, creating and
// persisting a new one if the file does not exist.
func LoadOrGenerate(nodeID, path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		priv, err := libp2pcrypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal private key %s: %w", path, err)
		}
		return NewSigner(nodeID, priv), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}

	s, err := GenerateSigner(nodeID)
	if err != nil {
		return nil, err
	}
	raw, err := libp2pcrypto.MarshalPrivateKey(s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write private key %s: %w", path, err)
	}
	return s, nil
}

func (s *Signer) ID() string { return s.id }

func (s *Signer) Sign(data []byte) ([]byte, error) {
	return s.priv.Sign(data)
}

func (s *Signer) PublicKey() libp2pcrypto.PubKey {
	return s.priv.GetPublic()
}

// PublicKeyBase64 encodes the public key for distribution in configuration
func (s *Signer) PublicKeyBase64() (string, error) {
	raw, err := libp2pcrypto.MarshalPublicKey(s.PublicKey())
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// PeerID derives the libp2p peer id of the signer's key
func (s *Signer) PeerID() (peer.ID, error) {
	id, err := peer.IDFromPrivateKey(s.priv)
	if err != nil {
		return "", fmt.Errorf("failed to derive peer ID: %w", err)
	}
	return id, nil
}

// Keyring maps node ids to public keys and verifies their signatures
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]libp2pcrypto.PubKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]libp2pcrypto.PubKey)}
}

// Add registers a node's public key
func (k *Keyring) Add(nodeID string, pub libp2pcrypto.PubKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[nodeID] = pub
}

// AddSigner registers the public half of a local signer
func (k *Keyring) AddSigner(s *Signer) {
	k.Add(s.ID(), s.PublicKey())
}

// AddBase64 registers a base64-encoded marshalled public key
func (k *Keyring) AddBase64(nodeID, b64 string) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("failed to decode public key for %s: %w", nodeID, err)
	}
	pub, err := libp2pcrypto.UnmarshalPublicKey(raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal public key for %s: %w", nodeID, err)
	}
	k.Add(nodeID, pub)
	return nil
}

// Verify checks that signature is nodeID's signature over data
func (k *Keyring) Verify(nodeID string, data, signature []byte) error {
	k.mu.RLock()
	pub, ok := k.keys[nodeID]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no public key for %s", domain.ErrUnknownPeer, nodeID)
	}
	if len(signature) == 0 {
		return fmt.Errorf("%w: unsigned payload from %s", domain.ErrInvalidSignature, nodeID)
	}
	valid, err := pub.Verify(data, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if !valid {
		return fmt.Errorf("%w: signature from %s does not verify", domain.ErrInvalidSignature, nodeID)
	}
	return nil
}

// Cluster generates one signer per id and a keyring that knows all of them
func Cluster(ids ...string) (map[string]*Signer, *Keyring, error) {
	ring := NewKeyring()
	signers := make(map[string]*Signer, len(ids))
	for _, id := range ids {
		s, err := GenerateSigner(id)
		if err != nil {
			return nil, nil, err
		}
		signers[id] = s
		ring.AddSigner(s)
	}
	return signers, ring, nil
}
