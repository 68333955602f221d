package consensus

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	jsoniter "github.com/json-iterator/go"
)

// KindMessage is the envelope kind carrying consensus messages
const KindMessage = "consensus.message"

// codec sorts map keys, so re-encoding a decoded value is canonical
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Canonical re-encodes a JSON value with sorted keys and no insignificant whitespace
func Canonical(value json.RawMessage) (json.RawMessage, error) {
	dec := codec.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid proposal value: %w", err)
	}
	out, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal value: %w", err)
	}
	return out, nil
}

// Digest is the hex SHA-256 of the canonical encoding of value
func Digest(value json.RawMessage) (string, error) {
	c, err := Canonical(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:]), nil
}

// chainDigest folds a finalized value digest into the running state digest
func chainDigest(prev string, seq uint64, digest string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", prev, seq, digest)))
	return hex.EncodeToString(sum[:])
}

func proposalPayload(p *domain.Proposal) ([]byte, error) {
	c := *p
	c.Signature = nil
	if len(c.Value) > 0 {
		v, err := Canonical(c.Value)
		if err != nil {
			return nil, err
		}
		c.Value = v
	}
	return codec.Marshal(&c)
}

func checkpointPayload(cp *domain.Checkpoint) ([]byte, error) {
	c := *cp
	c.Signature = nil
	c.CreatedAt = c.CreatedAt.UTC()
	return codec.Marshal(&c)
}

// messagePayload covers every field except the message signature. Nested
// proposals and checkpoints carry their own signatures, which stay covered.
func messagePayload(m *domain.Message) ([]byte, error) {
	c := *m
	c.Signature = nil
	c.Timestamp = c.Timestamp.UTC()
	if m.Proposal != nil {
		p := *m.Proposal
		if len(p.Value) > 0 {
			v, err := Canonical(p.Value)
			if err != nil {
				return nil, err
			}
			p.Value = v
		}
		c.Proposal = &p
	}
	if m.Checkpoint != nil {
		cp := *m.Checkpoint
		cp.CreatedAt = cp.CreatedAt.UTC()
		c.Checkpoint = &cp
	}
	return codec.Marshal(&c)
}

// SignProposal signs p in place
func SignProposal(s port.Signer, p *domain.Proposal) error {
	payload, err := proposalPayload(p)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return fmt.Errorf("failed to sign proposal: %w", err)
	}
	p.Signature = sig
	return nil
}

// SignMessage signs m in place
func SignMessage(s port.Signer, m *domain.Message) error {
	payload, err := messagePayload(m)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	m.Signature = sig
	return nil
}

// SignCheckpoint signs cp in place
func SignCheckpoint(s port.Signer, cp *domain.Checkpoint) error {
	payload, err := checkpointPayload(cp)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return fmt.Errorf("failed to sign checkpoint: %w", err)
	}
	cp.Signature = sig
	return nil
}

func verifyProposal(v port.Verifier, p *domain.Proposal) error {
	payload, err := proposalPayload(p)
	if err != nil {
		return err
	}
	return v.Verify(p.ProposerID, payload, p.Signature)
}

func verifyMessage(v port.Verifier, m *domain.Message) error {
	payload, err := messagePayload(m)
	if err != nil {
		return err
	}
	return v.Verify(m.SenderID, payload, m.Signature)
}

// VerifyCheckpoint checks that cp is signed by the node it names
func VerifyCheckpoint(v port.Verifier, cp *domain.Checkpoint) error {
	payload, err := checkpointPayload(cp)
	if err != nil {
		return err
	}
	return v.Verify(cp.NodeID, payload, cp.Signature)
}

// EncodeMessage builds the envelope for a signed message
func EncodeMessage(m *domain.Message) (domain.Envelope, error) {
	raw, err := codec.Marshal(m)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to encode consensus message: %w", err)
	}
	return domain.Envelope{From: m.SenderID, Kind: KindMessage, Payload: raw}, nil
}

// DecodeMessage parses a consensus envelope
func DecodeMessage(env domain.Envelope) (*domain.Message, error) {
	var m domain.Message
	if err := codec.Unmarshal(env.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode consensus message: %w", err)
	}
	return &m, nil
}
