package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"go.uber.org/zap"
)

func (r *Replica) persistCheckpoint(cp *domain.Checkpoint) {
	if err := SignCheckpoint(r.signer, cp); err != nil {
		r.log.Error("failed to sign checkpoint", zap.Error(err))
		return
	}
	r.mu.Lock()
	if r.checkpoint == nil || cp.Sequence >= r.checkpoint.Sequence {
		r.checkpoint = cp
	}
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CheckpointTimeout)
	defer cancel()
	if err := r.store.SaveCheckpoint(ctx, cp); err != nil {
		r.log.Error("failed to persist checkpoint", zap.Uint64("sequence", cp.Sequence), zap.Error(err))
	}
}

// adopt moves replicated state forward to cp if it is ahead of ours
func (r *Replica) adopt(cp *domain.Checkpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cp.Sequence <= r.lastExec {
		return false
	}
	r.lastExec = cp.Sequence
	r.highestSeen = max(r.highestSeen, cp.Sequence)
	r.nextSeq = max(r.nextSeq, cp.Sequence)
	r.state.reset(cp.Sequence, cp.StateDigest)
	if cp.View > r.view {
		r.view = cp.View
	}
	return true
}

// Restore reloads this replica's latest checkpoint from its store
func (r *Replica) Restore(ctx context.Context) (*domain.Checkpoint, error) {
	if r.store == nil {
		return nil, domain.ErrCheckpointNotFound
	}
	cp, err := r.store.LatestCheckpoint(ctx, r.id)
	if err != nil {
		return nil, err
	}
	if cp.NodeID != r.id {
		return nil, fmt.Errorf("%w: checkpoint belongs to %s", domain.ErrInvalidSignature, cp.NodeID)
	}
	if err := VerifyCheckpoint(r.verifier, cp); err != nil {
		return nil, err
	}
	if r.adopt(cp) {
		r.mu.Lock()
		r.checkpoint = cp
		r.mu.Unlock()
	}
	r.log.Info("restored from checkpoint", zap.Uint64("sequence", cp.Sequence), zap.Uint64("view", cp.View))
	return cp, nil
}

type vouchKey struct {
	seq         uint64
	stateDigest string
}

// RequestCheckpoint asks the other validators for their latest checkpoint and
// adopts a state digest once f+1 distinct validators vouch for it.
func (r *Replica) RequestCheckpoint(ctx context.Context) (*domain.Checkpoint, error) {
	ch := make(chan *domain.Checkpoint, r.set.Size())
	r.waitMu.Lock()
	r.collectors[ch] = struct{}{}
	r.waitMu.Unlock()
	defer func() {
		r.waitMu.Lock()
		delete(r.collectors, ch)
		r.waitMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CheckpointTimeout)
	defer cancel()

	req := r.newMessage(domain.MessageCheckpointRequest, r.View(), 0, "", true)
	if err := SignMessage(r.signer, req); err != nil {
		return nil, err
	}
	r.sendAll(req)

	need := r.set.F() + 1
	vouchers := make(map[vouchKey]map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: fewer than %d validators vouched for a checkpoint: %v", domain.ErrQuorumNotReached, need, ctx.Err())
		case cp := <-ch:
			k := vouchKey{cp.Sequence, cp.StateDigest}
			if vouchers[k] == nil {
				vouchers[k] = make(map[string]bool)
			}
			vouchers[k][cp.NodeID] = true
			if len(vouchers[k]) < need {
				continue
			}
			adopted := *cp
			adopted.NodeID = r.id
			adopted.Signature = nil
			if r.adopt(&adopted) {
				r.persistCheckpoint(&adopted)
				r.log.Info("caught up from peer checkpoints",
					zap.Uint64("sequence", adopted.Sequence),
					zap.Int("vouchers", len(vouchers[k])),
				)
			}
			return &adopted, nil
		}
	}
}

func (r *Replica) handleCheckpointRequest(m *domain.Message) {
	if m.SenderID == r.id {
		return
	}
	cp := r.LastCheckpoint()
	if cp == nil && r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CheckpointTimeout)
		stored, err := r.store.LatestCheckpoint(ctx, r.id)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrCheckpointNotFound) {
			r.log.Warn("failed to load checkpoint for peer", zap.String("peer", m.SenderID), zap.Error(err))
		}
		cp = stored
	}
	if cp == nil {
		return
	}
	reply := r.newMessage(domain.MessageCheckpoint, cp.View, cp.Sequence, cp.Digest, true)
	reply.Checkpoint = cp
	r.sendTo(m.SenderID, reply)
}

func (r *Replica) handleCheckpoint(m *domain.Message) {
	cp := m.Checkpoint
	if cp == nil || cp.NodeID != m.SenderID {
		return
	}
	if err := VerifyCheckpoint(r.verifier, cp); err != nil {
		r.recordEvidence(domain.Evidence{
			NodeID: m.SenderID, Kind: domain.EvidenceInvalidSignature,
			Sequence: cp.Sequence, Phase: m.Type, Detail: err.Error(),
		})
		return
	}
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	for ch := range r.collectors {
		select {
		case ch <- cp:
		default:
		}
	}
}
