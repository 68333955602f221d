package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type instanceKey struct {
	view, seq uint64
}

// instance tracks the votes of one (view, sequence) slot
type instance struct {
	key instanceKey

	mu         sync.Mutex
	proposal   *domain.Proposal
	proposalID string
	digest     string // Set once this replica accepted the pre-prepare
	accepted   bool
	prepares   map[string]castVote
	commits    map[string]castVote
	prepared   bool
	finished   bool
	timer      *time.Timer
	started    time.Time
	evidence   []domain.Evidence
	done       chan struct{}
}

type outcome struct {
	sendCommit bool
	result     *domain.ConsensusResult
}

func (r *Replica) lookup(key instanceKey) *instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[key]
}

// instanceFor returns the slot for key, creating it unless the sequence is
// already below the finalized high-water mark.
func (r *Replica) instanceFor(key instanceKey) *instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst
	}
	if key.seq <= r.lastExec {
		return nil
	}
	inst := &instance{
		key:      key,
		prepares: make(map[string]castVote),
		commits:  make(map[string]castVote),
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	inst.timer = time.AfterFunc(r.cfg.PhaseTimeout, func() { r.expire(inst, domain.MessagePrepare) })
	r.instances[key] = inst
	return inst
}

// Propose submits value for agreement and waits for the outcome. Only an
// invalid value or a stopped replica produce an error; protocol failures are
// reported in the result.
func (r *Replica) Propose(ctx context.Context, value json.RawMessage) (*domain.ConsensusResult, error) {
	if !r.running.Load() {
		return nil, fmt.Errorf("%w: replica %s is not running", domain.ErrTransportClosed, r.id)
	}
	canonical, err := Canonical(value)
	if err != nil {
		return nil, err
	}
	digest, err := Digest(canonical)
	if err != nil {
		return nil, err
	}
	p := &domain.Proposal{
		ID:         uuid.NewString(),
		ProposerID: r.id,
		Value:      canonical,
		Digest:     digest,
	}
	start := time.Now()
	wait := r.addWaiter(p.ID)
	defer r.removeWaiter(p.ID)

	primary := r.Primary()
	if r.changing.Load() {
		return r.failed(p, start, domain.ErrViewChangeInProgress.Error()), nil
	}
	if primary == r.id {
		go r.lead(p)
	} else {
		if err := SignProposal(r.signer, p); err != nil {
			return nil, err
		}
		req := r.newMessage(domain.MessageRequest, r.View(), 0, digest, true)
		req.Proposal = p
		r.sendTo(primary, req)
	}

	timer := time.NewTimer(2*r.cfg.PhaseTimeout + r.cfg.PhaseTimeout/2)
	defer timer.Stop()
	select {
	case res := <-wait:
		return res, nil
	case <-ctx.Done():
		return r.failed(p, start, ctx.Err().Error()), nil
	case <-r.stop:
		return r.failed(p, start, "replica stopped"), nil
	case <-timer.C:
		if primary != r.id && r.cfg.AutoViewChange {
			r.TriggerViewChange(fmt.Sprintf("primary %s did not order proposal %s", primary, p.ID))
		}
		return r.failed(p, start, fmt.Sprintf("%s: no decision from primary %s", domain.ErrTimeout, primary)), nil
	}
}

func (r *Replica) failed(p *domain.Proposal, start time.Time, reason string) *domain.ConsensusResult {
	res := &domain.ConsensusResult{
		ProposalID: p.ID,
		Digest:     p.Digest,
		View:       r.View(),
		Quorum:     r.set.Quorum(),
		Reason:     reason,
		Duration:   time.Since(start),
	}
	r.metrics.ObserveConsensus(res)
	return res
}

func (r *Replica) handleRequest(m *domain.Message) {
	p := m.Proposal
	if p == nil || p.ProposerID != m.SenderID {
		return
	}
	if err := verifyProposal(r.verifier, p); err != nil {
		r.log.Debug("dropping request with bad proposal signature", zap.String("from", m.SenderID), zap.Error(err))
		return
	}
	if !r.IsPrimary() {
		return
	}
	go r.lead(p)
}

// lead runs one proposal through pre-prepare as primary and waits until its slot closes
func (r *Replica) lead(req *domain.Proposal) {
	r.leadMu.Lock()
	defer r.leadMu.Unlock()

	digest, err := Digest(req.Value)
	if err != nil || digest != req.Digest {
		return
	}

	r.mu.Lock()
	view := r.view
	if r.changing.Load() || r.set.Primary(view) != r.id {
		r.mu.Unlock()
		r.deliver(&domain.ConsensusResult{
			ProposalID: req.ID,
			Digest:     digest,
			View:       view,
			Quorum:     r.set.Quorum(),
			Reason:     domain.ErrViewChangeInProgress.Error(),
		})
		return
	}
	seq := max(r.nextSeq, r.highestSeen, r.lastExec) + 1
	r.nextSeq = seq
	r.mu.Unlock()

	p := &domain.Proposal{
		ID:         req.ID,
		ProposerID: r.id,
		View:       view,
		Sequence:   seq,
		Value:      req.Value,
		Digest:     digest,
	}
	if err := SignProposal(r.signer, p); err != nil {
		r.log.Error("failed to sign proposal", zap.Error(err))
		return
	}
	m := r.newMessage(domain.MessagePrePrepare, view, seq, digest, true)
	m.Proposal = p
	r.log.Debug("pre-prepare", zap.String("proposal_id", p.ID), zap.Uint64("view", view), zap.Uint64("sequence", seq))
	r.broadcast(m)

	inst := r.lookup(instanceKey{view, seq})
	if inst == nil {
		return
	}
	select {
	case <-inst.done:
	case <-r.stop:
	}
}

func (r *Replica) handlePrePrepare(m *domain.Message) {
	p := m.Proposal
	if p == nil {
		return
	}
	reject := func(reason string) {
		r.vote(domain.MessagePrepare, m.View, m.Sequence, m.Digest, false, reason, p.ID)
	}
	if p.ProposerID != m.SenderID || p.View != m.View || p.Sequence != m.Sequence {
		reject("proposal header does not match pre-prepare")
		return
	}
	if err := verifyProposal(r.verifier, p); err != nil {
		r.recordEvidence(domain.Evidence{
			NodeID: m.SenderID, Kind: domain.EvidenceInvalidSignature,
			View: m.View, Sequence: m.Sequence, Phase: m.Type, Detail: err.Error(),
		})
		reject(domain.ErrInvalidSignature.Error())
		return
	}
	digest, err := Digest(p.Value)
	if err != nil || digest != p.Digest || m.Digest != p.Digest {
		r.recordEvidence(domain.Evidence{
			NodeID: m.SenderID, Kind: domain.EvidenceCorruptDigest,
			View: m.View, Sequence: m.Sequence, Phase: m.Type,
			Detail: fmt.Sprintf("announced %.12s, value hashes to %.12s", p.Digest, digest),
		})
		reject(domain.ErrDigestMismatch.Error())
		return
	}

	r.mu.Lock()
	view, lastExec := r.view, r.lastExec
	r.mu.Unlock()
	switch {
	case r.changing.Load():
		reject(domain.ErrViewChangeInProgress.Error())
		return
	case m.View < view:
		reject(fmt.Sprintf("%s: view %d < %d", domain.ErrStaleView, m.View, view))
		return
	case r.set.Primary(m.View) != m.SenderID:
		reject(fmt.Sprintf("%s is not primary of view %d", m.SenderID, m.View))
		return
	case m.Sequence <= lastExec:
		reject(fmt.Sprintf("%s: sequence %d <= %d", domain.ErrStaleSequence, m.Sequence, lastExec))
		return
	}

	inst := r.instanceFor(instanceKey{m.View, m.Sequence})
	if inst == nil {
		return
	}
	inst.mu.Lock()
	if inst.finished || inst.proposal != nil {
		inst.mu.Unlock()
		return
	}
	inst.proposal = p
	inst.proposalID = p.ID
	inst.digest = p.Digest
	inst.accepted = r.fault != FaultAlwaysReject
	inst.mu.Unlock()

	r.mu.Lock()
	r.highestSeen = max(r.highestSeen, m.Sequence)
	r.mu.Unlock()

	if r.fault == FaultAlwaysReject {
		reject("rejected by policy")
		return
	}
	r.vote(domain.MessagePrepare, m.View, m.Sequence, p.Digest, true, "", p.ID)
}

// vote broadcasts this replica's prepare or commit
func (r *Replica) vote(phase domain.MessageType, view, seq uint64, digest string, accept bool, reason, proposalID string) {
	if r.fault == FaultAlwaysReject {
		accept = false
	}
	if inst := r.instanceFor(instanceKey{view, seq}); inst != nil && proposalID != "" {
		inst.mu.Lock()
		if inst.proposalID == "" {
			inst.proposalID = proposalID
		}
		inst.mu.Unlock()
	}
	m := r.newMessage(phase, view, seq, digest, accept)
	m.Reason = reason

	if r.fault == FaultEquivocate && accept {
		// The conflicting twin goes out first so honest replicas see both
		twin := r.newMessage(phase, view, seq, bogusDigest(digest), true)
		if err := SignMessage(r.signer, twin); err == nil {
			r.sendAll(twin)
		}
	}
	r.broadcast(m)
}

func bogusDigest(digest string) string {
	sum := sha256.Sum256([]byte("equivocate:" + digest))
	return hex.EncodeToString(sum[:])
}

func (r *Replica) handleVote(m *domain.Message) {
	inst := r.instanceFor(instanceKey{m.View, m.Sequence})
	if inst == nil {
		return
	}
	inst.mu.Lock()
	if inst.finished {
		inst.mu.Unlock()
		return
	}
	votes := inst.prepares
	if m.Type == domain.MessageCommit {
		votes = inst.commits
	}
	if _, ok := votes[m.SenderID]; ok {
		inst.mu.Unlock()
		return
	}
	votes[m.SenderID] = castVote{m.Digest, m.Accept}
	out := r.progress(inst)
	inst.mu.Unlock()

	r.apply(inst, out)
}

// count tallies accepts matching digest and rejects of any digest from active validators
func (r *Replica) count(votes map[string]castVote, digest string) (accepts, rejects int) {
	for sender, v := range votes {
		if !r.set.IsActive(sender) {
			continue
		}
		switch {
		case !v.accept:
			rejects++
		case digest != "" && v.digest == digest:
			accepts++
		}
	}
	return accepts, rejects
}

// progress advances the slot; the caller holds inst.mu
func (r *Replica) progress(inst *instance) outcome {
	n, q := r.set.Size(), r.set.Quorum()

	prepAcc, prepRej := r.count(inst.prepares, inst.digest)
	if !inst.prepared {
		if prepRej > n-q {
			return outcome{result: r.closeSlot(inst, false, prepAcc, prepRej,
				fmt.Sprintf("%s: prepare rejected by %d of %d validators (quorum %d)", domain.ErrQuorumNotReached, prepRej, n, q))}
		}
		if inst.accepted && prepAcc >= q {
			inst.prepared = true
			inst.timer.Stop()
			inst.timer = time.AfterFunc(r.cfg.PhaseTimeout, func() { r.expire(inst, domain.MessageCommit) })
			return outcome{sendCommit: true}
		}
	}

	comAcc, comRej := r.count(inst.commits, inst.digest)
	if comRej > n-q {
		return outcome{result: r.closeSlot(inst, false, comAcc, comRej,
			fmt.Sprintf("%s: commit rejected by %d of %d validators (quorum %d)", domain.ErrQuorumNotReached, comRej, n, q))}
	}
	if inst.proposal != nil && comAcc >= q && !r.changing.Load() {
		return outcome{result: r.closeSlot(inst, true, comAcc, comRej, "")}
	}
	return outcome{}
}

// closeSlot marks the slot finished and builds its result; the caller holds inst.mu
func (r *Replica) closeSlot(inst *instance, success bool, accepts, rejects int, reason string) *domain.ConsensusResult {
	inst.finished = true
	inst.timer.Stop()
	res := &domain.ConsensusResult{
		ProposalID:  inst.proposalID,
		Success:     success,
		View:        inst.key.view,
		Sequence:    inst.key.seq,
		Digest:      inst.digest,
		AcceptVotes: accepts,
		RejectVotes: rejects,
		Quorum:      r.set.Quorum(),
		Reason:      reason,
		Evidence:    append([]domain.Evidence(nil), inst.evidence...),
		Duration:    time.Since(inst.started),
	}
	if success && inst.proposal != nil {
		res.Value = inst.proposal.Value
	}
	// partial votes are discarded once the slot closes
	inst.prepares = nil
	inst.commits = nil
	close(inst.done)
	return res
}

func (r *Replica) apply(inst *instance, out outcome) {
	if out.sendCommit {
		inst.mu.Lock()
		digest, id := inst.digest, inst.proposalID
		inst.mu.Unlock()
		r.vote(domain.MessageCommit, inst.key.view, inst.key.seq, digest, true, "", id)
	}
	if out.result != nil {
		r.finish(out.result)
	}
}

func (r *Replica) expire(inst *instance, phase domain.MessageType) {
	inst.mu.Lock()
	if inst.finished || (phase == domain.MessagePrepare && inst.prepared) {
		inst.mu.Unlock()
		return
	}
	votes := inst.prepares
	if phase == domain.MessageCommit {
		votes = inst.commits
	}
	acc, rej := r.count(votes, inst.digest)
	q := r.set.Quorum()
	reason := fmt.Sprintf("%s: %s phase reached %d of %d accepts within %s", domain.ErrTimeout, phase, acc, q, r.cfg.PhaseTimeout)
	if phase == domain.MessageCommit && r.changing.Load() {
		reason = fmt.Sprintf("%s: commit withheld during view change", domain.ErrViewChangeInProgress)
	}
	res := r.closeSlot(inst, false, acc, rej, reason)
	inst.mu.Unlock()
	r.finish(res)
}

// finish publishes a closed slot's outcome and, on success, advances replicated state
func (r *Replica) finish(res *domain.ConsensusResult) {
	if res.Success {
		r.commitState(res)
		r.log.Info("proposal finalized",
			zap.String("proposal_id", res.ProposalID),
			zap.Uint64("view", res.View),
			zap.Uint64("sequence", res.Sequence),
			zap.Int("accepts", res.AcceptVotes),
			zap.Int("quorum", res.Quorum),
		)
		r.notifier.Emit(domain.EventConsensusCompleted, map[string]any{
			"proposal_id": res.ProposalID,
			"view":        res.View,
			"sequence":    res.Sequence,
			"digest":      res.Digest,
		})
	} else {
		r.log.Warn("proposal failed",
			zap.String("proposal_id", res.ProposalID),
			zap.Uint64("view", res.View),
			zap.Uint64("sequence", res.Sequence),
			zap.String("reason", res.Reason),
		)
		r.notifier.Emit(domain.EventConsensusFailed, map[string]any{
			"proposal_id": res.ProposalID,
			"sequence":    res.Sequence,
			"reason":      res.Reason,
		})
	}
	r.metrics.ObserveConsensus(res)
	if res.ProposalID != "" {
		r.deliver(res)
	}
}

func (r *Replica) commitState(res *domain.ConsensusResult) {
	r.mu.Lock()
	stateDigest := r.state.append(res.Sequence, res.Digest)
	r.lastExec = max(r.lastExec, res.Sequence)
	r.highestSeen = max(r.highestSeen, res.Sequence)
	view := r.view
	if res.View > view {
		view = res.View
	}
	for key, inst := range r.instances {
		if key.seq+instanceHistory < r.lastExec && isClosed(inst) {
			delete(r.instances, key)
		}
	}
	pruneBelow := uint64(0)
	if r.lastExec > instanceHistory {
		pruneBelow = r.lastExec - instanceHistory
	}
	r.mu.Unlock()
	if pruneBelow > 0 {
		r.votes.prune(pruneBelow)
	}

	cp := &domain.Checkpoint{
		NodeID:      r.id,
		View:        view,
		Sequence:    res.Sequence,
		ProposalID:  res.ProposalID,
		Digest:      res.Digest,
		StateDigest: stateDigest,
		CreatedAt:   time.Now().UTC(),
	}
	r.persistCheckpoint(cp)
}

func isClosed(inst *instance) bool {
	select {
	case <-inst.done:
		return true
	default:
		return false
	}
}
