// Package consensus implements a PBFT replica: three-phase agreement among
// validators that tolerates f Byzantine nodes out of n >= 3f+1.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/crabzie/swarm-coordinator/internal/core/service/notify"
	"go.uber.org/zap"
)

const (
	maxEvidence     = 1024
	instanceHistory = 256 // Finalized sequences kept for late votes
)

// Fault makes a replica misbehave; used by simulations and tests
type Fault int

const (
	FaultNone         Fault = iota
	FaultAlwaysReject       // Rejects every proposal
	FaultEquivocate         // Sends two conflicting votes per phase
	FaultSilent             // Sends nothing
)

type Option func(*Replica)

func WithCheckpointStore(s port.CheckpointStore) Option {
	return func(r *Replica) { r.store = s }
}

func WithMetrics(m port.Metrics) Option {
	return func(r *Replica) { r.metrics = m }
}

func WithNotifier(n *notify.Notifier) Option {
	return func(r *Replica) { r.notifier = n }
}

// WithOnExclude registers a callback invoked when a validator crosses the suspicion threshold
func WithOnExclude(fn func(nodeID string)) Option {
	return func(r *Replica) { r.onExclude = fn }
}

func WithFault(f Fault) Option {
	return func(r *Replica) { r.fault = f }
}

// Replica is one validator's consensus state machine
type Replica struct {
	cfg       Config
	id        string
	set       *ValidatorSet
	transport port.Transport
	signer    port.Signer
	verifier  port.Verifier
	store     port.CheckpointStore
	metrics   port.Metrics
	notifier  *notify.Notifier
	onExclude func(string)
	fault     Fault
	log       *zap.Logger

	mu          sync.Mutex
	view        uint64
	targetView  uint64
	nextSeq     uint64
	highestSeen uint64
	lastExec    uint64
	state       stateLog
	checkpoint  *domain.Checkpoint
	instances   map[instanceKey]*instance
	viewVotes   map[uint64]map[string]bool
	viewTimer   *time.Timer
	changing    atomic.Bool

	leadMu sync.Mutex // Serializes proposals led by this replica

	votes     *voteLog
	suspicion suspicionTable

	evMu     sync.Mutex
	evidence []domain.Evidence

	liveMu    sync.Mutex
	lastHeard map[string]time.Time
	flagged   map[string]time.Time

	waitMu     sync.Mutex
	waiters    map[string]chan *domain.ConsensusResult
	collectors map[chan *domain.Checkpoint]struct{}

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewReplica builds the replica for the signer's node id
func NewReplica(cfg Config, transport port.Transport, signer port.Signer, verifier port.Verifier, log *zap.Logger, opts ...Option) (*Replica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	set, err := NewValidatorSet(cfg.Validators, cfg.FaultTolerance)
	if err != nil {
		return nil, err
	}
	if !set.Contains(signer.ID()) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotValidator, signer.ID())
	}
	if transport.ID() != signer.ID() {
		return nil, fmt.Errorf("%w: transport %s does not belong to signer %s", domain.ErrInvalidConfig, transport.ID(), signer.ID())
	}

	r := &Replica{
		cfg:        cfg,
		id:         signer.ID(),
		set:        set,
		transport:  transport,
		signer:     signer,
		verifier:   verifier,
		metrics:    port.NopMetrics{},
		log:        log.Named("consensus").With(zap.String("node_id", signer.ID())),
		instances:  make(map[instanceKey]*instance),
		viewVotes:  make(map[uint64]map[string]bool),
		votes:      newVoteLog(),
		lastHeard:  make(map[string]time.Time),
		flagged:    make(map[string]time.Time),
		waiters:    make(map[string]chan *domain.ConsensusResult),
		collectors: make(map[chan *domain.Checkpoint]struct{}),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Replica) ID() string { return r.id }

func (r *Replica) ValidatorSet() *ValidatorSet { return r.set }

// View returns the current view number
func (r *Replica) View() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Primary returns the primary of the current view
func (r *Replica) Primary() string {
	return r.set.Primary(r.View())
}

func (r *Replica) IsPrimary() bool {
	return r.Primary() == r.id
}

// ViewChanging reports whether a view change is in progress
func (r *Replica) ViewChanging() bool {
	return r.changing.Load()
}

// LastCheckpoint returns the most recent checkpoint of this replica
func (r *Replica) LastCheckpoint() *domain.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checkpoint == nil {
		return nil
	}
	cp := *r.checkpoint
	return &cp
}

// Suspicion returns the Byzantine suspicion score of a node in [0,1]
func (r *Replica) Suspicion(nodeID string) float64 {
	return r.suspicion.get(nodeID)
}

// Evidence returns a copy of the recorded evidence log
func (r *Replica) Evidence() []domain.Evidence {
	r.evMu.Lock()
	defer r.evMu.Unlock()
	return append([]domain.Evidence(nil), r.evidence...)
}

// Start subscribes to the transport and launches heartbeats
func (r *Replica) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	now := time.Now()
	r.liveMu.Lock()
	for _, id := range r.set.Active() {
		r.lastHeard[id] = now
	}
	r.liveMu.Unlock()

	r.transport.OnReceive(r.receive)
	if r.cfg.HeartbeatInterval > 0 {
		r.wg.Add(1)
		go r.liveness()
	}
	r.log.Info("replica started",
		zap.Int("validators", r.set.Size()),
		zap.Int("quorum", r.set.Quorum()),
		zap.String("primary", r.Primary()),
	)
	return nil
}

// Stop halts background work; in-flight proposals fail on their timers
func (r *Replica) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stop)
	r.wg.Wait()

	r.mu.Lock()
	if r.viewTimer != nil {
		r.viewTimer.Stop()
	}
	r.mu.Unlock()
	r.log.Info("replica stopped")
}

func (r *Replica) receive(_ context.Context, env domain.Envelope) {
	if env.Kind != KindMessage {
		return
	}
	m, err := DecodeMessage(env)
	if err != nil {
		r.log.Debug("dropping malformed message", zap.String("from", env.From), zap.Error(err))
		return
	}
	if m.SenderID != env.From {
		r.log.Debug("dropping message with spoofed sender", zap.String("from", env.From), zap.String("sender", m.SenderID))
		return
	}
	r.process(m, true)
}

func (r *Replica) process(m *domain.Message, remote bool) {
	if !r.running.Load() {
		return
	}
	if !r.set.Contains(m.SenderID) || r.set.IsExcluded(m.SenderID) {
		return
	}
	if remote {
		if err := verifyMessage(r.verifier, m); err != nil {
			if errors.Is(err, domain.ErrInvalidSignature) {
				r.recordEvidence(domain.Evidence{
					NodeID:   m.SenderID,
					Kind:     domain.EvidenceInvalidSignature,
					View:     m.View,
					Sequence: m.Sequence,
					Phase:    m.Type,
					Detail:   err.Error(),
				})
			}
			return
		}
		r.touch(m.SenderID)
	}

	switch m.Type {
	case domain.MessagePrePrepare, domain.MessagePrepare, domain.MessageCommit:
		status, prev := r.votes.record(m)
		switch status {
		case voteDuplicate:
			return
		case voteConflict:
			r.recordEvidence(domain.Evidence{
				NodeID:   m.SenderID,
				Kind:     domain.EvidenceDoubleVoting,
				View:     m.View,
				Sequence: m.Sequence,
				Phase:    m.Type,
				Detail: fmt.Sprintf("conflicting %s votes: digest %.12s accept=%t then digest %.12s accept=%t",
					m.Type, prev.digest, prev.accept, m.Digest, m.Accept),
			})
			return
		}
		if m.Type == domain.MessagePrePrepare {
			r.handlePrePrepare(m)
		} else {
			r.handleVote(m)
		}
	case domain.MessageRequest:
		r.handleRequest(m)
	case domain.MessageViewChange:
		r.handleViewChange(m)
	case domain.MessageCheckpointRequest:
		r.handleCheckpointRequest(m)
	case domain.MessageCheckpoint:
		r.handleCheckpoint(m)
	case domain.MessageHeartbeat:
	}
}

func (r *Replica) newMessage(t domain.MessageType, view, seq uint64, digest string, accept bool) *domain.Message {
	return &domain.Message{
		Type:      t,
		SenderID:  r.id,
		View:      view,
		Sequence:  seq,
		Digest:    digest,
		Accept:    accept,
		Timestamp: time.Now().UTC(),
	}
}

// broadcast signs m, sends it to every other active validator and then
// processes it locally.
func (r *Replica) broadcast(m *domain.Message) {
	if err := SignMessage(r.signer, m); err != nil {
		r.log.Error("failed to sign message", zap.String("type", string(m.Type)), zap.Error(err))
		return
	}
	r.sendAll(m)
	r.process(m, false)
}

func (r *Replica) sendAll(m *domain.Message) {
	if r.fault == FaultSilent {
		return
	}
	env, err := EncodeMessage(m)
	if err != nil {
		r.log.Error("failed to encode message", zap.Error(err))
		return
	}
	for _, peer := range r.set.Active() {
		if peer == r.id {
			continue
		}
		r.sendEnvelope(peer, env)
	}
}

func (r *Replica) sendTo(peer string, m *domain.Message) {
	if r.fault == FaultSilent {
		return
	}
	if err := SignMessage(r.signer, m); err != nil {
		r.log.Error("failed to sign message", zap.Error(err))
		return
	}
	env, err := EncodeMessage(m)
	if err != nil {
		r.log.Error("failed to encode message", zap.Error(err))
		return
	}
	r.sendEnvelope(peer, env)
}

func (r *Replica) sendEnvelope(peer string, env domain.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PhaseTimeout)
	defer cancel()
	if err := r.transport.Send(ctx, peer, env); err != nil {
		r.log.Debug("send failed", zap.String("peer", peer), zap.Error(err))
	}
}

// recordEvidence logs Byzantine behavior and raises the node's suspicion,
// excluding it once the threshold is crossed.
func (r *Replica) recordEvidence(ev domain.Evidence) {
	if ev.NodeID == r.id {
		return
	}
	ev.ObservedAt = time.Now()

	r.evMu.Lock()
	r.evidence = append(r.evidence, ev)
	if len(r.evidence) > maxEvidence {
		r.evidence = r.evidence[len(r.evidence)-maxEvidence:]
	}
	r.evMu.Unlock()

	if inst := r.lookup(instanceKey{ev.View, ev.Sequence}); inst != nil {
		inst.mu.Lock()
		inst.evidence = append(inst.evidence, ev)
		inst.mu.Unlock()
	}
	r.metrics.ObserveEvidence(ev)

	old, score := r.suspicion.raise(ev.NodeID, ev.Kind)
	r.log.Warn("byzantine evidence recorded",
		zap.String("suspect", ev.NodeID),
		zap.String("kind", string(ev.Kind)),
		zap.Uint64("view", ev.View),
		zap.Uint64("sequence", ev.Sequence),
		zap.Float64("suspicion", score),
		zap.String("detail", ev.Detail),
	)

	threshold := r.cfg.SuspicionThreshold
	if old < threshold && score >= threshold && r.set.Exclude(ev.NodeID) {
		r.log.Warn("validator excluded",
			zap.String("suspect", ev.NodeID),
			zap.Int("validators", r.set.Size()),
			zap.Int("quorum", r.set.Quorum()),
		)
		r.notifier.Emit(domain.EventNodeExcluded, map[string]any{
			"node_id":   ev.NodeID,
			"suspicion": score,
			"quorum":    r.set.Quorum(),
		})
		if r.onExclude != nil {
			go r.onExclude(ev.NodeID)
		}
	}
}

func (r *Replica) touch(nodeID string) {
	r.liveMu.Lock()
	r.lastHeard[nodeID] = time.Now()
	delete(r.flagged, nodeID)
	r.liveMu.Unlock()
}

// liveness sends heartbeats and flags validators that stay silent past the liveness window
func (r *Replica) liveness() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			view := r.View()
			r.broadcast(r.newMessage(domain.MessageHeartbeat, view, 0, "", true))

			var silent []string
			r.liveMu.Lock()
			for _, id := range r.set.Active() {
				if id == r.id {
					continue
				}
				last, ok := r.lastHeard[id]
				if !ok {
					r.lastHeard[id] = now
					continue
				}
				if now.Sub(last) <= r.cfg.LivenessWindow {
					continue
				}
				if at, ok := r.flagged[id]; ok && now.Sub(at) <= r.cfg.LivenessWindow {
					continue
				}
				r.flagged[id] = now
				silent = append(silent, id)
			}
			r.liveMu.Unlock()

			primary := r.set.Primary(view)
			for _, id := range silent {
				r.recordEvidence(domain.Evidence{
					NodeID: id,
					Kind:   domain.EvidenceSilence,
					View:   view,
					Detail: fmt.Sprintf("no message within %s", r.cfg.LivenessWindow),
				})
				if id == primary && r.cfg.AutoViewChange {
					r.TriggerViewChange("primary silent")
				}
			}
		}
	}
}

func (r *Replica) addWaiter(proposalID string) chan *domain.ConsensusResult {
	ch := make(chan *domain.ConsensusResult, 1)
	r.waitMu.Lock()
	r.waiters[proposalID] = ch
	r.waitMu.Unlock()
	return ch
}

func (r *Replica) removeWaiter(proposalID string) {
	r.waitMu.Lock()
	delete(r.waiters, proposalID)
	r.waitMu.Unlock()
}

func (r *Replica) deliver(res *domain.ConsensusResult) {
	r.waitMu.Lock()
	ch, ok := r.waiters[res.ProposalID]
	r.waitMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}
