// Package network runs the decentralized side of the swarm: neighbor
// topology, TTL-bounded task proposals, collaboration requests, gossip and
// remote execution of assigned subtasks.
package network

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/crabzie/swarm-coordinator/internal/core/service/consensus"
	"github.com/crabzie/swarm-coordinator/internal/core/service/optimizer"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

type Option func(*Peer)

// WithViewStore persists the gossip view across restarts
func WithViewStore(s port.ViewStore) Option {
	return func(p *Peer) { p.store = s }
}

// WithExecutor lets the peer run tasks assigned to it
func WithExecutor(e port.Executor) Option {
	return func(p *Peer) { p.executor = e }
}

// Peer is one node of the decentralized network
type Peer struct {
	cfg       Config
	transport port.Transport
	executor  port.Executor
	store     port.ViewStore
	view      *View
	log       *zap.Logger

	mu        sync.RWMutex
	self      *domain.Worker
	version   uint64
	running   int // Tasks currently executing locally
	neighbors []string
	seen      map[string]time.Time
	excluded  map[string]struct{} // Evicted nodes; everything they send is dropped

	rngMu sync.Mutex
	rng   *rand.Rand

	waitMu  sync.Mutex
	bids    map[string]chan Bid
	replies map[string]chan CollaborationReply
	calls   map[string]chan executeReply
	joins   map[string]chan struct{}

	stats struct {
		received, forwarded, expired, bids, rounds, executions atomic.Int64
	}

	started atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewPeer creates the peer for the local worker
func NewPeer(cfg Config, self *domain.Worker, transport port.Transport, log *zap.Logger, opts ...Option) (*Peer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if self == nil || self.ID == "" {
		return nil, fmt.Errorf("%w: peer needs a worker identity", domain.ErrInvalidConfig)
	}
	if transport.ID() != self.ID {
		return nil, fmt.Errorf("%w: transport %s does not belong to worker %s", domain.ErrInvalidConfig, transport.ID(), self.ID)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Peer{
		cfg:       cfg,
		transport: transport,
		view:      NewView(),
		log:       log.Named("network").With(zap.String("node_id", self.ID)),
		self:      self.Clone(),
		version:   1,
		seen:      make(map[string]time.Time),
		excluded:  make(map[string]struct{}),
		rng:       rand.New(rand.NewSource(seed)),
		bids:      make(map[string]chan Bid),
		replies:   make(map[string]chan CollaborationReply),
		calls:     make(map[string]chan executeReply),
		joins:     make(map[string]chan struct{}),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.view.Merge(stateOf(p.self, p.version))
	return p, nil
}

func (p *Peer) ID() string { return p.transport.ID() }

func (p *Peer) View() *View { return p.view }

// Self returns a copy of the local worker state
func (p *Peer) Self() *domain.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.self.Clone()
}

// Neighbors returns the current neighbor ids, best first
func (p *Peer) Neighbors() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.neighbors...)
}

// Known returns every active worker the view knows about, including self
func (p *Peer) Known() []*domain.Worker {
	var out []*domain.Worker
	for _, s := range p.view.Snapshot() {
		if s.Status == domain.WorkerStatusActive {
			out = append(out, s.Worker())
		}
	}
	return out
}

func (p *Peer) Stats() Stats {
	return Stats{
		ProposalsReceived:  p.stats.received.Load(),
		ProposalsForwarded: p.stats.forwarded.Load(),
		ProposalsExpired:   p.stats.expired.Load(),
		BidsSent:           p.stats.bids.Load(),
		GossipRounds:       p.stats.rounds.Load(),
		Executions:         p.stats.executions.Load(),
	}
}

// Start restores the persisted view, subscribes to the transport, joins the
// configured seeds and launches the gossip loop.
func (p *Peer) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	p.restoreView(ctx)
	p.transport.OnReceive(p.receive)
	p.RecomputeNeighbors()

	if len(p.cfg.Seeds) > 0 {
		if err := p.Join(ctx, p.cfg.Seeds...); err != nil {
			p.log.Warn("join incomplete", zap.Error(err))
		}
	}
	if p.cfg.GossipInterval > 0 {
		p.wg.Add(1)
		go p.gossipLoop()
	}
	p.log.Info("peer started", zap.Int("known", p.view.Len()), zap.Strings("neighbors", p.Neighbors()))
	return nil
}

// Stop halts gossip and persists the view
func (p *Peer) Stop(ctx context.Context) {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.saveView(ctx)
	p.log.Info("peer stopped")
}

// UpdateLocalState applies fn to the local worker and bumps its gossip version
func (p *Peer) UpdateLocalState(fn func(w *domain.Worker)) {
	p.mu.Lock()
	fn(p.self)
	p.self.Workload = domain.Clamp01(p.self.Workload/100) * 100
	p.version++
	s := stateOf(p.self, p.version)
	p.mu.Unlock()
	p.view.Merge(s)
}

func (p *Peer) localState() PeerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return stateOf(p.self, p.version)
}

// Join introduces this node to seeds and waits until each answered or the response timeout passed
func (p *Peer) Join(ctx context.Context, seeds ...string) error {
	payload, err := codec.Marshal(gossipMessage{States: []PeerState{p.localState()}})
	if err != nil {
		return err
	}
	var waits []chan struct{}
	asked := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		if seed == p.ID() || asked[seed] || p.isExcluded(seed) {
			continue
		}
		asked[seed] = true
		ch := make(chan struct{})
		p.waitMu.Lock()
		p.joins[seed] = ch
		p.waitMu.Unlock()
		waits = append(waits, ch)
		if err := p.transport.Send(ctx, seed, domain.Envelope{Kind: kindJoin, Payload: payload}); err != nil {
			p.log.Warn("failed to contact seed", zap.String("seed", seed), zap.Error(err))
		}
	}

	wait, cancel := context.WithTimeout(ctx, p.cfg.ResponseTimeout)
	defer cancel()
	answered := 0
	for _, ch := range waits {
		select {
		case <-ch:
			answered++
		case <-wait.Done():
		}
	}
	p.waitMu.Lock()
	for _, seed := range seeds {
		delete(p.joins, seed)
	}
	p.waitMu.Unlock()

	p.RecomputeNeighbors()
	if answered < len(waits) {
		return fmt.Errorf("%w: %d of %d seeds answered", domain.ErrTimeout, answered, len(waits))
	}
	return nil
}

// Leave tells the neighbors this node is going away
func (p *Peer) Leave(ctx context.Context) {
	p.UpdateLocalState(func(w *domain.Worker) { w.Status = domain.WorkerStatusInactive })
	payload, err := codec.Marshal(leaveMessage{NodeID: p.ID()})
	if err != nil {
		return
	}
	for _, n := range p.Neighbors() {
		if err := p.transport.Send(ctx, n, domain.Envelope{Kind: kindLeave, Payload: payload}); err != nil {
			p.log.Debug("leave not delivered", zap.String("peer", n), zap.Error(err))
		}
	}
}

// Evict forgets a node for good, e.g. after consensus excluded it. Gossip
// about it and anything it sends are ignored from then on.
func (p *Peer) Evict(nodeID string) {
	if nodeID == p.ID() {
		return
	}
	p.mu.Lock()
	p.excluded[nodeID] = struct{}{}
	p.mu.Unlock()
	p.forget(nodeID)
}

// forget drops a node that left; it may come back through Join
func (p *Peer) forget(nodeID string) {
	if nodeID == p.ID() {
		return
	}
	if p.view.Remove(nodeID) {
		p.RecomputeNeighbors()
	}
}

func (p *Peer) isExcluded(nodeID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.excluded[nodeID]
	return ok
}

// RecomputeNeighbors rebuilds the bounded neighbor set from the view
func (p *Peer) RecomputeNeighbors() []string {
	self := p.Self()
	next := selectNeighbors(self, p.view.Snapshot(), p.cfg.MaxNeighbors)
	p.mu.Lock()
	p.neighbors = next
	p.mu.Unlock()
	return append([]string(nil), next...)
}

func (p *Peer) receive(ctx context.Context, env domain.Envelope) {
	if p.isExcluded(env.From) {
		p.log.Debug("dropping envelope from evicted node", zap.String("kind", env.Kind), zap.String("from", env.From))
		return
	}
	var err error
	switch env.Kind {
	case kindJoin:
		err = p.handleJoin(ctx, env)
	case kindWelcome, kindGossip:
		err = p.handleGossip(env)
	case kindLeave:
		var m leaveMessage
		if err = codec.Unmarshal(env.Payload, &m); err == nil && m.NodeID == env.From {
			p.forget(m.NodeID)
		}
	case kindProposal:
		err = p.handleProposal(ctx, env)
	case kindBid:
		var b Bid
		if err = codec.Unmarshal(env.Payload, &b); err == nil {
			p.route(b.ProposalID, b)
		}
	case kindCollab:
		err = p.handleCollaboration(ctx, env)
	case kindCollabReply:
		var r CollaborationReply
		if err = codec.Unmarshal(env.Payload, &r); err == nil {
			p.waitMu.Lock()
			ch := p.replies[r.RequestID]
			p.waitMu.Unlock()
			if ch != nil {
				select {
				case ch <- r:
				default:
				}
			}
		}
	case kindExecute:
		err = p.handleExecute(env)
	case kindExecuteReply:
		var r executeReply
		if err = codec.Unmarshal(env.Payload, &r); err == nil {
			p.waitMu.Lock()
			ch := p.calls[r.ID]
			p.waitMu.Unlock()
			if ch != nil {
				select {
				case ch <- r:
				default:
				}
			}
		}
	}
	if err != nil {
		p.log.Debug("dropping envelope", zap.String("kind", env.Kind), zap.String("from", env.From), zap.Error(err))
	}
}

func (p *Peer) handleJoin(ctx context.Context, env domain.Envelope) error {
	p.view.Readmit(env.From)
	if err := p.handleGossip(env); err != nil {
		return err
	}
	payload, err := codec.Marshal(gossipMessage{States: []PeerState{p.localState()}})
	if err != nil {
		return err
	}
	return p.transport.Send(ctx, env.From, domain.Envelope{Kind: kindWelcome, Payload: payload})
}

func (p *Peer) handleGossip(env domain.Envelope) error {
	var m gossipMessage
	if err := codec.Unmarshal(env.Payload, &m); err != nil {
		return err
	}
	changed := false
	for _, s := range m.States {
		if s.NodeID == p.ID() || p.isExcluded(s.NodeID) {
			continue
		}
		if p.view.Merge(s) {
			changed = true
		}
	}
	if env.Kind == kindWelcome {
		p.waitMu.Lock()
		if ch, ok := p.joins[env.From]; ok {
			close(ch)
			delete(p.joins, env.From)
		}
		p.waitMu.Unlock()
	}
	if changed {
		p.RecomputeNeighbors()
	}
	return nil
}

func (p *Peer) gossipLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.GossipInterval)
			p.GossipRound(ctx)
			p.pruneSeen()
			cancel()
		}
	}
}

// GossipRound pushes the local view to a random subset of neighbors
func (p *Peer) GossipRound(ctx context.Context) {
	p.stats.rounds.Add(1)
	targets := p.Neighbors()
	p.rngMu.Lock()
	p.rng.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })
	p.rngMu.Unlock()
	if len(targets) > p.cfg.GossipFanout {
		targets = targets[:p.cfg.GossipFanout]
	}
	if len(targets) == 0 {
		return
	}

	payload, err := codec.Marshal(gossipMessage{States: p.view.Snapshot()})
	if err != nil {
		p.log.Error("failed to encode gossip", zap.Error(err))
		return
	}
	for _, t := range targets {
		if err := p.transport.Send(ctx, t, domain.Envelope{Kind: kindGossip, Payload: payload}); err != nil {
			p.log.Debug("gossip not delivered", zap.String("peer", t), zap.Error(err))
		}
	}
}

// markSeen records a proposal id and reports whether it was new
func (p *Peer) markSeen(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[id]; ok {
		return false
	}
	p.seen[id] = time.Now()
	return true
}

func (p *Peer) pruneSeen() {
	cutoff := time.Now().Add(-p.cfg.SeenTTL)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, at := range p.seen {
		if at.Before(cutoff) {
			delete(p.seen, id)
		}
	}
}

// ProposeTask offers task to the network and collects bids until enough
// arrived or the response timeout passed. Bids are ordered best first.
func (p *Peer) ProposeTask(ctx context.Context, task *domain.Task) (*Negotiation, error) {
	if task == nil {
		return nil, fmt.Errorf("%w: nil task", domain.ErrInvalidTask)
	}
	start := time.Now()
	prop := TaskProposal{ID: uuid.NewString(), Origin: p.ID(), Task: task, TTL: p.cfg.ProposalTTL}
	p.markSeen(prop.ID)

	neighbors := p.Neighbors()
	neg := &Negotiation{ProposalID: prop.ID, TaskID: task.ID, Required: p.required(len(neighbors))}
	if len(neighbors) == 0 {
		neg.TimedOut = true
		return neg, nil
	}

	ch := make(chan Bid, 64)
	p.waitMu.Lock()
	p.bids[prop.ID] = ch
	p.waitMu.Unlock()
	defer func() {
		p.waitMu.Lock()
		delete(p.bids, prop.ID)
		p.waitMu.Unlock()
	}()

	payload, err := codec.Marshal(prop)
	if err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		if err := p.transport.Send(ctx, n, domain.Envelope{Kind: kindProposal, Payload: payload}); err != nil {
			p.log.Debug("proposal not delivered", zap.String("peer", n), zap.Error(err))
		}
	}

	timer := time.NewTimer(p.cfg.ResponseTimeout)
	defer timer.Stop()
	seen := make(map[string]bool)
collect:
	for len(neg.Bids) < neg.Required {
		select {
		case b := <-ch:
			if seen[b.NodeID] {
				continue
			}
			seen[b.NodeID] = true
			neg.Bids = append(neg.Bids, b)
		case <-timer.C:
			neg.TimedOut = true
			break collect
		case <-ctx.Done():
			neg.TimedOut = true
			break collect
		}
	}

	sort.SliceStable(neg.Bids, func(i, j int) bool { return betterBid(neg.Bids[i], neg.Bids[j]) })
	if len(neg.Bids) > 0 {
		w := neg.Bids[0]
		neg.Winner = &w
	}
	neg.Duration = time.Since(start)
	return neg, nil
}

func betterBid(a, b Bid) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.EstimatedTime != b.EstimatedTime {
		return a.EstimatedTime < b.EstimatedTime
	}
	return a.NodeID < b.NodeID
}

// required is the number of responses that ends collection early
func (p *Peer) required(neighbors int) int {
	if p.cfg.MinResponses > 0 {
		return p.cfg.MinResponses
	}
	return consensus.Quorum(neighbors)
}

func (p *Peer) route(proposalID string, b Bid) {
	p.waitMu.Lock()
	ch := p.bids[proposalID]
	p.waitMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- b:
	default:
	}
}

// canTake reports whether the local node would accept task now
func (p *Peer) canTake(task *domain.Task) (optimizer.Estimate, bool) {
	self := p.Self()
	est := optimizer.EstimatePair(task, self)
	return est, est.Match.Capable && self.AvailableCapacity() > 0
}

func (p *Peer) handleProposal(ctx context.Context, env domain.Envelope) error {
	var prop TaskProposal
	if err := codec.Unmarshal(env.Payload, &prop); err != nil {
		return err
	}
	if prop.Task == nil || p.isExcluded(prop.Origin) || !p.markSeen(prop.ID) {
		return nil
	}
	p.stats.received.Add(1)

	if est, ok := p.canTake(prop.Task); ok {
		self := p.Self()
		bid := Bid{
			ProposalID:    prop.ID,
			TaskID:        prop.Task.ID,
			NodeID:        self.ID,
			Confidence:    est.Confidence,
			EstimatedTime: est.Time,
			EstimatedCost: est.Cost,
			Workload:      self.Workload,
			Hops:          prop.Hops + 1,
		}
		payload, err := codec.Marshal(bid)
		if err != nil {
			return err
		}
		p.stats.bids.Add(1)
		return p.transport.Send(ctx, prop.Origin, domain.Envelope{Kind: kindBid, Payload: payload})
	}

	prop.TTL--
	if prop.TTL <= 0 {
		p.stats.expired.Add(1)
		return nil
	}
	prop.Hops++
	payload, err := codec.Marshal(prop)
	if err != nil {
		return err
	}
	for _, n := range p.Neighbors() {
		if n == env.From || n == prop.Origin {
			continue
		}
		p.stats.forwarded.Add(1)
		if err := p.transport.Send(ctx, n, domain.Envelope{Kind: kindProposal, Payload: payload}); err != nil {
			p.log.Debug("forward failed", zap.String("peer", n), zap.Error(err))
		}
	}
	return nil
}

// RequestCollaboration asks the neighbors which of subtasks they can take.
// Collection ends at the response threshold or the response timeout.
func (p *Peer) RequestCollaboration(ctx context.Context, subtasks []*domain.Task) ([]CollaborationReply, error) {
	neighbors := p.Neighbors()
	if len(subtasks) == 0 || len(neighbors) == 0 {
		return nil, nil
	}
	req := CollaborationRequest{ID: uuid.NewString(), Origin: p.ID(), Subtasks: subtasks}
	ch := make(chan CollaborationReply, len(neighbors))
	p.waitMu.Lock()
	p.replies[req.ID] = ch
	p.waitMu.Unlock()
	defer func() {
		p.waitMu.Lock()
		delete(p.replies, req.ID)
		p.waitMu.Unlock()
	}()

	payload, err := codec.Marshal(req)
	if err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		if err := p.transport.Send(ctx, n, domain.Envelope{Kind: kindCollab, Payload: payload}); err != nil {
			p.log.Debug("collaboration request not delivered", zap.String("peer", n), zap.Error(err))
		}
	}

	need := p.required(len(neighbors))
	timer := time.NewTimer(p.cfg.ResponseTimeout)
	defer timer.Stop()
	var out []CollaborationReply
	for len(out) < need {
		select {
		case r := <-ch:
			out = append(out, r)
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, nil
		}
	}
	return out, nil
}

func (p *Peer) handleCollaboration(ctx context.Context, env domain.Envelope) error {
	var req CollaborationRequest
	if err := codec.Unmarshal(env.Payload, &req); err != nil {
		return err
	}
	reply := CollaborationReply{RequestID: req.ID, NodeID: p.ID()}
	for _, st := range req.Subtasks {
		if est, ok := p.canTake(st); ok {
			reply.Accepted = append(reply.Accepted, st.ID)
			reply.EstimatedTime += est.Time
		}
	}
	payload, err := codec.Marshal(reply)
	if err != nil {
		return err
	}
	return p.transport.Send(ctx, req.Origin, domain.Envelope{Kind: kindCollabReply, Payload: payload})
}

// Dispatch runs task on workerID, locally when it names this node, and waits for the result
func (p *Peer) Dispatch(ctx context.Context, workerID string, task *domain.Task) (domain.ExecutionResult, error) {
	if workerID == p.ID() {
		return p.executeLocal(ctx, task)
	}
	req := executeRequest{ID: uuid.NewString(), Task: task}
	ch := make(chan executeReply, 1)
	p.waitMu.Lock()
	p.calls[req.ID] = ch
	p.waitMu.Unlock()
	defer func() {
		p.waitMu.Lock()
		delete(p.calls, req.ID)
		p.waitMu.Unlock()
	}()

	payload, err := codec.Marshal(req)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if err := p.transport.Send(ctx, workerID, domain.Envelope{Kind: kindExecute, Payload: payload}); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("dispatch %s to %s: %w", task.ID, workerID, err)
	}

	timer := time.NewTimer(p.cfg.DispatchTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.Error != "" {
			return r.Result, fmt.Errorf("worker %s: %s", workerID, r.Error)
		}
		return r.Result, nil
	case <-timer.C:
		return domain.ExecutionResult{}, fmt.Errorf("%w: worker %s did not answer for %s within %s", domain.ErrTimeout, workerID, task.ID, p.cfg.DispatchTimeout)
	case <-ctx.Done():
		return domain.ExecutionResult{}, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
}

func (p *Peer) handleExecute(env domain.Envelope) error {
	var req executeRequest
	if err := codec.Unmarshal(env.Payload, &req); err != nil {
		return err
	}
	if req.Task == nil {
		return fmt.Errorf("%w: execute request without task", domain.ErrInvalidTask)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DispatchTimeout)
		defer cancel()

		reply := executeReply{ID: req.ID}
		res, err := p.executeLocal(ctx, req.Task)
		reply.Result = res
		if err != nil {
			reply.Error = err.Error()
		}
		payload, err := codec.Marshal(reply)
		if err != nil {
			p.log.Error("failed to encode execution reply", zap.Error(err))
			return
		}
		if err := p.transport.Send(ctx, env.From, domain.Envelope{Kind: kindExecuteReply, Payload: payload}); err != nil {
			p.log.Warn("execution reply not delivered", zap.String("peer", env.From), zap.Error(err))
		}
	}()
	return nil
}

// executeLocal runs task on the local executor and reflects the load in the gossiped workload
func (p *Peer) executeLocal(ctx context.Context, task *domain.Task) (domain.ExecutionResult, error) {
	if p.executor == nil {
		return domain.ExecutionResult{}, fmt.Errorf("%w: node %s has no executor", domain.ErrCapabilityMismatch, p.ID())
	}
	p.adjustLoad(1)
	defer p.adjustLoad(-1)
	p.stats.executions.Add(1)

	res, err := p.executor.Execute(ctx, task)
	res.TaskID = task.ID
	res.WorkerID = p.ID()
	return res, err
}

func (p *Peer) adjustLoad(delta int) {
	p.UpdateLocalState(func(w *domain.Worker) {
		p.running += delta
		par := w.Capabilities.MaxParallel
		if par < 1 {
			par = 1
		}
		w.Workload = float64(p.running) / float64(par) * 100
	})
}

func (p *Peer) restoreView(ctx context.Context) {
	if p.store == nil {
		return
	}
	data, err := p.store.LoadView(ctx, p.ID())
	if err != nil {
		p.log.Warn("failed to load persisted view", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}
	var states []PeerState
	if err := codec.Unmarshal(data, &states); err != nil {
		p.log.Warn("discarding corrupt persisted view", zap.Error(err))
		return
	}
	for _, s := range states {
		if s.NodeID != p.ID() {
			p.view.Merge(s)
		}
	}
}

func (p *Peer) saveView(ctx context.Context) {
	if p.store == nil {
		return
	}
	data, err := codec.Marshal(p.view.Snapshot())
	if err != nil {
		p.log.Error("failed to encode view", zap.Error(err))
		return
	}
	if err := p.store.SaveView(ctx, p.ID(), data); err != nil {
		p.log.Warn("failed to persist view", zap.Error(err))
	}
}
