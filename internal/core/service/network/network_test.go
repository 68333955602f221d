package network

import (
	"context"
	"testing"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/adapter/storage/memory"
	"github.com/crabzie/swarm-coordinator/internal/adapter/transport/local"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubExecutor struct {
	delay time.Duration
}

func (s stubExecutor) Execute(ctx context.Context, task *domain.Task) (domain.ExecutionResult, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return domain.ExecutionResult{Error: ctx.Err().Error()}, ctx.Err()
	}
	return domain.ExecutionResult{Success: true, Quality: 0.9, Output: "done " + task.ID}, nil
}

func worker(id string, domains ...string) *domain.Worker {
	return &domain.Worker{
		ID: id,
		Capabilities: domain.Capabilities{
			Domains:       domains,
			MaxComplexity: 10,
			MaxParallel:   2,
		},
		Reputation: 0.8,
		Status:     domain.WorkerStatusActive,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GossipInterval = 0
	cfg.ResponseTimeout = 300 * time.Millisecond
	cfg.DispatchTimeout = time.Second
	cfg.Seed = 7
	return cfg
}

func startPeer(t *testing.T, hub *local.Hub, w *domain.Worker, cfg Config, opts ...Option) *Peer {
	t.Helper()
	tr := hub.Join(w.ID)
	t.Cleanup(func() { _ = tr.Close() })
	p, err := NewPeer(cfg, w, tr, zap.NewNop(), opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Stop(context.Background()) })
	return p
}

// line builds a-b-c where only adjacent nodes know each other
func line(t *testing.T, cfg Config) (a, b, c *Peer) {
	hub := local.NewHub(zap.NewNop())
	a = startPeer(t, hub, worker("a", "backend"), cfg)

	cb := cfg
	cb.Seeds = []string{"a"}
	b = startPeer(t, hub, worker("b", "backend"), cb)

	cc := cfg
	cc.Seeds = []string{"b"}
	c = startPeer(t, hub, worker("c", "security"), cc)
	return a, b, c
}

func TestViewMergeLastWriteWins(t *testing.T) {
	v := NewView()
	assert.True(t, v.Merge(PeerState{NodeID: "x", Version: 2, Workload: 20}))
	assert.False(t, v.Merge(PeerState{NodeID: "x", Version: 1, Workload: 90}), "older version must not overwrite")
	assert.False(t, v.Merge(PeerState{NodeID: "x", Version: 2, Workload: 90}), "same version must not overwrite")
	assert.True(t, v.Merge(PeerState{NodeID: "x", Version: 3, Workload: 40}))
	assert.False(t, v.Merge(PeerState{}))

	s, ok := v.Get("x")
	require.True(t, ok)
	assert.Equal(t, 40.0, s.Workload)
	assert.Equal(t, uint64(3), s.Version)

	assert.True(t, v.Remove("x"))
	assert.False(t, v.Remove("x"))
	assert.Equal(t, 0, v.Len())
}

func TestSelectNeighborsPrefersComplementaryPeers(t *testing.T) {
	self := worker("self", "backend")
	candidates := []PeerState{
		{NodeID: "same", Capabilities: domain.Capabilities{Domains: []string{"backend"}}, Reputation: 0.9, Status: domain.WorkerStatusActive},
		{NodeID: "novel", Capabilities: domain.Capabilities{Domains: []string{"security"}}, Reputation: 0.9, Status: domain.WorkerStatusActive},
		{NodeID: "busy", Capabilities: domain.Capabilities{Domains: []string{"security"}}, Reputation: 0.9, Workload: 100, Status: domain.WorkerStatusActive},
		{NodeID: "gone", Capabilities: domain.Capabilities{Domains: []string{"security"}}, Reputation: 1, Status: domain.WorkerStatusInactive},
		{NodeID: "self", Status: domain.WorkerStatusActive},
	}

	got := selectNeighbors(self, candidates, 2)
	assert.Equal(t, []string{"novel", "busy"}, got)

	all := selectNeighbors(self, candidates, 10)
	assert.Equal(t, []string{"novel", "busy", "same"}, all)
}

func TestConnectionScoreBounds(t *testing.T) {
	self := domain.Capabilities{Domains: []string{"backend"}}
	best := ConnectionScore(self, PeerState{Capabilities: domain.Capabilities{Domains: []string{"ml"}}, Reputation: 1})
	worst := ConnectionScore(self, PeerState{Capabilities: domain.Capabilities{Domains: []string{"backend"}}, Workload: 100})
	assert.InDelta(t, 0.5*0.5+0.3+0.2, best, 1e-9)
	assert.InDelta(t, 0, worst, 1e-9)
}

func TestNewPeerRejectsForeignTransport(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	_, err := NewPeer(testConfig(), worker("a"), hub.Join("b"), zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	bad := testConfig()
	bad.ProposalTTL = 0
	_, err = NewPeer(bad, worker("a"), hub.Join("a"), zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestJoinLearnsSeedState(t *testing.T) {
	a, b, c := line(t, testConfig())

	assert.Equal(t, []string{"b"}, a.Neighbors())
	assert.ElementsMatch(t, []string{"a", "c"}, b.Neighbors())
	assert.Equal(t, []string{"b"}, c.Neighbors())

	_, ok := a.View().Get("c")
	assert.False(t, ok, "welcome carries only the seed's own state")
}

func TestJoinFailsWhenNoSeedAnswers(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	_ = hub.Join("silent") // joined but never reads
	p := startPeer(t, hub, worker("a"), testConfig())

	err := p.Join(context.Background(), "silent")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Empty(t, p.Neighbors())
}

func TestProposalForwardedUntilCapableNode(t *testing.T) {
	a, b, c := line(t, testConfig())

	task := &domain.Task{ID: "audit", Complexity: 4, Domains: []string{"security"}}
	neg, err := a.ProposeTask(context.Background(), task)
	require.NoError(t, err)

	require.NotNil(t, neg.Winner)
	assert.Equal(t, "c", neg.Winner.NodeID)
	assert.Equal(t, 2, neg.Winner.Hops)
	assert.False(t, neg.TimedOut)

	assert.Equal(t, int64(1), b.Stats().ProposalsForwarded, "never forwarded back to the sender")
	assert.Equal(t, int64(1), c.Stats().BidsSent)
}

func TestProposalDroppedWhenTTLExpires(t *testing.T) {
	cfg := testConfig()
	cfg.ProposalTTL = 1
	a, b, c := line(t, cfg)

	task := &domain.Task{ID: "audit", Complexity: 4, Domains: []string{"security"}}
	neg, err := a.ProposeTask(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, neg.TimedOut)
	assert.Nil(t, neg.Winner)
	assert.Empty(t, neg.Bids)
	assert.Equal(t, int64(1), b.Stats().ProposalsExpired)
	assert.Equal(t, int64(0), b.Stats().ProposalsForwarded)
	assert.Equal(t, int64(0), c.Stats().ProposalsReceived)
}

func TestProposeWithoutNeighbors(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	p := startPeer(t, hub, worker("alone"), testConfig())

	neg, err := p.ProposeTask(context.Background(), &domain.Task{ID: "t", Complexity: 1})
	require.NoError(t, err)
	assert.True(t, neg.TimedOut)
	assert.Empty(t, neg.Bids)

	_, err = p.ProposeTask(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTask)
}

func TestBidOrdering(t *testing.T) {
	assert.True(t, betterBid(Bid{NodeID: "b", Confidence: 0.9}, Bid{NodeID: "a", Confidence: 0.5}))
	assert.True(t, betterBid(Bid{NodeID: "b", Confidence: 0.5, EstimatedTime: time.Second}, Bid{NodeID: "a", Confidence: 0.5, EstimatedTime: time.Minute}))
	assert.True(t, betterBid(Bid{NodeID: "a", Confidence: 0.5}, Bid{NodeID: "b", Confidence: 0.5}))
}

func TestGossipConverges(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	cfg := testConfig()
	ids := []string{"g0", "g1", "g2", "g3", "g4"}
	peers := make([]*Peer, len(ids))
	for i, id := range ids {
		c := cfg
		if i > 0 {
			c.Seeds = []string{ids[i-1]}
		}
		peers[i] = startPeer(t, hub, worker(id, "backend"), c)
	}

	peers[0].UpdateLocalState(func(w *domain.Worker) { w.Workload = 80 })

	ctx := context.Background()
	require.Eventually(t, func() bool {
		for _, p := range peers {
			p.GossipRound(ctx)
		}
		for _, p := range peers {
			if p.View().Len() != len(ids) {
				return false
			}
		}
		s, ok := peers[len(peers)-1].View().Get("g0")
		return ok && s.Workload == 80
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRequestCollaboration(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	cfg := testConfig()
	origin := startPeer(t, hub, worker("origin", "frontend"), cfg)

	cfg.Seeds = []string{"origin"}
	startPeer(t, hub, worker("be", "backend"), cfg)
	startPeer(t, hub, worker("sec", "security"), cfg)
	origin.RecomputeNeighbors()
	require.Len(t, origin.Neighbors(), 2)

	subtasks := []*domain.Task{
		{ID: "api", Complexity: 3, Domains: []string{"backend"}},
		{ID: "scan", Complexity: 3, Domains: []string{"security"}},
	}
	replies, err := origin.RequestCollaboration(context.Background(), subtasks)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	accepted := make(map[string][]string)
	for _, r := range replies {
		accepted[r.NodeID] = r.Accepted
		assert.Positive(t, r.EstimatedTime)
	}
	assert.Equal(t, []string{"api"}, accepted["be"])
	assert.Equal(t, []string{"scan"}, accepted["sec"])
}

func TestDispatchRemoteAndLocal(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	cfg := testConfig()
	a := startPeer(t, hub, worker("a"), cfg, WithExecutor(stubExecutor{}))
	cfg.Seeds = []string{"a"}
	b := startPeer(t, hub, worker("b"), cfg, WithExecutor(stubExecutor{delay: 20 * time.Millisecond}))

	task := &domain.Task{ID: "t1", Complexity: 2}
	res, err := a.Dispatch(context.Background(), "b", task)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "b", res.WorkerID)
	assert.Equal(t, "t1", res.TaskID)
	assert.Equal(t, int64(1), b.Stats().Executions)

	res, err = a.Dispatch(context.Background(), "a", task)
	require.NoError(t, err)
	assert.Equal(t, "a", res.WorkerID)

	assert.Equal(t, 0.0, b.Self().Workload, "workload released after execution")
}

func TestDispatchTimesOut(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	_ = hub.Join("mute")
	cfg := testConfig()
	cfg.DispatchTimeout = 200 * time.Millisecond
	a := startPeer(t, hub, worker("a"), cfg)

	_, err := a.Dispatch(context.Background(), "mute", &domain.Task{ID: "t1", Complexity: 1})
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestDispatchWithoutExecutor(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	a := startPeer(t, hub, worker("a"), testConfig())
	_, err := a.Dispatch(context.Background(), "a", &domain.Task{ID: "t1", Complexity: 1})
	assert.ErrorIs(t, err, domain.ErrCapabilityMismatch)
}

func TestLeaveRemovesNode(t *testing.T) {
	a, b, _ := line(t, testConfig())
	b.Leave(context.Background())

	require.Eventually(t, func() bool {
		_, ok := a.View().Get("b")
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, a.Neighbors())
	assert.Equal(t, domain.WorkerStatusInactive, b.Self().Status)
}

func TestEvictIgnoresSelf(t *testing.T) {
	a, _, _ := line(t, testConfig())
	a.Evict("a")
	_, ok := a.View().Get("a")
	assert.True(t, ok)

	a.Evict("b")
	assert.Empty(t, a.Neighbors())
}

func TestViewRemoveLeavesTombstone(t *testing.T) {
	v := NewView()
	require.True(t, v.Merge(PeerState{NodeID: "x", Version: 3}))
	require.True(t, v.Remove("x"))

	assert.False(t, v.Merge(PeerState{NodeID: "x", Version: 3}), "stale gossip must not resurrect a removed node")
	assert.False(t, v.Merge(PeerState{NodeID: "x", Version: 2}))
	assert.True(t, v.Merge(PeerState{NodeID: "x", Version: 4}))

	require.True(t, v.Remove("x"))
	v.Readmit("x")
	assert.True(t, v.Merge(PeerState{NodeID: "x", Version: 1}), "a readmitted node starts over")
}

func TestEvictedNodeStaysOutDespiteGossip(t *testing.T) {
	a, b, c := line(t, testConfig())
	ctx := context.Background()
	require.Eventually(t, func() bool {
		for _, p := range []*Peer{a, b, c} {
			p.GossipRound(ctx)
		}
		return a.View().Len() == 3 && c.View().Len() == 3
	}, 3*time.Second, 50*time.Millisecond)

	a.Evict("b")
	c.UpdateLocalState(func(w *domain.Worker) { w.Workload = 55 })

	require.Eventually(t, func() bool {
		b.GossipRound(ctx)
		c.GossipRound(ctx)
		s, ok := a.View().Get("c")
		return ok && s.Workload == 55
	}, 3*time.Second, 50*time.Millisecond)

	_, ok := a.View().Get("b")
	assert.False(t, ok)
	assert.NotContains(t, a.Neighbors(), "b")
	assert.Contains(t, a.Neighbors(), "c")
}

func TestEvictedNodeIsIgnored(t *testing.T) {
	a, b, _ := line(t, testConfig())
	a.Evict("b")

	neg, err := b.ProposeTask(context.Background(), &domain.Task{ID: "t", Complexity: 2, Domains: []string{"backend"}})
	require.NoError(t, err)
	assert.Nil(t, neg.Winner)
	assert.Equal(t, int64(0), a.Stats().ProposalsReceived)
	assert.Equal(t, int64(0), a.Stats().BidsSent)

	err = b.Join(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrTimeout)
	_, ok := a.View().Get("b")
	assert.False(t, ok)
}

func TestLeftNodeCanJoinAgain(t *testing.T) {
	a, b, _ := line(t, testConfig())
	b.Leave(context.Background())
	require.Eventually(t, func() bool {
		_, ok := a.View().Get("b")
		return !ok
	}, time.Second, 10*time.Millisecond)

	b.UpdateLocalState(func(w *domain.Worker) { w.Status = domain.WorkerStatusActive })
	require.NoError(t, b.Join(context.Background(), "a"))

	s, ok := a.View().Get("b")
	require.True(t, ok)
	assert.Equal(t, domain.WorkerStatusActive, s.Status)
	assert.Contains(t, a.Neighbors(), "b")
}

func TestJoinIgnoresDuplicateSeeds(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	startPeer(t, hub, worker("a", "backend"), testConfig())
	p := startPeer(t, hub, worker("p", "security"), testConfig())

	require.NoError(t, p.Join(context.Background(), "a", "a", "p"))
	assert.Equal(t, []string{"a"}, p.Neighbors())
}

func TestViewSurvivesRestart(t *testing.T) {
	hub := local.NewHub(zap.NewNop())
	store := memory.NewViews()
	cfg := testConfig()

	tr := hub.Join("p")
	p, err := NewPeer(cfg, worker("p"), tr, zap.NewNop(), WithViewStore(store))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	p.View().Merge(PeerState{NodeID: "q", Version: 4, Status: domain.WorkerStatusActive})
	p.Stop(context.Background())
	require.NoError(t, tr.Close())

	tr2 := hub.Join("p")
	t.Cleanup(func() { _ = tr2.Close() })
	p2, err := NewPeer(cfg, worker("p"), tr2, zap.NewNop(), WithViewStore(store))
	require.NoError(t, err)
	require.NoError(t, p2.Start(context.Background()))
	t.Cleanup(func() { p2.Stop(context.Background()) })

	s, ok := p2.View().Get("q")
	require.True(t, ok)
	assert.Equal(t, uint64(4), s.Version)
	assert.Equal(t, []string{"q"}, p2.Neighbors())
}
