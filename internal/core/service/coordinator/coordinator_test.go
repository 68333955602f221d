package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/adapter/storage/memory"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/service/healing"
	"github.com/crabzie/swarm-coordinator/internal/core/service/network"
	"github.com/crabzie/swarm-coordinator/internal/core/service/notify"
	"github.com/crabzie/swarm-coordinator/internal/core/service/optimizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeDispatcher struct {
	fail  map[string]bool // worker ids whose executions fail
	block bool
	delay time.Duration

	mu     sync.Mutex
	events []string
	calls  []string
}

func (d *fakeDispatcher) log(ev string) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, workerID string, task *domain.Task) (domain.ExecutionResult, error) {
	d.mu.Lock()
	d.calls = append(d.calls, task.ID+"@"+workerID)
	d.mu.Unlock()
	d.log("start:" + task.ID)
	defer d.log("end:" + task.ID)

	if d.block {
		<-ctx.Done()
		return domain.ExecutionResult{}, ctx.Err()
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.fail[workerID] {
		return domain.ExecutionResult{Success: false, Error: "boom"}, nil
	}
	return domain.ExecutionResult{Success: true, Quality: 0.9, Duration: 5 * time.Millisecond}, nil
}

func (d *fakeDispatcher) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDispatcher) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

type fakeNegotiator struct {
	registry *memory.Registry
	noBids   bool

	mu       sync.Mutex
	proposed []string
	evicted  []string
}

func (n *fakeNegotiator) ProposeTask(ctx context.Context, task *domain.Task) (*network.Negotiation, error) {
	n.mu.Lock()
	n.proposed = append(n.proposed, task.ID)
	n.mu.Unlock()
	neg := &network.Negotiation{ProposalID: "p-" + task.ID, TaskID: task.ID}
	if n.noBids {
		neg.TimedOut = true
		return neg, nil
	}
	workers, _ := n.registry.GetActiveWorkers(ctx)
	for _, w := range workers {
		est := optimizer.EstimatePair(task, w)
		if est.Match.Capable {
			b := network.Bid{ProposalID: neg.ProposalID, TaskID: task.ID, NodeID: w.ID, Confidence: est.Confidence, EstimatedTime: est.Time}
			neg.Bids = append(neg.Bids, b)
			neg.Winner = &b
			return neg, nil
		}
	}
	neg.TimedOut = true
	return neg, nil
}

func (n *fakeNegotiator) Evict(id string) {
	n.mu.Lock()
	n.evicted = append(n.evicted, id)
	n.mu.Unlock()
}

func (n *fakeNegotiator) Proposed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.proposed...)
}

type fakeAgreement struct {
	reject bool

	mu     sync.Mutex
	values []json.RawMessage
}

func (a *fakeAgreement) Propose(_ context.Context, value json.RawMessage) (*domain.ConsensusResult, error) {
	a.mu.Lock()
	a.values = append(a.values, value)
	a.mu.Unlock()
	if a.reject {
		return &domain.ConsensusResult{Success: false, Quorum: 3, RejectVotes: 2, Reason: "quorum not reached within timeout"}, nil
	}
	return &domain.ConsensusResult{Success: true, Quorum: 3, AcceptVotes: 4, Value: value}, nil
}

func (a *fakeAgreement) Values() []json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]json.RawMessage(nil), a.values...)
}

type fakeProbe struct {
	pressure float64
	err      error
}

func (p fakeProbe) MemoryPressure(context.Context) (float64, error) { return p.pressure, p.err }

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) Has(t domain.EventType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func worker(id string, domains ...string) *domain.Worker {
	return &domain.Worker{
		ID: id,
		Capabilities: domain.Capabilities{
			Domains:       domains,
			MaxComplexity: 10,
			MaxParallel:   4,
		},
		Reputation: 0.8,
		Status:     domain.WorkerStatusActive,
	}
}

func pool(n int, domains ...string) []*domain.Worker {
	out := make([]*domain.Worker, n)
	for i := range out {
		out[i] = worker(fmt.Sprintf("w%d", i), domains...)
	}
	return out
}

func composite(id string, complexity, subtasks int, domains ...string) *domain.Task {
	t := &domain.Task{ID: id, Complexity: complexity, Domains: domains, Priority: domain.PriorityMedium}
	for i := 0; i < subtasks; i++ {
		t.Subtasks = append(t.Subtasks, &domain.Task{
			ID:         fmt.Sprintf("%s-%d", id, i),
			Complexity: 2,
			Domains:    domains,
			Priority:   domain.PriorityMedium,
		})
	}
	return t
}

func testOptimizerConfig() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.Seed = 1
	cfg.PSO.SwarmSize = 10
	cfg.PSO.MaxIterations = 20
	cfg.ACO.Ants = 5
	cfg.ACO.Iterations = 10
	return cfg
}

type fixture struct {
	c          *Coordinator
	registry   *memory.Registry
	plans      *memory.Plans
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T, cfg Config, workers []*domain.Worker, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		registry:   memory.NewRegistry(),
		plans:      memory.NewPlans(),
		dispatcher: &fakeDispatcher{fail: map[string]bool{}},
	}
	for _, w := range workers {
		require.NoError(t, f.registry.RegisterWorker(context.Background(), w))
	}
	opt, err := optimizer.New(testOptimizerConfig())
	require.NoError(t, err)
	opts = append([]Option{WithPlanRepository(f.plans)}, opts...)
	f.c, err = New(cfg, f.registry, f.dispatcher, opt, zap.NewNop(), opts...)
	require.NoError(t, err)
	return f
}

func TestRuleSelector(t *testing.T) {
	s := NewRuleSelector(DefaultConfig())
	tests := []struct {
		name      string
		task      *domain.Task
		pool      int
		health    float64
		mode      domain.CoordinationMode
		consensus bool
	}{
		{"critical priority", &domain.Task{ID: "t", Complexity: 2, Priority: domain.PriorityCritical}, 12, 1, domain.ModeDecentralized, true},
		{"security tag", &domain.Task{ID: "t", Complexity: 2, Domains: []string{"Security"}}, 12, 1, domain.ModeDecentralized, true},
		{"financial description", &domain.Task{ID: "t", Complexity: 2, Description: "Reconcile the financial ledger"}, 12, 1, domain.ModeDecentralized, true},
		{"failover", &domain.Task{ID: "t", Complexity: 2}, 12, 0.3, domain.ModeDecentralized, false},
		{"large pool low complexity", &domain.Task{ID: "t", Complexity: 3}, 10, 1, domain.ModeCentralized, false},
		{"high complexity many subtasks", composite("t", 9, 6), 12, 1, domain.ModeDecentralized, false},
		{"high complexity few subtasks", composite("t", 9, 2), 12, 1, domain.ModeHybrid, false},
		{"small pool", &domain.Task{ID: "t", Complexity: 2}, 3, 1, domain.ModeHybrid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.Select(tt.task, tt.pool, tt.health)
			assert.Equal(t, tt.mode, d.Mode)
			assert.Equal(t, tt.consensus, d.RequiresConsensus)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestFallbackTargetsOtherPrimaryMode(t *testing.T) {
	assert.Equal(t, domain.ModeDecentralized, fallback(domain.ModeCentralized))
	assert.Equal(t, domain.ModeCentralized, fallback(domain.ModeDecentralized))
	assert.Equal(t, domain.ModeCentralized, fallback(domain.ModeHybrid))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.LowComplexity = 8
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MaxConcurrentExecutions = 0
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidConfig)

	_, err := New(DefaultConfig(), nil, nil, nil, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestHealthChecker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentExecutions = 2
	cfg.HealthWindow = 4
	cfg.SlowResponse = time.Second
	h := NewHealthChecker(cfg, nil)
	ctx := context.Background()

	assert.Equal(t, 1.0, h.Check(ctx).Score)

	end1, end2 := h.Begin(), h.Begin()
	r := h.Check(ctx)
	assert.Equal(t, int64(2), r.Active)
	assert.InDelta(t, 0.8, r.Score, 1e-9)

	end1(false, time.Second)
	end1(false, time.Second) // recorded once
	end2(false, time.Second)
	r = h.Check(ctx)
	assert.Equal(t, int64(0), r.Active)
	assert.Equal(t, 1.0, r.FailureRate)
	assert.Equal(t, time.Second, r.AverageResponse)
	assert.InDelta(t, 0.5, r.Score, 1e-9)

	for i := 0; i < 4; i++ {
		h.Record(true, 0)
	}
	assert.Equal(t, 1.0, h.Check(ctx).Score, "window forgets old outcomes")

	withMemory := NewHealthChecker(cfg, fakeProbe{pressure: 0.5})
	assert.InDelta(t, 0.85, withMemory.Check(ctx).Score, 1e-9)

	broken := NewHealthChecker(cfg, fakeProbe{err: errors.New("no procfs")})
	r = broken.Check(ctx)
	assert.Equal(t, 1.0, r.Score)
	assert.NotEmpty(t, r.MemoryError)
}

func ids(wave []*domain.Task) []string {
	out := make([]string, len(wave))
	for i, t := range wave {
		out[i] = t.ID
	}
	return out
}

func TestWaves(t *testing.T) {
	root := &domain.Task{ID: "root", Complexity: 5, Subtasks: []*domain.Task{
		{ID: "a", Complexity: 1},
		{ID: "b", Complexity: 1, Dependencies: []string{"a"}},
		{ID: "c", Complexity: 1, Dependencies: []string{"a", "unknown"}},
		{ID: "g", Complexity: 1, Dependencies: []string{"b"}, Subtasks: []*domain.Task{
			{ID: "g1", Complexity: 1},
			{ID: "g2", Complexity: 1, Dependencies: []string{"c"}},
		}},
		{ID: "e", Complexity: 1, Dependencies: []string{"g"}},
	}}
	levels, err := waves(root)
	require.NoError(t, err)
	require.Len(t, levels, 4)
	assert.Equal(t, []string{"a"}, ids(levels[0]))
	assert.Equal(t, []string{"b", "c"}, ids(levels[1]))
	assert.Equal(t, []string{"g1", "g2"}, ids(levels[2]))
	assert.Equal(t, []string{"e"}, ids(levels[3]))

	single, err := waves(&domain.Task{ID: "solo", Complexity: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]*domain.Task{{{ID: "solo", Complexity: 1}}}, single)

	cyclic := &domain.Task{ID: "root", Complexity: 1, Subtasks: []*domain.Task{
		{ID: "x", Complexity: 1, Dependencies: []string{"y"}},
		{ID: "y", Complexity: 1, Dependencies: []string{"x"}},
	}}
	_, err = waves(cyclic)
	assert.ErrorIs(t, err, domain.ErrInvalidTask)
}

func TestInvalidTask(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(3, "backend"))
	_, err := f.c.CoordinateTask(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTask)

	_, err = f.c.CoordinateTask(context.Background(), &domain.Task{ID: "t", Complexity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidTask)

	_, err = f.c.CoordinateTask(context.Background(), &domain.Task{ID: "t", Complexity: 1, Subtasks: []*domain.Task{
		{ID: "x", Complexity: 1, Dependencies: []string{"y"}},
		{ID: "y", Complexity: 1, Dependencies: []string{"x"}},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidTask)
	assert.Empty(t, f.dispatcher.Calls())
}

func TestCentralizedCoordination(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(10, "backend"))
	task := composite("job", 2, 3, "backend")

	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, out.Success, out.Reason)
	assert.Equal(t, domain.ModeCentralized, out.Mode)
	assert.False(t, out.FallbackUsed)
	require.NotNil(t, out.Plan)
	assert.Len(t, out.Plan.Assignments, 3)
	require.Len(t, out.Results, 3)
	for _, r := range out.Results {
		assert.True(t, r.Success)
		assert.Equal(t, domain.TaskStatusCompleted, f.plans.Status(r.TaskID))
	}
	assert.Equal(t, domain.TaskStatusCompleted, f.plans.Status("job"))
	assert.Len(t, f.dispatcher.Calls(), 3)

	saved, err := f.plans.GetPlan(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCentralized, saved.Mode)
}

func TestDependenciesExecuteInOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(10, "backend"))
	f.dispatcher.delay = 10 * time.Millisecond
	task := &domain.Task{ID: "job", Complexity: 2, Subtasks: []*domain.Task{
		{ID: "build", Complexity: 2, Domains: []string{"backend"}},
		{ID: "test", Complexity: 2, Domains: []string{"backend"}, Dependencies: []string{"build"}},
		{ID: "deploy", Complexity: 2, Domains: []string{"backend"}, Dependencies: []string{"test"}},
	}}

	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	require.True(t, out.Success, out.Reason)

	events := f.dispatcher.Events()
	at := func(ev string) int {
		for i, e := range events {
			if e == ev {
				return i
			}
		}
		t.Fatalf("missing event %s", ev)
		return -1
	}
	assert.Less(t, at("end:build"), at("start:test"))
	assert.Less(t, at("end:test"), at("start:deploy"))
}

func TestDecentralizedFallsBackToCentralized(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(12, "backend"))
	neg := &fakeNegotiator{registry: f.registry, noBids: true}
	f.c.negotiator = neg

	out, err := f.c.CoordinateTask(context.Background(), composite("big", 9, 6, "backend"))
	require.NoError(t, err)
	assert.True(t, out.Success, out.Reason)
	assert.True(t, out.FallbackUsed)
	assert.Equal(t, domain.ModeCentralized, out.Mode)
	assert.NotEmpty(t, neg.Proposed())
	assert.Len(t, out.Results, 6)
}

func TestFallbackIsAttemptedOnce(t *testing.T) {
	workers := pool(12, "backend")
	f := newFixture(t, DefaultConfig(), workers)
	for _, w := range workers {
		f.dispatcher.fail[w.ID] = true
	}
	neg := &fakeNegotiator{registry: f.registry, noBids: true}
	f.c.negotiator = neg

	out, err := f.c.CoordinateTask(context.Background(), composite("big", 9, 6, "backend"))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.True(t, out.FallbackUsed)
	assert.Contains(t, out.Reason, "failed")
	assert.Len(t, neg.Proposed(), 6, "decentralized planning ran only once")
	assert.Equal(t, domain.TaskStatusFailed, f.plans.Status("big"))
}

func TestCriticalTaskRunsConsensus(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(4, "backend"))
	agreement := &fakeAgreement{}
	f.c.negotiator = &fakeNegotiator{registry: f.registry}
	f.c.consensus = agreement

	task := composite("release", 4, 2, "backend")
	task.Priority = domain.PriorityCritical
	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, out.Success, out.Reason)
	assert.Equal(t, domain.ModeDecentralized, out.Mode)
	require.NotNil(t, out.Consensus)
	assert.True(t, out.Consensus.Success)

	values := agreement.Values()
	require.Len(t, values, 1)
	var v planValue
	require.NoError(t, json.Unmarshal(values[0], &v))
	assert.Equal(t, "release", v.TaskID)
	assert.Len(t, v.Assignments, 2)
}

func TestConsensusFailureSurfaces(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(4, "backend"))
	agreement := &fakeAgreement{reject: true}
	f.c.negotiator = &fakeNegotiator{registry: f.registry}
	f.c.consensus = agreement

	task := composite("payout", 4, 2, "backend")
	task.Description = "financial payout"
	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.True(t, out.FallbackUsed)
	assert.Contains(t, out.Reason, domain.ErrQuorumNotReached.Error())
	require.NotNil(t, out.Consensus)
	assert.False(t, out.Consensus.Success)
	assert.Len(t, agreement.Values(), 2, "original attempt plus one fallback")
	assert.Empty(t, f.dispatcher.Calls(), "nothing runs without agreement")
}

func TestConsensusRequiredWithoutValidators(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(4, "backend"))
	f.c.negotiator = &fakeNegotiator{registry: f.registry}

	task := &domain.Task{ID: "t", Complexity: 2, Priority: domain.PriorityCritical}
	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Reason, "no validator group")
}

func TestHybridRoutesCriticalSubtasks(t *testing.T) {
	workers := []*domain.Worker{worker("be1", "backend"), worker("be2", "backend"), worker("sec", "security")}
	f := newFixture(t, DefaultConfig(), workers)
	neg := &fakeNegotiator{registry: f.registry}
	agreement := &fakeAgreement{}
	f.c.negotiator = neg
	f.c.consensus = agreement

	task := &domain.Task{ID: "feature", Complexity: 5, Subtasks: []*domain.Task{
		{ID: "api", Complexity: 3, Domains: []string{"backend"}},
		{ID: "audit", Complexity: 3, Domains: []string{"security"}},
		{ID: "docs", Complexity: 1, Domains: []string{"backend"}},
	}}
	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, out.Success, out.Reason)
	assert.Equal(t, domain.ModeHybrid, out.Mode)
	assert.Equal(t, []string{"audit"}, neg.Proposed())

	values := agreement.Values()
	require.Len(t, values, 1)
	var v planValue
	require.NoError(t, json.Unmarshal(values[0], &v))
	require.Len(t, v.Assignments, 1)
	assert.Equal(t, planEntry{TaskID: "audit", WorkerID: "sec"}, v.Assignments[0])

	got := make([]string, 0, 3)
	for _, a := range out.Plan.Assignments {
		got = append(got, a.TaskID)
	}
	assert.Equal(t, []string{"api", "audit", "docs"}, got)
	assert.Len(t, out.Results, 3)
}

func TestHybridFallbackKeepsConsensusForCriticalSubtasks(t *testing.T) {
	workers := []*domain.Worker{worker("be1", "backend"), worker("sec", "security")}
	f := newFixture(t, DefaultConfig(), workers)
	agreement := &fakeAgreement{}
	f.c.negotiator = &fakeNegotiator{registry: f.registry, noBids: true}
	f.c.consensus = agreement

	task := &domain.Task{ID: "feature", Complexity: 5, Subtasks: []*domain.Task{
		{ID: "api", Complexity: 3, Domains: []string{"backend"}},
		{ID: "audit", Complexity: 3, Domains: []string{"security"}},
	}}
	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, out.Success, out.Reason)
	assert.True(t, out.FallbackUsed)
	assert.Equal(t, domain.ModeCentralized, out.Mode)
	require.NotNil(t, out.Consensus)

	values := agreement.Values()
	require.Len(t, values, 1, "centralized fallback still agrees on the audit assignment")
	var v planValue
	require.NoError(t, json.Unmarshal(values[0], &v))
	var agreed []string
	for _, e := range v.Assignments {
		agreed = append(agreed, e.TaskID)
	}
	assert.Contains(t, agreed, "audit")
}

func TestHybridFallbackFailsWhenCriticalSubtaskIsRejected(t *testing.T) {
	workers := []*domain.Worker{worker("be1", "backend"), worker("sec", "security")}
	f := newFixture(t, DefaultConfig(), workers)
	f.c.negotiator = &fakeNegotiator{registry: f.registry, noBids: true}
	f.c.consensus = &fakeAgreement{reject: true}

	task := &domain.Task{ID: "feature", Complexity: 5, Subtasks: []*domain.Task{
		{ID: "api", Complexity: 3, Domains: []string{"backend"}},
		{ID: "audit", Complexity: 3, Domains: []string{"security"}},
	}}
	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.True(t, out.FallbackUsed)
	assert.Contains(t, out.Reason, domain.ErrQuorumNotReached.Error())
	assert.Empty(t, f.dispatcher.Calls(), "audit never runs without agreement")
}

type flakyPlans struct {
	*memory.Plans
}

func (p flakyPlans) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, workerID string) error {
	if status == domain.TaskStatusInProgress {
		return errors.New("connection reset")
	}
	return p.Plans.UpdateStatus(ctx, taskID, status, workerID)
}

func TestInProgressStatusErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	registry := memory.NewRegistry()
	require.NoError(t, registry.RegisterWorker(context.Background(), worker("w0", "backend")))
	opt, err := optimizer.New(testOptimizerConfig())
	require.NoError(t, err)
	plans := flakyPlans{memory.NewPlans()}
	c, err := New(DefaultConfig(), registry, &fakeDispatcher{fail: map[string]bool{}}, opt, zap.New(core), WithPlanRepository(plans))
	require.NoError(t, err)

	out, err := c.CoordinateTask(context.Background(), &domain.Task{ID: "t", Complexity: 2, Domains: []string{"backend"}})
	require.NoError(t, err)
	require.True(t, out.Success, out.Reason)

	entries := logs.FilterMessage("failed to update subtask status").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, domain.TaskStatusCompleted, plans.Status("t"))
}

func TestOpenBreakerExcludesWorker(t *testing.T) {
	heal, err := healing.NewManager(healing.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	heal.Trip("w0")
	heal.Trip("w1")

	f := newFixture(t, DefaultConfig(), pool(10, "backend"), WithHealing(heal))
	out, err := f.c.CoordinateTask(context.Background(), composite("job", 2, 4, "backend"))
	require.NoError(t, err)
	require.True(t, out.Success, out.Reason)
	for _, a := range out.Plan.Assignments {
		assert.NotContains(t, []string{"w0", "w1"}, a.WorkerID)
	}
}

func TestCapabilityMismatchIsLowConfidence(t *testing.T) {
	f := newFixture(t, DefaultConfig(), pool(10, "backend"))
	task := &domain.Task{ID: "ml", Complexity: 2, Domains: []string{"ml"}}

	out, err := f.c.CoordinateTask(context.Background(), task)
	require.NoError(t, err)
	require.True(t, out.Success, out.Reason)
	assert.Equal(t, []string{"ml"}, out.Plan.LowConfidenceTasks())
}

func TestRegisterNodeAndExclusion(t *testing.T) {
	heal, err := healing.NewManager(healing.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	f := newFixture(t, DefaultConfig(), nil, WithHealing(heal))
	neg := &fakeNegotiator{registry: f.registry}
	f.c.negotiator = neg
	ctx := context.Background()

	assert.ErrorIs(t, f.c.RegisterNode(ctx, &domain.Worker{}), domain.ErrInvalidConfig)
	require.NoError(t, f.c.RegisterNode(ctx, &domain.Worker{ID: "n1", Capabilities: domain.Capabilities{Domains: []string{"backend"}}}))

	w, err := f.registry.GetWorker(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, w.IsActive())
	_, monitored := heal.Health("n1")
	assert.True(t, monitored)

	f.c.HandleExclusion(ctx, "n1")
	w, err = f.registry.GetWorker(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, w.IsActive())
	assert.Equal(t, []string{"n1"}, neg.evicted)

	issues := heal.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, domain.IssueByzantine, issues[0].Kind)

	f.c.HandleExclusion(ctx, "unknown")
}

func TestSuccessfulExecutionReinforcesPatterns(t *testing.T) {
	pub := &capturePublisher{}
	n := notify.New("coordinator", pub, zap.NewNop())
	t.Cleanup(n.Close)

	registry := memory.NewRegistry()
	for _, w := range pool(10, "backend") {
		require.NoError(t, registry.RegisterWorker(context.Background(), w))
	}
	aco := optimizer.NewACO(func() optimizer.Config {
		cfg := testOptimizerConfig()
		cfg.Algorithm = optimizer.AlgorithmACO
		return cfg
	}())
	c, err := New(DefaultConfig(), registry, &fakeDispatcher{}, aco, zap.NewNop(), WithNotifier(n))
	require.NoError(t, err)

	out, err := c.CoordinateTask(context.Background(), &domain.Task{ID: "t", Complexity: 2, Domains: []string{"backend"}})
	require.NoError(t, err)
	require.True(t, out.Success, out.Reason)

	workerID := out.Plan.Assignments[0].WorkerID
	assert.Positive(t, aco.Pattern("backend", workerID))
	require.Eventually(t, func() bool {
		return pub.Has(domain.EventPatternReinforced) && pub.Has(domain.EventTaskCompleted)
	}, time.Second, 10*time.Millisecond)
}

func TestExecutionTimeoutDoesNotHang(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecutionTimeout = 100 * time.Millisecond
	f := newFixture(t, cfg, pool(10, "backend"))
	f.dispatcher.block = true

	start := time.Now()
	out, err := f.c.CoordinateTask(context.Background(), composite("slow", 2, 2, "backend"))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NotEmpty(t, out.Results)
	for _, r := range out.Results {
		assert.False(t, r.Success)
		assert.True(t, strings.Contains(r.Error, "deadline") || strings.Contains(r.Error, "canceled"), r.Error)
	}
}
