// Package healing monitors swarm components, turns threshold breaches into
// typed health issues and runs bounded recovery strategies against them.
package healing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/crabzie/swarm-coordinator/internal/core/service/notify"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	maxHistory = 256
	rateAlpha  = 0.2 // Weight of the latest outcome in a strategy's success rate
)

type Option func(*Manager)

// WithMetricsSource probes components through an external metrics backend.
// Without one only locally recorded outcomes feed the health score.
func WithMetricsSource(s port.MetricsSource) Option {
	return func(m *Manager) { m.source = s }
}

func WithController(c port.ComponentController) Option {
	return func(m *Manager) { m.controller = c }
}

func WithRecoveryRepository(r port.RecoveryRepository) Option {
	return func(m *Manager) { m.repo = r }
}

func WithMetrics(mt port.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithNotifier(n *notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithStrategies replaces the built-in strategies
func WithStrategies(s ...Strategy) Option {
	return func(m *Manager) { m.strategies = s }
}

// WithClock overrides time.Now for breaker cooldowns
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type component struct {
	id         string
	targetType string
	health     domain.ComponentHealth
	issues     []domain.HealthIssue
	stats      stats
	inFlight   bool
}

// TickReport summarizes one monitoring pass
type TickReport struct {
	Checked  int
	Issues   int
	Started  int
	Deferred int // Left for the next pass because of the recovery cap
}

// Manager is the self-healing loop
type Manager struct {
	cfg        Config
	source     port.MetricsSource
	controller port.ComponentController
	repo       port.RecoveryRepository
	metrics    port.Metrics
	notifier   *notify.Notifier
	strategies []Strategy
	now        func() time.Time
	log        *zap.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu         sync.RWMutex
	components map[string]*component
	rates      map[string]float64
	history    []domain.RecoveryResult

	bmu      sync.Mutex
	breakers map[string]*breaker
}

func NewManager(cfg Config, log *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:        cfg,
		metrics:    port.NopMetrics{},
		strategies: DefaultStrategies(),
		now:        time.Now,
		log:        log.Named("healing"),
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentRecoveries),
		components: make(map[string]*component),
		rates:      make(map[string]float64),
		breakers:   make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, s := range m.strategies {
		info := s.Info()
		m.rates[info.Name] = info.SuccessRate
	}
	return m, nil
}

// RegisterForMonitoring adds a component to the monitored table
func (m *Manager) RegisterForMonitoring(targetType, targetID string) error {
	if targetID == "" {
		return fmt.Errorf("%w: monitoring target id is required", domain.ErrInvalidConfig)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[targetID]; ok {
		return nil
	}
	m.components[targetID] = &component{
		id:         targetID,
		targetType: targetType,
		health: domain.ComponentHealth{
			ComponentID: targetID,
			TargetType:  targetType,
			Score:       1,
			Status:      domain.HealthHealthy,
		},
	}
	m.log.Info("monitoring component", zap.String("component_id", targetID), zap.String("type", targetType))
	return nil
}

func (m *Manager) Unregister(targetID string) {
	m.mu.Lock()
	delete(m.components, targetID)
	m.mu.Unlock()
}

// RecordOutcome feeds one execution outcome of a component into its health
// statistics and its circuit breaker.
func (m *Manager) RecordOutcome(componentID string, success bool, d time.Duration) {
	m.breakerFor(componentID).record(success)
	m.mu.Lock()
	if c, ok := m.components[componentID]; ok {
		c.stats.record(success, d)
	}
	m.mu.Unlock()
}

// Allow reports whether work may be sent to a worker. An open breaker refuses
// until its cooldown elapsed, then admits a single probe.
func (m *Manager) Allow(workerID string) bool {
	return m.breakerFor(workerID).allow()
}

func (m *Manager) BreakerState(workerID string) BreakerState {
	return m.breakerFor(workerID).current()
}

// Trip opens the breaker of a component and reports whether it was closed before
func (m *Manager) Trip(componentID string) bool {
	return m.breakerFor(componentID).trip()
}

func (m *Manager) breakerFor(id string) *breaker {
	m.bmu.Lock()
	defer m.bmu.Unlock()
	b, ok := m.breakers[id]
	if !ok {
		b = newBreaker(m.cfg.BreakerThreshold, m.cfg.BreakerCooldown, m.now)
		m.breakers[id] = b
	}
	return b
}

// Report attaches an externally detected issue, e.g. Byzantine suspicion, to a monitored component
func (m *Manager) Report(issue domain.HealthIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[issue.ComponentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrComponentNotFound, issue.ComponentID)
	}
	if issue.ID == "" {
		issue = newIssue(issue.ComponentID, issue.Severity, issue.Type, issue.Kind, firstOr(issue.Symptoms, string(issue.Kind)))
	}
	if !hasKind(c.issues, issue.Kind) {
		c.issues = append(c.issues, issue)
		m.alert(issue)
	}
	return nil
}

func firstOr(s []string, def string) string {
	if len(s) > 0 {
		return s[0]
	}
	return def
}

// Check probes one component and refreshes its health entry and issues
func (m *Manager) Check(ctx context.Context, componentID string) (domain.ComponentHealth, error) {
	m.mu.RLock()
	c, ok := m.components[componentID]
	var targetType string
	if ok {
		targetType = c.targetType
	}
	m.mu.RUnlock()
	if !ok {
		return domain.ComponentHealth{}, fmt.Errorf("%w: %s", domain.ErrComponentNotFound, componentID)
	}
	t := m.probe(ctx, componentID, targetType)
	m.apply(t)
	return t.Health, nil
}

// probe measures a component without touching the table
func (m *Manager) probe(ctx context.Context, id, targetType string) Target {
	m.mu.RLock()
	var st stats
	prev := domain.ComponentHealth{ComponentID: id, TargetType: targetType, Score: 1, Status: domain.HealthHealthy}
	if c, ok := m.components[id]; ok {
		st = c.stats
		prev = c.health
	}
	m.mu.RUnlock()

	var metrics domain.HealthMetrics
	if m.source != nil {
		pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		got, err := m.source.GetComponentMetrics(pctx, id)
		cancel()
		if err != nil {
			// Keep the last known score; failing to measure is not the same as being unhealthy
			prev.CheckedAt = m.now()
			return Target{ComponentID: id, TargetType: targetType, Health: prev, Issues: []domain.HealthIssue{unreachable(id, err)}}
		}
		metrics = got
	}
	metrics = st.overlay(metrics)

	score := m.cfg.Score(metrics)
	return Target{
		ComponentID: id,
		TargetType:  targetType,
		Health: domain.ComponentHealth{
			ComponentID: id,
			TargetType:  targetType,
			Metrics:     metrics,
			Score:       score,
			Status:      m.cfg.Classify(score),
			CheckedAt:   m.now(),
		},
		Issues: m.cfg.Analyze(id, metrics),
	}
}

// apply stores a probe result. Issues that persist keep their id; reported
// Byzantine issues survive until recovered.
func (m *Manager) apply(t Target) {
	m.mu.Lock()
	c, ok := m.components[t.ComponentID]
	if !ok {
		m.mu.Unlock()
		return
	}
	c.health = t.Health
	var next, fresh []domain.HealthIssue
	for _, is := range t.Issues {
		if old, found := findKind(c.issues, is.Kind); found {
			is = old
		} else {
			fresh = append(fresh, is)
		}
		next = append(next, is)
	}
	for _, is := range c.issues {
		if is.Kind == domain.IssueByzantine {
			next = append(next, is)
		}
	}
	c.issues = next
	m.mu.Unlock()

	m.metrics.SetComponentHealth(t.ComponentID, t.Health.Score)
	for _, is := range fresh {
		m.alert(is)
	}
}

func findKind(issues []domain.HealthIssue, kind domain.IssueKind) (domain.HealthIssue, bool) {
	for _, i := range issues {
		if i.Kind == kind {
			return i, true
		}
	}
	return domain.HealthIssue{}, false
}

func (m *Manager) alert(is domain.HealthIssue) {
	m.log.Warn("health issue detected",
		zap.String("component_id", is.ComponentID),
		zap.String("kind", string(is.Kind)),
		zap.String("severity", string(is.Severity)),
		zap.Strings("symptoms", is.Symptoms))
	m.notifier.Emit(domain.EventHealthAlert, map[string]any{
		"issue_id":     is.ID,
		"component_id": is.ComponentID,
		"kind":         is.Kind,
		"severity":     is.Severity,
	})
}

// Run executes Tick every interval until ctx is cancelled, then waits for in-flight recoveries
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.log.Info("self-healing loop started", zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.log.Info("self-healing loop stopped")
			return
		case <-ticker.C:
			r := m.Tick(ctx)
			if r.Issues > 0 {
				m.log.Info("health pass", zap.Int("checked", r.Checked), zap.Int("issues", r.Issues),
					zap.Int("started", r.Started), zap.Int("deferred", r.Deferred))
			}
		}
	}
}

// Tick checks every component and starts recoveries for open issues, most
// severe first, up to the concurrency cap. One recovery runs per component.
func (m *Manager) Tick(ctx context.Context) TickReport {
	var report TickReport
	m.mu.RLock()
	ids := make([]string, 0, len(m.components))
	for id := range m.components {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := m.Check(ctx, id); err == nil {
			report.Checked++
		}
	}
	m.metrics.SetSystemHealth(m.SystemHealth())

	pending := m.pending()
	report.Issues = len(pending)
	claimed := make(map[string]bool)
	for _, is := range pending {
		if claimed[is.ComponentID] {
			continue
		}
		claimed[is.ComponentID] = true
		if !m.sem.TryAcquire(1) {
			report.Deferred++
			continue
		}
		if !m.claim(is.ComponentID) {
			m.sem.Release(1)
			continue
		}
		report.Started++
		m.wg.Add(1)
		go func(is domain.HealthIssue) {
			defer m.wg.Done()
			defer m.sem.Release(1)
			defer m.unclaim(is.ComponentID)
			m.finish(m.execute(ctx, is))
		}(is)
	}
	return report
}

// Wait blocks until every recovery started by Tick finished
func (m *Manager) Wait() { m.wg.Wait() }

// pending returns the open issues of idle components ordered by severity
func (m *Manager) pending() []domain.HealthIssue {
	m.mu.RLock()
	var out []domain.HealthIssue
	for _, c := range m.components {
		if c.inFlight {
			continue
		}
		out = append(out, c.issues...)
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if !a.DetectedAt.Equal(b.DetectedAt) {
			return a.DetectedAt.Before(b.DetectedAt)
		}
		return a.ComponentID < b.ComponentID
	})
	return out
}

func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[id]
	if !ok || c.inFlight {
		return false
	}
	c.inFlight = true
	return true
}

func (m *Manager) unclaim(id string) {
	m.mu.Lock()
	if c, ok := m.components[id]; ok {
		c.inFlight = false
	}
	m.mu.Unlock()
}

// Recover runs the recovery of one issue synchronously, waiting for a slot under the concurrency cap
func (m *Manager) Recover(ctx context.Context, issue domain.HealthIssue) domain.RecoveryResult {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return m.failed(issue, "", fmt.Sprintf("no recovery slot: %v", err), 0)
	}
	defer m.sem.Release(1)
	if !m.claim(issue.ComponentID) {
		m.mu.RLock()
		_, known := m.components[issue.ComponentID]
		m.mu.RUnlock()
		reason := "recovery already in progress"
		if !known {
			reason = domain.ErrComponentNotFound.Error()
		}
		return m.failed(issue, "", reason, 0)
	}
	defer m.unclaim(issue.ComponentID)

	res := m.execute(ctx, issue)
	m.finish(res)
	return res
}

func (m *Manager) failed(issue domain.HealthIssue, strategy, reason string, d time.Duration) domain.RecoveryResult {
	return domain.RecoveryResult{
		IssueID:          issue.ID,
		ComponentID:      issue.ComponentID,
		Strategy:         strategy,
		Reason:           reason,
		FollowUpRequired: true,
		Duration:         d,
		CompletedAt:      m.now(),
	}
}

// candidates returns the strategies applicable to kind, best priority x success rate first
func (m *Manager) candidates(kind domain.IssueKind) []Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Strategy
	for _, s := range m.strategies {
		if applicable(s, kind) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Info(), out[j].Info()
		sa := float64(a.Priority) * m.rates[a.Name]
		sb := float64(b.Priority) * m.rates[b.Name]
		if sa != sb {
			return sa > sb
		}
		return a.Name < b.Name
	})
	return out
}

// execute tries the best strategy and, if it fails, exactly one alternative
func (m *Manager) execute(ctx context.Context, issue domain.HealthIssue) domain.RecoveryResult {
	start := m.now()
	candidates := m.candidates(issue.Kind)
	if len(candidates) == 0 {
		return m.failed(issue, "", "no applicable strategy for "+string(issue.Kind), 0)
	}
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}

	m.mu.RLock()
	targetType := ""
	if c, ok := m.components[issue.ComponentID]; ok {
		targetType = c.targetType
	}
	m.mu.RUnlock()

	res := domain.RecoveryResult{IssueID: issue.ID, ComponentID: issue.ComponentID}
	for i, s := range candidates {
		name := s.Info().Name
		if i > 0 {
			m.log.Info("trying alternative strategy", zap.String("component_id", issue.ComponentID), zap.String("strategy", name))
		}
		before := m.probe(ctx, issue.ComponentID, targetType)
		ok, score, actions, reason := m.attempt(ctx, s, issue, before)
		m.learn(name, ok)

		res.Strategy = name
		res.Actions = append(res.Actions, actions...)
		res.NewHealthScore = score
		res.Success = ok
		res.Reason = reason
		if ok {
			break
		}
	}
	res.FollowUpRequired = !res.Success
	res.Duration = m.now().Sub(start)
	res.CompletedAt = m.now()
	return res
}

// attempt runs one strategy and verifies the issue is gone afterwards
func (m *Manager) attempt(ctx context.Context, s Strategy, issue domain.HealthIssue, before Target) (bool, float64, []string, string) {
	name := s.Info().Name
	sctx, cancel := context.WithTimeout(ctx, m.cfg.RecoveryTimeout)
	out, err := s.Execute(sctx, issue, before, m.actuator())
	cancel()

	actions := make([]string, 0, len(out.Actions))
	for _, a := range out.Actions {
		actions = append(actions, name+": "+a)
	}
	if err != nil {
		m.log.Warn("recovery strategy failed", zap.String("strategy", name), zap.String("component_id", issue.ComponentID), zap.Error(err))
		return false, before.Health.Score, actions, fmt.Sprintf("%s: %v", name, err)
	}
	if out.NoOp {
		return true, before.Health.Score, actions, ""
	}

	target := issue.ComponentID
	if out.ReplacedBy != "" {
		m.mu.Lock()
		if c, ok := m.components[issue.ComponentID]; ok {
			delete(m.components, issue.ComponentID)
			c.id = out.ReplacedBy
			c.issues = nil
			c.stats = stats{}
			c.health.ComponentID = out.ReplacedBy
			c.inFlight = false
			m.components[out.ReplacedBy] = c
		}
		m.mu.Unlock()
		target = out.ReplacedBy
	} else if out.Reset {
		m.mu.Lock()
		if c, ok := m.components[issue.ComponentID]; ok {
			c.stats = stats{}
		}
		m.mu.Unlock()
	}

	after := m.probe(ctx, target, before.TargetType)
	m.apply(after)
	if out.Isolated || out.ReplacedBy != "" || !after.Active(issue.Kind) {
		return true, after.Health.Score, actions, ""
	}
	return false, after.Health.Score, actions, name + ": " + string(issue.Kind) + " persists"
}

func (m *Manager) actuator() Actuator {
	return actuator{m: m}
}

type actuator struct{ m *Manager }

func (a actuator) Restart(ctx context.Context, id string) error {
	if a.m.controller == nil {
		return errNoController
	}
	return a.m.controller.Restart(ctx, id)
}

func (a actuator) ReleaseResources(ctx context.Context, id string) error {
	if a.m.controller == nil {
		return errNoController
	}
	return a.m.controller.ReleaseResources(ctx, id)
}

func (a actuator) Replace(ctx context.Context, id string) (string, error) {
	if a.m.controller == nil {
		return "", errNoController
	}
	return a.m.controller.Replace(ctx, id)
}

func (a actuator) Trip(id string) bool { return a.m.Trip(id) }

func (m *Manager) learn(strategy string, ok bool) {
	outcome := 0.0
	if ok {
		outcome = 1
	}
	m.mu.Lock()
	m.rates[strategy] = (1-rateAlpha)*m.rates[strategy] + rateAlpha*outcome
	m.mu.Unlock()
}

// finish records a recovery result and clears the issue once resolved
func (m *Manager) finish(res domain.RecoveryResult) {
	m.mu.Lock()
	m.history = append(m.history, res)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	var issue domain.HealthIssue
	for _, c := range m.components {
		for i, is := range c.issues {
			if is.ID == res.IssueID {
				issue = is
				if res.Success {
					c.issues = append(c.issues[:i:i], c.issues[i+1:]...)
				}
				break
			}
		}
	}
	m.mu.Unlock()

	if issue.ID == "" {
		issue = domain.HealthIssue{ID: res.IssueID, ComponentID: res.ComponentID}
	}
	m.metrics.ObserveRecovery(res)
	if m.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
		if err := m.repo.RecordRecovery(ctx, issue, res); err != nil {
			m.log.Error("failed to record recovery", zap.Error(err))
		}
		cancel()
	}

	ev := domain.EventRecoveryCompleted
	if !res.Success {
		ev = domain.EventRecoveryFailed
		m.log.Warn("recovery unresolved", zap.String("component_id", res.ComponentID),
			zap.String("strategy", res.Strategy), zap.String("reason", res.Reason))
	} else {
		m.log.Info("recovery completed", zap.String("component_id", res.ComponentID),
			zap.String("strategy", res.Strategy), zap.Float64("score", res.NewHealthScore))
	}
	m.notifier.Emit(ev, map[string]any{
		"issue_id":     res.IssueID,
		"component_id": res.ComponentID,
		"strategy":     res.Strategy,
		"success":      res.Success,
		"reason":       res.Reason,
	})
}

// Health returns the last health entry of a component
func (m *Manager) Health(componentID string) (domain.ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[componentID]
	if !ok {
		return domain.ComponentHealth{}, false
	}
	return c.health, true
}

// SystemHealth is the mean score of the monitored components, 1 when none are monitored
func (m *Manager) SystemHealth() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.components) == 0 {
		return 1
	}
	sum := 0.0
	for _, c := range m.components {
		sum += c.health.Score
	}
	return sum / float64(len(m.components))
}

// Issues returns the open issues of every component
func (m *Manager) Issues() []domain.HealthIssue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.HealthIssue
	for _, c := range m.components {
		out = append(out, c.issues...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) History() []domain.RecoveryResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.RecoveryResult(nil), m.history...)
}

// Strategies returns the registered strategies with their learned success rates
func (m *Manager) Strategies() []domain.RecoveryStrategyInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RecoveryStrategyInfo, 0, len(m.strategies))
	for _, s := range m.strategies {
		info := s.Info()
		info.SuccessRate = m.rates[info.Name]
		out = append(out, info)
	}
	return out
}
