package prometheus

import (
	"net/http"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Recorder implements port.Metrics with client_golang collectors
type Recorder struct {
	registry *prometheus.Registry

	consensusRounds   *prometheus.CounterVec
	consensusDuration prometheus.Histogram
	evidence          *prometheus.CounterVec
	view              prometheus.Gauge
	coordinations     *prometheus.CounterVec
	coordinationTime  *prometheus.HistogramVec
	recoveries        *prometheus.CounterVec
	componentHealth   *prometheus.GaugeVec
	systemHealth      prometheus.Gauge
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
}

// NewRecorder registers the swarm collectors, plus Go and process collectors, on a private registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		consensusRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_consensus_rounds_total",
			Help: "Consensus rounds by outcome.",
		}, []string{"outcome"}),
		consensusDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_consensus_duration_seconds",
			Help:    "Time from proposal to decision.",
			Buckets: prometheus.DefBuckets,
		}),
		evidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_byzantine_evidence_total",
			Help: "Recorded Byzantine evidence by kind.",
		}, []string{"kind"}),
		view: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_consensus_view",
			Help: "Current consensus view.",
		}),
		coordinations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_coordinations_total",
			Help: "Coordinated tasks by mode and outcome.",
		}, []string{"mode", "outcome"}),
		coordinationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarm_coordination_duration_seconds",
			Help:    "End to end task coordination time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"mode"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_recoveries_total",
			Help: "Recovery attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		componentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarm_component_health_score",
			Help: "Latest health score per monitored component.",
		}, []string{"component"}),
		systemHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_system_health_score",
			Help: "Mean health score across monitored components.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_executions_total",
			Help: "Subtask executions per worker and outcome.",
		}, []string{"worker", "outcome"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarm_execution_duration_seconds",
			Help:    "Subtask execution time per worker.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
	}
	r.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		r.consensusRounds, r.consensusDuration, r.evidence, r.view,
		r.coordinations, r.coordinationTime, r.recoveries,
		r.componentHealth, r.systemHealth, r.executions, r.executionDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ObserveConsensus(res *domain.ConsensusResult) {
	if res == nil {
		return
	}
	r.consensusRounds.WithLabelValues(outcome(res.Success)).Inc()
	r.consensusDuration.Observe(res.Duration.Seconds())
}

func (r *Recorder) ObserveEvidence(ev domain.Evidence) {
	r.evidence.WithLabelValues(string(ev.Kind)).Inc()
}

func (r *Recorder) ObserveViewChange(view uint64) {
	r.view.Set(float64(view))
}

func (r *Recorder) ObserveCoordination(mode domain.CoordinationMode, success bool, d time.Duration) {
	r.coordinations.WithLabelValues(string(mode), outcome(success)).Inc()
	r.coordinationTime.WithLabelValues(string(mode)).Observe(d.Seconds())
}

func (r *Recorder) ObserveRecovery(res domain.RecoveryResult) {
	r.recoveries.WithLabelValues(res.Strategy, outcome(res.Success)).Inc()
}

func (r *Recorder) SetComponentHealth(componentID string, score float64) {
	r.componentHealth.WithLabelValues(componentID).Set(score)
}

func (r *Recorder) SetSystemHealth(score float64) {
	r.systemHealth.Set(score)
}

// ObserveExecution records one subtask outcome; the default response time and
// error rate queries read these series back.
func (r *Recorder) ObserveExecution(res domain.ExecutionResult) {
	r.executions.WithLabelValues(res.WorkerID, outcome(res.Success)).Inc()
	r.executionDuration.WithLabelValues(res.WorkerID).Observe(res.Duration.Seconds())
}

