// Package port provides behavior interfaces that connect the coordination core to storage, transport & workers.
package port

import (
	"context"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// WorkerRegistry defines how we track swarm members (Redis)
type WorkerRegistry interface {
	RegisterWorker(ctx context.Context, worker *domain.Worker) error
	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	GetActiveWorkers(ctx context.Context) ([]*domain.Worker, error)
	MarkInactive(ctx context.Context, id string) error
}

// PlanRepository defines how execution plans and task progress are persisted
type PlanRepository interface {
	SavePlan(ctx context.Context, plan *domain.ExecutionPlan) error
	GetPlan(ctx context.Context, taskID string) (*domain.ExecutionPlan, error)
	UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, workerID string) error
}

// CheckpointStore persists signed consensus checkpoints
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
	LatestCheckpoint(ctx context.Context, nodeID string) (*domain.Checkpoint, error)
}

// RecoveryRepository records recovery outcomes for later analysis
type RecoveryRepository interface {
	RecordRecovery(ctx context.Context, issue domain.HealthIssue, result domain.RecoveryResult) error
}

// ViewStore keeps a peer's last gossip view so it can warm-start
type ViewStore interface {
	SaveView(ctx context.Context, nodeID string, data []byte) error
	LoadView(ctx context.Context, nodeID string) ([]byte, error)
}

// EventPublisher is a fire-and-forget lifecycle notification channel
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Transport moves envelopes between peers; protocol logic stays transport-agnostic
type Transport interface {
	ID() string
	Send(ctx context.Context, peerID string, env domain.Envelope) error
	OnReceive(handler func(ctx context.Context, env domain.Envelope))
	Close() error
}

// Executor is the capability every worker implementation provides
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (domain.ExecutionResult, error)
}

// Dispatcher hands an assigned (sub)task to its worker and waits for the result
type Dispatcher interface {
	Dispatch(ctx context.Context, workerID string, task *domain.Task) (domain.ExecutionResult, error)
}

// MetricsSource defines how we fetch live component metrics (Prometheus)
type MetricsSource interface {
	GetComponentMetrics(ctx context.Context, componentID string) (domain.HealthMetrics, error)
}

// ComponentController performs the side effects recovery strategies need
type ComponentController interface {
	Restart(ctx context.Context, componentID string) error
	ReleaseResources(ctx context.Context, componentID string) error
	Replace(ctx context.Context, componentID string) (string, error)
}

// Signer produces signatures for the local node
type Signer interface {
	ID() string
	Sign(data []byte) ([]byte, error)
}

// Verifier checks signatures from any known node
type Verifier interface {
	Verify(nodeID string, data, signature []byte) error
}

// Metrics records coordination telemetry; implementations must be safe for concurrent use
type Metrics interface {
	ObserveConsensus(result *domain.ConsensusResult)
	ObserveEvidence(ev domain.Evidence)
	ObserveViewChange(view uint64)
	ObserveCoordination(mode domain.CoordinationMode, success bool, d time.Duration)
	ObserveExecution(result domain.ExecutionResult)
	ObserveRecovery(result domain.RecoveryResult)
	SetComponentHealth(componentID string, score float64)
	SetSystemHealth(score float64)
}

// NopMetrics discards every observation
type NopMetrics struct{}

func (NopMetrics) ObserveConsensus(*domain.ConsensusResult)                         {}
func (NopMetrics) ObserveEvidence(domain.Evidence)                                  {}
func (NopMetrics) ObserveViewChange(uint64)                                         {}
func (NopMetrics) ObserveCoordination(domain.CoordinationMode, bool, time.Duration) {}
func (NopMetrics) ObserveExecution(domain.ExecutionResult)                          {}
func (NopMetrics) ObserveRecovery(domain.RecoveryResult)                            {}
func (NopMetrics) SetComponentHealth(string, float64)                               {}
func (NopMetrics) SetSystemHealth(float64)                                          {}
