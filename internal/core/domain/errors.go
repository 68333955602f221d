// Package domain provides swarm entities, lifecycle constants and domain level errors.
package domain

import "errors"

var (
	ErrInvalidTask          = errors.New("invalid task")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrNoWorkers            = errors.New("no active workers available")
	ErrWorkerNotFound       = errors.New("worker not found")
	ErrCapabilityMismatch   = errors.New("no worker matches the task capabilities")
	ErrExecutionCapacity    = errors.New("maximum concurrent executions reached")
	ErrTimeout              = errors.New("operation timed out")
	ErrQuorumNotReached     = errors.New("quorum not reached")
	ErrUnsafeValidatorSet   = errors.New("validator set too small for tolerated faults")
	ErrNotValidator         = errors.New("node is not an active validator")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrDigestMismatch       = errors.New("digest does not match value")
	ErrStaleSequence        = errors.New("stale sequence number")
	ErrStaleView            = errors.New("stale view")
	ErrViewChangeInProgress = errors.New("view change in progress")
	ErrUnknownPeer          = errors.New("unknown peer")
	ErrTransportClosed      = errors.New("transport closed")
	ErrCheckpointNotFound   = errors.New("checkpoint not found")
	ErrPlanNotFound         = errors.New("execution plan not found")
	ErrComponentNotFound    = errors.New("monitored component not found")
)
