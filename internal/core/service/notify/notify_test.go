package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	if p.fail {
		return errors.New("broker down")
	}
	return nil
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	n := New("test", pub, zap.NewNop())

	n.Emit(domain.EventTaskCreated, map[string]any{"task_id": "t1"})
	n.Emit(domain.EventConsensusCompleted, nil)
	n.Close()

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.EventTaskCreated, pub.events[0].Type)
	assert.Equal(t, "test", pub.events[0].Source)
	assert.NotEmpty(t, pub.events[0].ID)
	assert.Equal(t, domain.EventConsensusCompleted, pub.events[1].Type)
}

func TestNotifier_PublisherFailureDoesNotPropagate(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	n := New("test", pub, zap.NewNop())

	assert.NotPanics(t, func() {
		n.Emit(domain.EventHealthAlert, nil)
		n.Close()
	})
	assert.Len(t, pub.events, 1)
}

func TestNotifier_NilPublisher(t *testing.T) {
	n := New("test", nil, zap.NewNop())
	n.Emit(domain.EventTaskCreated, nil)
	n.Close()

	var nilNotifier *Notifier
	nilNotifier.Emit(domain.EventTaskCreated, nil)
	nilNotifier.Close()
}
