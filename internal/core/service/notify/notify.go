// Package notify emits lifecycle events without letting publisher failures block coordination.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBuffer         = 256
	defaultPublishTimeout = 2 * time.Second
)

// Notifier queues events and publishes them from a single background goroutine.
// Emit never blocks; when the queue is full the event is dropped and logged.
type Notifier struct {
	source    string
	publisher port.EventPublisher
	queue     chan domain.Event
	timeout   time.Duration
	log       *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts a notifier. A nil publisher yields a notifier that drops everything.
func New(source string, publisher port.EventPublisher, log *zap.Logger) *Notifier {
	n := &Notifier{
		source:    source,
		publisher: publisher,
		queue:     make(chan domain.Event, defaultBuffer),
		timeout:   defaultPublishTimeout,
		log:       log.Named("notify"),
		done:      make(chan struct{}),
	}
	if publisher == nil {
		close(n.done)
		return n
	}
	go n.loop()
	return n
}

// Emit enqueues an event of the given type
func (n *Notifier) Emit(eventType domain.EventType, payload map[string]any) {
	if n == nil || n.publisher == nil {
		return
	}
	ev := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    n.source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.log.Warn("Event queue full, dropping event", zap.String("type", string(eventType)))
	}
}

// Close drains queued events and stops the background publisher
func (n *Notifier) Close() {
	if n == nil || n.publisher == nil {
		return
	}
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) loop() {
	defer close(n.done)
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.publisher.Publish(ctx, ev); err != nil {
			n.log.Warn("Failed to publish event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
		cancel()
	}
}
