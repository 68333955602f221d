// Package local provides an in-memory peer transport with fault injection.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"go.uber.org/zap"
)

const defaultBufferSize = 1024

type link struct{ from, to string }

// Hub connects every local transport that joined it
type Hub struct {
	mu         sync.RWMutex
	nodes      map[string]*Transport
	blocked    map[link]bool
	bufferSize int
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		nodes:      make(map[string]*Transport),
		blocked:    make(map[link]bool),
		bufferSize: defaultBufferSize,
		log:        log.Named("local-transport"),
	}
}

// Join creates the transport of a node. Joining twice returns the existing transport.
func (h *Hub) Join(nodeID string) *Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.nodes[nodeID]; ok {
		return t
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:     nodeID,
		hub:    h,
		inbox:  make(chan domain.Envelope, h.bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	h.nodes[nodeID] = t
	return t
}

// Partition drops traffic between a and b in both directions
func (h *Hub) Partition(a, b string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked[link{a, b}] = true
	h.blocked[link{b, a}] = true
}

// Isolate partitions a node from every other node
func (h *Hub) Isolate(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.nodes {
		if id != nodeID {
			h.blocked[link{nodeID, id}] = true
			h.blocked[link{id, nodeID}] = true
		}
	}
}

// Heal removes every partition
func (h *Hub) Heal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocked = make(map[link]bool)
}

// Nodes lists the ids of the joined transports
func (h *Hub) Nodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) route(from, to string) (*Transport, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.nodes[to]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrUnknownPeer, to)
	}
	return t, h.blocked[link{from, to}], nil
}

func (h *Hub) leave(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, nodeID)
}

// Transport is one node's endpoint on the hub
type Transport struct {
	id    string
	hub   *Hub
	inbox chan domain.Envelope

	mu      sync.RWMutex
	handler func(ctx context.Context, env domain.Envelope)
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (t *Transport) ID() string { return t.id }

// Send delivers env to peerID's inbox. Traffic across a partition is dropped silently.
func (t *Transport) Send(ctx context.Context, peerID string, env domain.Envelope) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return domain.ErrTransportClosed
	}

	peer, blocked, err := t.hub.route(t.id, peerID)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}
	env.From = t.id
	env.To = peerID

	select {
	case peer.inbox <- env:
		return nil
	case <-peer.ctx.Done():
		return fmt.Errorf("%w: %s", domain.ErrTransportClosed, peerID)
	case <-ctx.Done():
		return ctx.Err()
	default:
		t.hub.log.Warn("peer inbox full, dropping envelope",
			zap.String("from", t.id), zap.String("to", peerID), zap.String("kind", env.Kind))
		return fmt.Errorf("inbox of %s is full", peerID)
	}
}

// OnReceive installs the handler and starts delivery. Envelopes are
// delivered one at a time in arrival order.
func (t *Transport) OnReceive(handler func(ctx context.Context, env domain.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	if t.started || t.closed {
		return
	}
	t.started = true
	t.wg.Add(1)
	go t.loop()
}

func (t *Transport) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case env := <-t.inbox:
			t.mu.RLock()
			h := t.handler
			t.mu.RUnlock()
			if h != nil {
				h(t.ctx, env)
			}
		}
	}
}

// Close detaches the node from the hub
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.hub.leave(t.id)
	t.cancel()
	t.wg.Wait()
	return nil
}
