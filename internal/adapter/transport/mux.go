// Package transport multiplexes several protocol services over one peer transport.
package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/port"
)

type handlerFunc func(ctx context.Context, env domain.Envelope)

// Mux routes inbound envelopes by the prefix of their Kind (the text
// before the first dot) to the channel registered for that prefix.
type Mux struct {
	base port.Transport

	mu     sync.RWMutex
	routes map[string]handlerFunc
}

func NewMux(base port.Transport) *Mux {
	m := &Mux{base: base, routes: make(map[string]handlerFunc)}
	base.OnReceive(m.dispatch)
	return m
}

func (m *Mux) dispatch(ctx context.Context, env domain.Envelope) {
	prefix, _, _ := strings.Cut(env.Kind, ".")
	m.mu.RLock()
	h := m.routes[prefix]
	m.mu.RUnlock()
	if h != nil {
		h(ctx, env)
	}
}

// Channel returns a transport view that only receives envelopes whose kind starts with prefix
func (m *Mux) Channel(prefix string) port.Transport {
	return &channel{mux: m, prefix: prefix}
}

// Close closes the underlying transport
func (m *Mux) Close() error {
	return m.base.Close()
}

type channel struct {
	mux    *Mux
	prefix string
}

func (c *channel) ID() string { return c.mux.base.ID() }

func (c *channel) Send(ctx context.Context, peerID string, env domain.Envelope) error {
	return c.mux.base.Send(ctx, peerID, env)
}

func (c *channel) OnReceive(handler func(ctx context.Context, env domain.Envelope)) {
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	c.mux.routes[c.prefix] = handler
}

// Close only detaches the route; the owner of the Mux closes the base transport.
func (c *channel) Close() error {
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	delete(c.mux.routes, c.prefix)
	return nil
}
