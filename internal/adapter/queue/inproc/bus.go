// Package inproc is an in-process event bus used by the simulation and tests.
package inproc

import (
	"context"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

type subscriber struct {
	types map[domain.EventType]bool // empty means every type
	ch    chan domain.Event
}

// Bus fans published events out to subscribers; slow subscribers lose events
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a buffered channel of matching events and a cancel func
func (b *Bus) Subscribe(buffer int, types ...domain.EventType) (<-chan domain.Event, func()) {
	s := &subscriber{types: make(map[domain.EventType]bool), ch: make(chan domain.Event, buffer)}
	for _, t := range types {
		s.types[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domain.ErrTransportClosed
	}
	for _, s := range b.subs {
		if len(s.types) > 0 && !s.types[ev.Type] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

// Close closes every subscription channel
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
