package events

import (
	"context"
	"sync"

	"github.com/nodecanvas-ai/canvas-engine/internal/model"
)

// Broker is an in-process emitter that fans events out to live subscribers,
// backing the SSE output stream. Slow subscribers drop events rather than
// block the engine.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan model.NodeEvent]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan model.NodeEvent]struct{})}
}

// Subscribe registers for a node's events. The returned cancel function must
// be called when the subscriber goes away.
func (b *Broker) Subscribe(nodeID string) (<-chan model.NodeEvent, func()) {
	ch := make(chan model.NodeEvent, 16)

	b.mu.Lock()
	if b.subs[nodeID] == nil {
		b.subs[nodeID] = make(map[chan model.NodeEvent]struct{})
	}
	b.subs[nodeID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[nodeID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, nodeID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Emit delivers the event to every live subscriber of its node.
func (b *Broker) Emit(ctx context.Context, event model.NodeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[event.NodeID] {
		select {
		case ch <- event:
		default:
		}
	}
}
