// Package graph holds the canvas graph state: nodes with typed connectors and
// the validated edge set between them.
package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodecanvas-ai/canvas-engine/internal/connector"
	"github.com/nodecanvas-ai/canvas-engine/pkg/metrics"
)

var (
	// ErrNodeNotFound is returned for unknown node ids.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound is returned for unknown edge ids.
	ErrEdgeNotFound = errors.New("edge not found")
)

// NodeKind identifies the modality a node generates.
type NodeKind string

const (
	NodeKindText  NodeKind = "text"
	NodeKindImage NodeKind = "image"
	NodeKindVideo NodeKind = "video"
	// NodeKindDisplay is a terminal node that only renders what it receives.
	// Created implicitly when a producing node has no downstream consumer.
	NodeKindDisplay NodeKind = "display"
)

// Connector is a typed input or output port on a node.
type Connector struct {
	Name      string              `json:"name"`
	Type      connector.Type      `json:"type"`
	Direction connector.Direction `json:"direction"`
}

// Node is one unit of work on the canvas.
type Node struct {
	ID          string      `json:"id"`
	Kind        NodeKind    `json:"kind"`
	Root        bool        `json:"root"`
	Instruction string      `json:"instruction,omitempty"`
	Connectors  []Connector `json:"connectors"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Connector finds a port by name and direction.
func (n Node) Connector(name string, dir connector.Direction) (Connector, bool) {
	for _, c := range n.Connectors {
		if c.Name == name && c.Direction == dir {
			return c, true
		}
	}
	return Connector{}, false
}

// Edge connects one source connector to one target connector. Edges only
// exist if the connector types were compatible at creation time.
type Edge struct {
	ID              string    `json:"id"`
	SourceNode      string    `json:"source_node"`
	SourceConnector string    `json:"source_connector"`
	TargetNode      string    `json:"target_node"`
	TargetConnector string    `json:"target_connector"`
	CreatedAt       time.Time `json:"created_at"`
}

// Graph is the mutable canvas state. All reads return copies; edge order is
// insertion order, which fixes the fan-out order for one run.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges []Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// AddNode adds a node to the canvas, assigning it a fresh id. Connector types
// must be defined types.
func (g *Graph) AddNode(n Node) (Node, error) {
	for _, c := range n.Connectors {
		if !connector.Valid(c.Type) {
			return Node{}, fmt.Errorf("connector %q: unknown connector type %q", c.Name, c.Type)
		}
	}

	n.ID = uuid.Must(uuid.NewV7()).String()
	n.CreatedAt = time.Now()

	g.mu.Lock()
	g.nodes[n.ID] = &n
	g.mu.Unlock()

	return n, nil
}

// RemoveNode deletes a node and every edge incident to it.
func (g *Graph) RemoveNode(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[nodeID]; !ok {
		return ErrNodeNotFound
	}
	delete(g.nodes, nodeID)

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.SourceNode != nodeID && e.TargetNode != nodeID {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	return nil
}

// Node returns a node by id.
func (g *Graph) Node(nodeID string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return Node{}, ErrNodeNotFound
	}
	return *n, nil
}

// Exists reports whether a node id is still live.
func (g *Graph) Exists(nodeID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[nodeID]
	return ok
}

// Connect validates and creates an edge from a source connector to a target
// connector. An incompatible pairing returns *connector.IncompatibleError and
// leaves the edge set unchanged.
func (g *Graph) Connect(sourceNode, sourceConn, targetNode, targetConn string) (Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[sourceNode]
	if !ok {
		return Edge{}, fmt.Errorf("source %q: %w", sourceNode, ErrNodeNotFound)
	}
	dst, ok := g.nodes[targetNode]
	if !ok {
		return Edge{}, fmt.Errorf("target %q: %w", targetNode, ErrNodeNotFound)
	}

	out, ok := src.Connector(sourceConn, connector.DirectionSource)
	if !ok {
		return Edge{}, fmt.Errorf("node %q has no output connector %q", sourceNode, sourceConn)
	}
	in, ok := dst.Connector(targetConn, connector.DirectionTarget)
	if !ok {
		return Edge{}, fmt.Errorf("node %q has no input connector %q", targetNode, targetConn)
	}

	if !connector.Compatible(out.Type, in.Type) {
		metrics.EdgesRejectedTotal.WithLabelValues(string(out.Type), string(in.Type)).Inc()
		return Edge{}, &connector.IncompatibleError{Source: out.Type, Target: in.Type}
	}

	e := Edge{
		ID:              uuid.Must(uuid.NewV7()).String(),
		SourceNode:      sourceNode,
		SourceConnector: sourceConn,
		TargetNode:      targetNode,
		TargetConnector: targetConn,
		CreatedAt:       time.Now(),
	}
	g.edges = append(g.edges, e)
	return e, nil
}

// Disconnect removes an edge by id.
func (g *Graph) Disconnect(edgeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, e := range g.edges {
		if e.ID == edgeID {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return nil
		}
	}
	return ErrEdgeNotFound
}

// Outgoing returns the edges leaving a node, in insertion order. The result
// is read from the current edge set at call time, never from a side table, so
// deleted downstream nodes do not linger.
func (g *Graph) Outgoing(nodeID string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for _, e := range g.edges {
		if e.SourceNode == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Edges returns a copy of the full edge set in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EnsureSink guarantees a node has at least one downstream consumer. If the
// node has no outgoing edges, a display node with a universal input is
// created and connected, so no generated result is ever unreachable. Returns
// the sink node and edge, and whether they were created by this call.
func (g *Graph) EnsureSink(nodeID string) (Node, Edge, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[nodeID]
	if !ok {
		return Node{}, Edge{}, false, ErrNodeNotFound
	}

	for _, e := range g.edges {
		if e.SourceNode == nodeID {
			return Node{}, Edge{}, false, nil
		}
	}

	out, ok := firstSourceConnector(*src)
	if !ok {
		return Node{}, Edge{}, false, fmt.Errorf("node %q has no output connector", nodeID)
	}

	now := time.Now()
	sink := &Node{
		ID:   uuid.Must(uuid.NewV7()).String(),
		Kind: NodeKindDisplay,
		Connectors: []Connector{
			{Name: "in", Type: connector.TypeAny, Direction: connector.DirectionTarget},
		},
		CreatedAt: now,
	}
	g.nodes[sink.ID] = sink

	e := Edge{
		ID:              uuid.Must(uuid.NewV7()).String(),
		SourceNode:      nodeID,
		SourceConnector: out.Name,
		TargetNode:      sink.ID,
		TargetConnector: "in",
		CreatedAt:       now,
	}
	g.edges = append(g.edges, e)

	return *sink, e, true, nil
}

// Clear removes every node and edge. Used only for whole-canvas reset.
func (g *Graph) Clear() {
	g.mu.Lock()
	g.nodes = make(map[string]*Node)
	g.edges = nil
	g.mu.Unlock()
}

func firstSourceConnector(n Node) (Connector, bool) {
	for _, c := range n.Connectors {
		if c.Direction == connector.DirectionSource {
			return c, true
		}
	}
	return Connector{}, false
}
