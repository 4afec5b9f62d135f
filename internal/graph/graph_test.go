package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecanvas-ai/canvas-engine/internal/connector"
)

func textNode(t *testing.T, g *Graph, root bool) Node {
	t.Helper()
	n, err := g.AddNode(Node{
		Kind: NodeKindText,
		Root: root,
		Connectors: []Connector{
			{Name: "in", Type: connector.TypeText, Direction: connector.DirectionTarget},
			{Name: "out", Type: connector.TypeText, Direction: connector.DirectionSource},
		},
	})
	require.NoError(t, err)
	return n
}

func videoNode(t *testing.T, g *Graph) Node {
	t.Helper()
	n, err := g.AddNode(Node{
		Kind: NodeKindVideo,
		Connectors: []Connector{
			{Name: "out", Type: connector.TypeVideo, Direction: connector.DirectionSource},
		},
	})
	require.NoError(t, err)
	return n
}

func TestAddNode_RejectsUnknownConnectorType(t *testing.T) {
	g := New()

	_, err := g.AddNode(Node{
		Kind: NodeKindText,
		Connectors: []Connector{
			{Name: "in", Type: connector.Type("audio"), Direction: connector.DirectionTarget},
		},
	})
	assert.Error(t, err)
}

func TestConnect_CompatibleTypes(t *testing.T) {
	g := New()
	a := textNode(t, g, true)
	b := textNode(t, g, false)

	e, err := g.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)
	assert.Equal(t, a.ID, e.SourceNode)
	assert.Equal(t, b.ID, e.TargetNode)
	assert.Len(t, g.Edges(), 1)
}

// TestConnect_RejectsIncompatibleTypes covers the rejected-edge scenario: a
// video output into a text input is refused and the edge set is unchanged.
func TestConnect_RejectsIncompatibleTypes(t *testing.T) {
	g := New()
	v := videoNode(t, g)
	b := textNode(t, g, false)

	_, err := g.Connect(v.ID, "out", b.ID, "in")

	var incompatible *connector.IncompatibleError
	require.ErrorAs(t, err, &incompatible)
	assert.Equal(t, connector.TypeVideo, incompatible.Source)
	assert.Equal(t, connector.TypeText, incompatible.Target)
	assert.Empty(t, g.Edges())
}

func TestConnect_UnknownNodeOrConnector(t *testing.T) {
	g := New()
	a := textNode(t, g, true)
	b := textNode(t, g, false)

	_, err := g.Connect("missing", "out", b.ID, "in")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = g.Connect(a.ID, "nope", b.ID, "in")
	assert.Error(t, err)

	_, err = g.Connect(a.ID, "out", b.ID, "nope")
	assert.Error(t, err)

	assert.Empty(t, g.Edges())
}

func TestRemoveNode_DropsIncidentEdges(t *testing.T) {
	g := New()
	a := textNode(t, g, true)
	b := textNode(t, g, false)
	c := textNode(t, g, false)

	_, err := g.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)
	_, err = g.Connect(b.ID, "out", c.ID, "in")
	require.NoError(t, err)

	require.NoError(t, g.RemoveNode(b.ID))

	assert.False(t, g.Exists(b.ID))
	assert.Empty(t, g.Edges())
	assert.ErrorIs(t, g.RemoveNode(b.ID), ErrNodeNotFound)
}

// TestOutgoing_InsertionOrder pins the fan-out order to edge insertion order.
func TestOutgoing_InsertionOrder(t *testing.T) {
	g := New()
	a := textNode(t, g, true)
	b := textNode(t, g, false)
	c := textNode(t, g, false)

	e1, err := g.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)
	e2, err := g.Connect(a.ID, "out", c.ID, "in")
	require.NoError(t, err)

	out := g.Outgoing(a.ID)
	require.Len(t, out, 2)
	assert.Equal(t, e1.ID, out[0].ID)
	assert.Equal(t, e2.ID, out[1].ID)
}

func TestDisconnect(t *testing.T) {
	g := New()
	a := textNode(t, g, true)
	b := textNode(t, g, false)

	e, err := g.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)

	require.NoError(t, g.Disconnect(e.ID))
	assert.Empty(t, g.Edges())
	assert.ErrorIs(t, g.Disconnect(e.ID), ErrEdgeNotFound)
}

// TestEnsureSink_CreatesExactlyOneSink covers the orphan-sink scenario: a
// node without consumers gets exactly one display node and one edge.
func TestEnsureSink_CreatesExactlyOneSink(t *testing.T) {
	g := New()
	a := textNode(t, g, true)

	sink, edge, created, err := g.EnsureSink(a.ID)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, NodeKindDisplay, sink.Kind)
	assert.Equal(t, a.ID, edge.SourceNode)
	assert.Equal(t, sink.ID, edge.TargetNode)
	assert.Len(t, g.Edges(), 1)

	// Idempotent: a second call sees the existing consumer.
	_, _, created, err = g.EnsureSink(a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, g.Edges(), 1)
}

func TestEnsureSink_ExistingConsumer(t *testing.T) {
	g := New()
	a := textNode(t, g, true)
	b := textNode(t, g, false)

	_, err := g.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)

	_, _, created, err := g.EnsureSink(a.ID)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestClear(t *testing.T) {
	g := New()
	a := textNode(t, g, true)
	b := textNode(t, g, false)
	_, err := g.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)

	g.Clear()

	assert.False(t, g.Exists(a.ID))
	assert.Empty(t, g.Edges())
}
