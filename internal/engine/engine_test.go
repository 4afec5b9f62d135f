package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodecanvas-ai/canvas-engine/internal/brand"
	"github.com/nodecanvas-ai/canvas-engine/internal/connector"
	"github.com/nodecanvas-ai/canvas-engine/internal/graph"
	"github.com/nodecanvas-ai/canvas-engine/internal/model"
	"github.com/nodecanvas-ai/canvas-engine/internal/provider"
	"github.com/nodecanvas-ai/canvas-engine/internal/thread"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
)

// fakeProvider is a scriptable text provider.
type fakeProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []*provider.Request
	onCall   func()
}

func (f *fakeProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Result{Content: model.TextContent(f.reply)}, nil
}

func (f *fakeProvider) Name() string                { return "fake" }
func (f *fakeProvider) Modality() provider.Modality { return provider.ModalityText }

func (f *fakeProvider) lastRequest() *provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

// captureEmitter records every emitted event.
type captureEmitter struct {
	mu     sync.Mutex
	events []model.NodeEvent
}

func (c *captureEmitter) Emit(_ context.Context, ev model.NodeEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureEmitter) byType(t model.EventType) []model.NodeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.NodeEvent
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	engine   *Engine
	graph    *graph.Graph
	threads  *thread.Store
	provider *fakeProvider
	emitter  *captureEmitter
}

func newFixture(t *testing.T, preamble string) *fixture {
	t.Helper()
	log := &logger.Logger{Logger: zap.NewNop()}
	f := &fixture{
		graph:    graph.New(),
		threads:  thread.NewStore(log),
		provider: &fakeProvider{reply: "generated"},
		emitter:  &captureEmitter{},
	}
	f.engine = New(
		f.graph,
		f.threads,
		provider.NewRegistry(f.provider),
		brand.NewStore(preamble),
		f.emitter,
		log,
	)
	return f
}

func (f *fixture) addTextNode(t *testing.T, root bool, instruction string) graph.Node {
	t.Helper()
	n, err := f.graph.AddNode(graph.Node{
		Kind:        graph.NodeKindText,
		Root:        root,
		Instruction: instruction,
		Connectors: []graph.Connector{
			{Name: "in", Type: connector.TypeText, Direction: connector.DirectionTarget},
			{Name: "out", Type: connector.TypeText, Direction: connector.DirectionSource},
		},
	})
	require.NoError(t, err)
	return n
}

func roles(msgs []model.Message) []model.Role {
	out := make([]model.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

// TestRun_RootCreatesThreadWithPreamble verifies a root execution starts a
// fresh thread seeded with the brand voice, appends exactly one user and one
// assistant message, and creates an implicit sink for the output.
func TestRun_RootCreatesThreadWithPreamble(t *testing.T) {
	f := newFixture(t, "Speak plainly.")
	n := f.addTextNode(t, true, "")

	result, err := f.engine.Run(context.Background(), n.ID, "Write a haiku", nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.ThreadID)

	th, err := f.threads.Get(result.ThreadID)
	require.NoError(t, err)
	assert.True(t, th.BrandVoiceInjected)
	assert.Equal(t, []model.Role{model.RoleSystem, model.RoleUser, model.RoleAssistant}, roles(th.Messages))
	assert.Equal(t, "Speak plainly.", th.Messages[0].Content.PlainText())
	assert.Equal(t, "Write a haiku", th.Messages[1].Content.PlainText())
	assert.Equal(t, "generated", th.Messages[2].Content.PlainText())

	// A sink was created and connected with exactly one edge.
	require.NotEmpty(t, result.SinkNode)
	sink, err := f.graph.Node(result.SinkNode)
	require.NoError(t, err)
	assert.Equal(t, graph.NodeKindDisplay, sink.Kind)
	assert.Len(t, f.graph.Edges(), 1)

	outputs := f.emitter.byType(model.EventTypeNodeOutput)
	require.NotEmpty(t, outputs)
}

// TestRun_SecondRootRunInjectsPreambleOncePerThread: every root run starts
// its own thread, and within any thread the preamble appears exactly once.
func TestRun_SecondRootRunInjectsPreambleOncePerThread(t *testing.T) {
	f := newFixture(t, "Speak plainly.")
	n := f.addTextNode(t, true, "")

	first, err := f.engine.Run(context.Background(), n.ID, "one", nil)
	require.NoError(t, err)
	second, err := f.engine.Run(context.Background(), n.ID, "two", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ThreadID, second.ThreadID)
	for _, id := range []string{first.ThreadID, second.ThreadID} {
		th, err := f.threads.Get(id)
		require.NoError(t, err)
		systems := 0
		for _, m := range th.Messages {
			if m.Role == model.RoleSystem {
				systems++
			}
		}
		assert.Equal(t, 1, systems)
	}
}

// TestRun_ContinuationAdoptsDeliveredThread verifies a downstream node joins
// the thread carried on its merged input and the exchange lands there.
func TestRun_ContinuationAdoptsDeliveredThread(t *testing.T) {
	f := newFixture(t, "Speak plainly.")
	a := f.addTextNode(t, true, "")
	b := f.addTextNode(t, false, "continue the story")
	_, err := f.graph.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)

	rootResult, err := f.engine.Run(context.Background(), a.ID, "start", nil)
	require.NoError(t, err)

	// Fan-out delivered the root's context into b's accumulator.
	acc := f.engine.Accumulated(b.ID)
	assert.Equal(t, rootResult.ThreadID, acc.ThreadID)

	contResult, err := f.engine.Run(context.Background(), b.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, rootResult.ThreadID, contResult.ThreadID)

	th, err := f.threads.Get(contResult.ThreadID)
	require.NoError(t, err)
	// system + (user, assistant) from a + (user, assistant) from b
	require.Len(t, th.Messages, 5)
	assert.Equal(t, model.RoleSystem, th.Messages[0].Role)
	// The continuation had no distinct prompt, so its configured instruction
	// was recorded as the user message.
	assert.Equal(t, "continue the story", th.Messages[3].Content.PlainText())

	// The accumulator was consumed by the run.
	assert.True(t, f.engine.Accumulated(b.ID).Empty())
}

// TestRun_SupplementalContextRidesAlongWithoutPersisting verifies that a node
// fed by two upstreams — one carrying the thread, one carrying threadless
// supplementary content — hands the provider both, appends only the exchange
// to the thread, and does not duplicate the thread's own history.
func TestRun_SupplementalContextRidesAlongWithoutPersisting(t *testing.T) {
	f := newFixture(t, "Speak plainly.")
	b := f.addTextNode(t, false, "")

	threadID := f.threads.Create("Speak plainly.", "history message")
	threadBound, err := f.threads.Context(threadID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Deliver(context.Background(), b.ID, threadBound))

	supplementary := model.ConversationContext{
		Messages: []model.Message{{
			Role:    model.RoleUser,
			Content: model.PartsContent(model.TextPart("supplementary image caption")),
		}},
	}
	require.NoError(t, f.engine.Deliver(context.Background(), b.ID, supplementary))

	result, err := f.engine.Run(context.Background(), b.ID, "combine them", nil)
	require.NoError(t, err)
	assert.Equal(t, threadID, result.ThreadID)

	req := f.provider.lastRequest()
	require.NotNil(t, req)
	var seen []string
	for _, m := range req.Context.Messages {
		seen = append(seen, m.Content.PlainText())
	}
	assert.Contains(t, seen, "history message")
	assert.Contains(t, seen, "supplementary image caption")

	// The thread gained only the exchange; the thread-bound delivery did not
	// double its history and the supplementary content was not persisted.
	th, err := f.threads.Get(threadID)
	require.NoError(t, err)
	require.Len(t, th.Messages, 4)
	assert.Equal(t, "combine them", th.Messages[2].Content.PlainText())
	for _, m := range th.Messages {
		assert.NotEqual(t, "supplementary image caption", m.Content.PlainText())
	}
}

// TestRun_ContinuationWithoutThreadFallsBack verifies the defensive path: a
// continuation with no adopted thread id still runs on a fresh thread.
func TestRun_ContinuationWithoutThreadFallsBack(t *testing.T) {
	f := newFixture(t, "Speak plainly.")
	b := f.addTextNode(t, false, "orphan continuation")

	result, err := f.engine.Run(context.Background(), b.ID, "go", nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, f.threads.Exists(result.ThreadID))
}

// TestDeliver_FanInMergesArrivalOrder verifies multiple deliveries fold
// left-associatively with first-writer-wins thread adoption.
func TestDeliver_FanInMergesArrivalOrder(t *testing.T) {
	f := newFixture(t, "")
	b := f.addTextNode(t, false, "")

	first := model.ConversationContext{
		Messages: []model.Message{{Role: model.RoleUser, Content: model.TextContent("a")}},
	}
	second := model.ConversationContext{
		Messages: []model.Message{{Role: model.RoleUser, Content: model.TextContent("b")}},
		ThreadID: "t9",
	}

	require.NoError(t, f.engine.Deliver(context.Background(), b.ID, first))
	require.NoError(t, f.engine.Deliver(context.Background(), b.ID, second))

	acc := f.engine.Accumulated(b.ID)
	require.Len(t, acc.Messages, 2)
	assert.Equal(t, "a", acc.Messages[0].Content.PlainText())
	assert.Equal(t, "b", acc.Messages[1].Content.PlainText())
	assert.Equal(t, "t9", acc.ThreadID)
}

// TestRun_FailureLeavesThreadAndSiblingsUntouched verifies failure isolation:
// no thread mutation, no fan-out, an error event on the failing node only,
// and the fan-in accumulator restored for retry.
func TestRun_FailureLeavesThreadAndSiblingsUntouched(t *testing.T) {
	f := newFixture(t, "Speak plainly.")
	a := f.addTextNode(t, true, "")
	b := f.addTextNode(t, false, "")
	_, err := f.graph.Connect(a.ID, "out", b.ID, "in")
	require.NoError(t, err)

	rootResult, err := f.engine.Run(context.Background(), a.ID, "start", nil)
	require.NoError(t, err)
	beforeCount := 0
	{
		th, err := f.threads.Get(rootResult.ThreadID)
		require.NoError(t, err)
		beforeCount = len(th.Messages)
	}

	f.provider.err = errors.New("vendor exploded")
	_, err = f.engine.Run(context.Background(), b.ID, "continue", nil)
	require.Error(t, err)

	// No thread mutation.
	th, err := f.threads.Get(rootResult.ThreadID)
	require.NoError(t, err)
	assert.Len(t, th.Messages, beforeCount)

	// No fan-out: b gained no sink.
	assert.Len(t, f.graph.Edges(), 1)

	// The failure was reported on b's surface.
	errorEvents := f.emitter.byType(model.EventTypeNodeError)
	require.Len(t, errorEvents, 1)
	assert.Equal(t, b.ID, errorEvents[0].NodeID)

	// The accumulator survives for retry.
	acc := f.engine.Accumulated(b.ID)
	assert.Equal(t, rootResult.ThreadID, acc.ThreadID)

	f.provider.err = nil
	retry, err := f.engine.Run(context.Background(), b.ID, "continue", nil)
	require.NoError(t, err)
	assert.Equal(t, rootResult.ThreadID, retry.ThreadID)
}

// TestRun_OrphanedCompletionIsDropped verifies a completion whose node was
// deleted mid-flight appends nothing and fans out nothing.
func TestRun_OrphanedCompletionIsDropped(t *testing.T) {
	f := newFixture(t, "Speak plainly.")
	n := f.addTextNode(t, true, "")

	f.provider.onCall = func() {
		require.NoError(t, f.engine.RemoveNode(n.ID))
	}

	result, err := f.engine.Run(context.Background(), n.ID, "doomed", nil)
	require.NoError(t, err)
	assert.Nil(t, result)

	// No exchange was appended anywhere and nothing was fanned out.
	assert.Empty(t, f.graph.Edges())
	assert.Empty(t, f.emitter.byType(model.EventTypeNodeOutput))
}

// TestRun_AttachmentsMergedButNotPersisted verifies run-time attachment
// context reaches the provider without being written into the thread.
func TestRun_AttachmentsMergedButNotPersisted(t *testing.T) {
	f := newFixture(t, "")
	n := f.addTextNode(t, true, "")

	result, err := f.engine.Run(context.Background(), n.ID, "describe", []model.Attachment{
		{Text: "reference notes"},
		{ImageRef: "blob://img-1", MIMEType: "image/png"},
	})
	require.NoError(t, err)

	req := f.provider.lastRequest()
	require.NotNil(t, req)
	found := false
	for _, m := range req.Context.Messages {
		if m.Content.Kind == model.ContentParts {
			found = true
			assert.Equal(t, "reference notes", m.Content.PlainText())
		}
	}
	assert.True(t, found, "attachment context should reach the provider")

	th, err := f.threads.Get(result.ThreadID)
	require.NoError(t, err)
	for _, m := range th.Messages {
		assert.NotEqual(t, model.ContentParts, m.Content.Kind,
			"attachment context must not be persisted into the thread")
	}
}

// TestRun_DisplayNodeNotRunnable verifies sinks cannot be executed.
func TestRun_DisplayNodeNotRunnable(t *testing.T) {
	f := newFixture(t, "")
	sink, err := f.graph.AddNode(graph.Node{
		Kind: graph.NodeKindDisplay,
		Connectors: []graph.Connector{
			{Name: "in", Type: connector.TypeAny, Direction: connector.DirectionTarget},
		},
	})
	require.NoError(t, err)

	_, err = f.engine.Run(context.Background(), sink.ID, "", nil)
	assert.ErrorIs(t, err, ErrNotRunnable)
}

// TestDeliver_DisplayNodeEmitsOutput verifies delivering to a sink surfaces
// the content as a node output event.
func TestDeliver_DisplayNodeEmitsOutput(t *testing.T) {
	f := newFixture(t, "")
	sink, err := f.graph.AddNode(graph.Node{
		Kind: graph.NodeKindDisplay,
		Connectors: []graph.Connector{
			{Name: "in", Type: connector.TypeAny, Direction: connector.DirectionTarget},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Deliver(context.Background(), sink.ID, model.ConversationContext{
		Messages: []model.Message{{Role: model.RoleAssistant, Content: model.TextContent("shown")}},
	}))

	outputs := f.emitter.byType(model.EventTypeNodeOutput)
	require.Len(t, outputs, 1)
	assert.Equal(t, sink.ID, outputs[0].NodeID)
	assert.Equal(t, "shown", outputs[0].Content.PlainText())
}

// TestResetCanvas clears graph, threads, and fan-in state.
func TestResetCanvas(t *testing.T) {
	f := newFixture(t, "p")
	n := f.addTextNode(t, true, "")
	result, err := f.engine.Run(context.Background(), n.ID, "x", nil)
	require.NoError(t, err)

	f.engine.ResetCanvas()

	assert.False(t, f.graph.Exists(n.ID))
	assert.False(t, f.threads.Exists(result.ThreadID))
	assert.Empty(t, f.graph.Edges())
}
