// Package engine runs node executions and propagates their results through
// the canvas graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodecanvas-ai/canvas-engine/internal/brand"
	"github.com/nodecanvas-ai/canvas-engine/internal/connector"
	"github.com/nodecanvas-ai/canvas-engine/internal/events"
	"github.com/nodecanvas-ai/canvas-engine/internal/graph"
	"github.com/nodecanvas-ai/canvas-engine/internal/merge"
	"github.com/nodecanvas-ai/canvas-engine/internal/model"
	"github.com/nodecanvas-ai/canvas-engine/internal/provider"
	"github.com/nodecanvas-ai/canvas-engine/internal/thread"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
	"github.com/nodecanvas-ai/canvas-engine/pkg/metrics"
)

// ErrNotRunnable is returned when a run is requested on a node kind that
// cannot generate, such as a display sink.
var ErrNotRunnable = errors.New("node is not runnable")

// Engine is the propagation controller. It gathers a node's merged input
// context, invokes its provider, appends the exchange to the owning thread,
// and fans the updated context out to downstream nodes.
type Engine struct {
	graph     *graph.Graph
	threads   *thread.Store
	providers *provider.Registry
	brand     *brand.Store
	emitter   events.Emitter
	logger    *logger.Logger

	// accumulators hold per-node fan-in state between deliveries and runs.
	mu           sync.Mutex
	accumulators map[string]model.ConversationContext
}

// New creates a propagation engine.
func New(
	g *graph.Graph,
	threads *thread.Store,
	providers *provider.Registry,
	brandStore *brand.Store,
	emitter events.Emitter,
	log *logger.Logger,
) *Engine {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Engine{
		graph:        g,
		threads:      threads,
		providers:    providers,
		brand:        brandStore,
		emitter:      emitter,
		logger:       log,
		accumulators: make(map[string]model.ConversationContext),
	}
}

// Graph returns the canvas graph the engine runs against.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Threads returns the thread store the engine appends to.
func (e *Engine) Threads() *thread.Store {
	return e.threads
}

// Deliver folds an incoming context into a node's fan-in accumulator. For
// display nodes the delivered content is also emitted as node output, since
// rendering is all a sink does.
func (e *Engine) Deliver(ctx context.Context, nodeID string, incoming model.ConversationContext) error {
	n, err := e.graph.Node(nodeID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.accumulators[nodeID] = merge.Fold(e.accumulators[nodeID], incoming)
	e.mu.Unlock()

	if n.Kind == graph.NodeKindDisplay {
		var content model.Content
		if len(incoming.Messages) > 0 {
			content = incoming.Messages[len(incoming.Messages)-1].Content
		}
		e.emitter.Emit(ctx, model.NodeEvent{
			ID:        uuid.Must(uuid.NewV7()).String(),
			NodeID:    nodeID,
			Type:      model.EventTypeNodeOutput,
			Content:   content,
			Context:   incoming,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

// Accumulated returns a node's current fan-in accumulator.
func (e *Engine) Accumulated(nodeID string) model.ConversationContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accumulators[nodeID]
}

// RunResult describes one completed node execution.
type RunResult struct {
	NodeID   string                    `json:"node_id"`
	ThreadID string                    `json:"thread_id"`
	Content  model.Content             `json:"content"`
	Context  model.ConversationContext `json:"context"`
	// SinkNode is set when the run created an implicit display sink.
	SinkNode string `json:"sink_node,omitempty"`
}

// Run executes one node cycle. On provider failure no thread mutation occurs,
// nothing is fanned out, and the error is reported for the node's own status
// surface only; siblings and downstream nodes are unaffected.
func (e *Engine) Run(ctx context.Context, nodeID, prompt string, attachments []model.Attachment) (*RunResult, error) {
	n, err := e.graph.Node(nodeID)
	if err != nil {
		return nil, err
	}
	if n.Kind == graph.NodeKindDisplay {
		return nil, fmt.Errorf("%w: %s", ErrNotRunnable, n.Kind)
	}

	client, err := e.providers.For(modalityFor(n.Kind))
	if err != nil {
		return nil, err
	}

	// Consume the fan-in accumulator. On failure it is folded back in so a
	// retry sees the same input.
	e.mu.Lock()
	upstream := e.accumulators[nodeID]
	delete(e.accumulators, nodeID)
	e.mu.Unlock()

	threadID := e.resolveThread(n, upstream)

	threadCtx, err := e.threads.Context(threadID)
	if err != nil {
		// Stale id adopted from an upstream context after a reset. Recover
		// with a fresh thread; this indicates a broken thread chain.
		e.logger.Warn("stale thread id on merged context, creating fresh thread",
			zap.String("node_id", nodeID),
			zap.String("thread_id", threadID),
		)
		threadID = e.threads.Create(e.brand.Preamble(), "")
		threadCtx, _ = e.threads.Context(threadID)
	}

	// Accumulated upstream content that is not already part of the resolved
	// thread rides along for this call without being persisted: a node can
	// receive its history from one upstream and supplementary context from
	// another. Attachments merge the same way.
	merged := threadCtx
	if extra := supplementalMessages(upstream, threadCtx); len(extra) > 0 {
		merged = merge.Fold(merged, model.ConversationContext{Messages: extra})
	}
	if att := attachmentContext(attachments); !att.Empty() {
		merged = merge.Fold(merged, att)
	}

	promptText := prompt
	if promptText == "" {
		promptText = n.Instruction
	}

	start := time.Now()
	result, genErr := client.Generate(ctx, &provider.Request{
		Instruction: promptText,
		Context:     merged,
	})
	metrics.GenerationDuration.WithLabelValues(client.Name(), string(client.Modality())).
		Observe(time.Since(start).Seconds())

	if genErr != nil {
		e.restoreAccumulator(nodeID, upstream)
		metrics.NodeExecutionsTotal.WithLabelValues(string(n.Kind), "error").Inc()
		e.emitter.Emit(ctx, model.NodeEvent{
			ID:        uuid.Must(uuid.NewV7()).String(),
			NodeID:    nodeID,
			Type:      model.EventTypeNodeError,
			Reason:    genErr.Error(),
			CreatedAt: time.Now(),
		})
		return nil, genErr
	}

	// The completion may be orphaned: the node or thread can disappear while
	// the provider call is in flight. Such completions are dropped silently.
	if !e.graph.Exists(nodeID) || !e.threads.Exists(threadID) {
		e.logger.Info("dropping orphaned completion",
			zap.String("node_id", nodeID),
			zap.String("thread_id", threadID),
		)
		return nil, nil
	}

	if err := e.threads.AppendExchange(threadID,
		model.Message{Content: model.TextContent(promptText)},
		model.Message{Content: result.Content},
	); err != nil {
		if errors.Is(err, thread.ErrThreadNotFound) {
			e.logger.Info("dropping orphaned completion",
				zap.String("node_id", nodeID),
				zap.String("thread_id", threadID),
			)
			return nil, nil
		}
		return nil, err
	}

	outCtx, err := e.threads.Context(threadID)
	if err != nil {
		return nil, err
	}

	sinkID := e.fanOut(ctx, nodeID, outCtx)

	metrics.NodeExecutionsTotal.WithLabelValues(string(n.Kind), "success").Inc()
	e.emitter.Emit(ctx, model.NodeEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		NodeID:    nodeID,
		Type:      model.EventTypeNodeOutput,
		Content:   result.Content,
		Context:   outCtx,
		CreatedAt: time.Now(),
	})

	return &RunResult{
		NodeID:   nodeID,
		ThreadID: threadID,
		Content:  result.Content,
		Context:  outCtx,
		SinkNode: sinkID,
	}, nil
}

// resolveThread decides which thread an execution belongs to. Roots always
// start a fresh thread with the brand voice preamble; continuations adopt the
// id carried on the merged input context.
func (e *Engine) resolveThread(n graph.Node, upstream model.ConversationContext) string {
	if n.Root {
		return e.threads.Create(e.brand.Preamble(), "")
	}
	if upstream.ThreadID != "" {
		return upstream.ThreadID
	}
	// A continuation with no adopted thread id indicates a broken chain.
	e.logger.Warn("continuation node has no upstream thread id, creating fresh thread",
		zap.String("node_id", n.ID),
	)
	return e.threads.Create(e.brand.Preamble(), "")
}

// fanOut delivers the updated context to every downstream node across
// type-compatible edges, creating an implicit display sink when the node has
// no consumer. Returns the sink's id if one was created.
//
// Compatibility was verified when each edge was created; it is re-checked
// here because the graph can mutate while a provider call is in flight.
func (e *Engine) fanOut(ctx context.Context, nodeID string, outCtx model.ConversationContext) string {
	var sinkID string
	if sink, _, created, err := e.graph.EnsureSink(nodeID); err == nil && created {
		sinkID = sink.ID
	}

	for _, edge := range e.graph.Outgoing(nodeID) {
		src, err := e.graph.Node(edge.SourceNode)
		if err != nil {
			continue
		}
		dst, err := e.graph.Node(edge.TargetNode)
		if err != nil {
			continue
		}
		out, ok := src.Connector(edge.SourceConnector, connector.DirectionSource)
		if !ok {
			continue
		}
		in, ok := dst.Connector(edge.TargetConnector, connector.DirectionTarget)
		if !ok {
			continue
		}
		if !connector.Compatible(out.Type, in.Type) {
			e.logger.Warn("skipping stale incompatible edge",
				zap.String("edge_id", edge.ID),
				zap.String("source_type", string(out.Type)),
				zap.String("target_type", string(in.Type)),
			)
			continue
		}

		if err := e.Deliver(ctx, edge.TargetNode, outCtx); err != nil {
			e.logger.Warn("delivery failed",
				zap.String("edge_id", edge.ID),
				zap.String("target_node", edge.TargetNode),
				zap.Error(err),
			)
		}
	}
	return sinkID
}

// RemoveNode deletes a node, its incident edges, and its fan-in accumulator.
// An in-flight execution of the node becomes an orphaned completion.
func (e *Engine) RemoveNode(nodeID string) error {
	if err := e.graph.RemoveNode(nodeID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.accumulators, nodeID)
	e.mu.Unlock()
	return nil
}

// ResetCanvas clears the graph, every thread, and all fan-in state.
func (e *Engine) ResetCanvas() {
	e.graph.Clear()
	e.threads.ClearAll()

	e.mu.Lock()
	e.accumulators = make(map[string]model.ConversationContext)
	e.mu.Unlock()

	e.logger.Info("canvas reset")
}

func (e *Engine) restoreAccumulator(nodeID string, snapshot model.ConversationContext) {
	if snapshot.Empty() {
		return
	}
	e.mu.Lock()
	e.accumulators[nodeID] = merge.Fold(snapshot, e.accumulators[nodeID])
	e.mu.Unlock()
}

func modalityFor(kind graph.NodeKind) provider.Modality {
	switch kind {
	case graph.NodeKindImage:
		return provider.ModalityImage
	case graph.NodeKindVideo:
		return provider.ModalityVideo
	default:
		return provider.ModalityText
	}
}

// supplementalMessages returns the upstream accumulator's messages that are
// not already present in the thread snapshot. Thread-bound deliveries carry
// the thread's own messages, which must not be duplicated; threadless
// deliveries contribute everything.
func supplementalMessages(upstream, threadCtx model.ConversationContext) []model.Message {
	if len(upstream.Messages) == 0 {
		return nil
	}
	inThread := make(map[string]struct{}, len(threadCtx.Messages))
	for _, m := range threadCtx.Messages {
		if m.ID != "" {
			inThread[m.ID] = struct{}{}
		}
	}
	var extra []model.Message
	for _, m := range upstream.Messages {
		if m.ID != "" {
			if _, ok := inThread[m.ID]; ok {
				continue
			}
		}
		extra = append(extra, m)
	}
	return extra
}

func attachmentContext(attachments []model.Attachment) model.ConversationContext {
	if len(attachments) == 0 {
		return model.ConversationContext{}
	}
	parts := make([]model.Part, 0, len(attachments))
	for _, a := range attachments {
		if a.ImageRef != "" {
			parts = append(parts, model.ImagePart(a.ImageRef, a.MIMEType))
			continue
		}
		if a.Text != "" {
			parts = append(parts, model.TextPart(a.Text))
		}
	}
	if len(parts) == 0 {
		return model.ConversationContext{}
	}
	return model.ConversationContext{
		Messages: []model.Message{{Role: model.RoleUser, Content: model.PartsContent(parts...)}},
	}
}
