// Package events delivers node output and error events to the UI shell.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/nodecanvas-ai/canvas-engine/internal/model"
	natsclient "github.com/nodecanvas-ai/canvas-engine/internal/nats"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
)

// Emitter receives node events produced by the propagation engine. Emission
// is best-effort: a failing emitter never affects the execution that produced
// the event.
type Emitter interface {
	Emit(ctx context.Context, event model.NodeEvent)
}

// Noop discards every event.
type Noop struct{}

// Emit discards the event.
func (Noop) Emit(ctx context.Context, event model.NodeEvent) {}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit delivers the event to each emitter.
func (m Multi) Emit(ctx context.Context, event model.NodeEvent) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}

// JetStream publishes events to the canvas JetStream stream so the UI shell
// has a replayable output log.
type JetStream struct {
	stream *natsclient.StreamManager
	logger *logger.Logger
}

// NewJetStream creates a JetStream-backed emitter.
func NewJetStream(stream *natsclient.StreamManager, log *logger.Logger) *JetStream {
	return &JetStream{stream: stream, logger: log}
}

// Emit publishes the event. Publish failures are logged and dropped.
func (j *JetStream) Emit(ctx context.Context, event model.NodeEvent) {
	if _, err := j.stream.PublishEvent(ctx, &event); err != nil {
		j.logger.Warn("failed to publish node event",
			zap.String("node_id", event.NodeID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}
