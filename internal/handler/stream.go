package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nodecanvas-ai/canvas-engine/internal/engine"
	"github.com/nodecanvas-ai/canvas-engine/internal/events"
	"github.com/nodecanvas-ai/canvas-engine/internal/middleware"
	natsclient "github.com/nodecanvas-ai/canvas-engine/internal/nats"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
	"github.com/nodecanvas-ai/canvas-engine/pkg/metrics"
)

// StreamHandler handles SSE streaming of node output events.
type StreamHandler struct {
	engine *engine.Engine
	broker *events.Broker
	stream *natsclient.StreamManager // nil when NATS is not configured
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(eng *engine.Engine, broker *events.Broker, stream *natsclient.StreamManager, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		engine: eng,
		broker: broker,
		stream: stream,
		logger: log,
	}
}

// replayCompleteEvent marks the end of event replay.
type replayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// heartbeatEvent keeps idle SSE connections alive.
type heartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/nodes/:id/output
// Supports ?after_sequence=N for resuming replay from a specific point when
// JetStream persistence is configured.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodeID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(nodeID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.engine.Graph().Exists(nodeID) {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Subscribe before replay so live events are not lost in the gap.
	live, cancel := h.broker.Subscribe(nodeID)
	defer cancel()

	sendSSEEvent(w, flusher, "connected", map[string]string{"node_id": nodeID})

	if h.stream != nil {
		h.replay(w, r, flusher, nodeID, afterSequence)
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("node_id", nodeID))
			return

		case ev, ok := <-live:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, string(ev.Type), ev)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", heartbeatEvent{Timestamp: time.Now()})
		}
	}
}

func (h *StreamHandler) replay(w http.ResponseWriter, r *http.Request, flusher http.Flusher, nodeID string, afterSequence uint64) {
	ctx := r.Context()

	var lastSequence uint64
	var totalReplayed int

	for {
		evs, lastSeq, hasMore, err := h.stream.GetEvents(ctx, nodeID, afterSequence, 50)
		if err != nil {
			h.logger.Error("failed to replay events",
				zap.String("node_id", nodeID),
				zap.Error(err),
			)
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "replay_error",
				"message": "failed to replay events",
			})
			break
		}

		for _, ev := range evs {
			select {
			case <-ctx.Done():
				return
			default:
			}
			sendSSEEvent(w, flusher, string(ev.Type), ev)
			totalReplayed++
		}
		lastSequence = lastSeq

		if !hasMore {
			break
		}
		afterSequence = lastSequence
	}

	sendSSEEvent(w, flusher, "replay_complete", replayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   totalReplayed,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
