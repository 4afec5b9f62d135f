// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nodecanvas-ai/canvas-engine/internal/connector"
	"github.com/nodecanvas-ai/canvas-engine/internal/engine"
	"github.com/nodecanvas-ai/canvas-engine/internal/graph"
	"github.com/nodecanvas-ai/canvas-engine/internal/middleware"
	"github.com/nodecanvas-ai/canvas-engine/internal/model"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
)

// GraphHandler handles canvas node and edge endpoints.
type GraphHandler struct {
	engine *engine.Engine
	logger *logger.Logger
}

// NewGraphHandler creates a new graph handler.
func NewGraphHandler(eng *engine.Engine, log *logger.Logger) *GraphHandler {
	return &GraphHandler{engine: eng, logger: log}
}

// CreateNode handles POST /api/v1/nodes
func (h *GraphHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req model.CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateInstruction(req.Instruction); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind, err := parseNodeKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	connectors, err := buildConnectors(req.Inputs, req.Outputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.engine.Graph().AddNode(graph.Node{
		Kind:        kind,
		Root:        req.Root,
		Instruction: req.Instruction,
		Connectors:  connectors,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

// GetNode handles GET /api/v1/nodes/:id
func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(nodeID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.engine.Graph().Node(nodeID)
	if err != nil {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DeleteNode handles DELETE /api/v1/nodes/:id
func (h *GraphHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(nodeID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.RemoveNode(nodeID); err != nil {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProposeEdge handles POST /api/v1/edges
//
// An incompatible pairing is a rejected operation, not a server error: the
// response reports allowed=false with a message naming both connector types,
// and the edge set is left unchanged.
func (h *GraphHandler) ProposeEdge(w http.ResponseWriter, r *http.Request) {
	var req model.ProposeEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	e, err := h.engine.Graph().Connect(req.SourceNode, req.SourceConnector, req.TargetNode, req.TargetConnector)
	if err != nil {
		var incompatible *connector.IncompatibleError
		if errors.As(err, &incompatible) {
			writeJSON(w, http.StatusUnprocessableEntity, model.ProposeEdgeResponse{
				Allowed: false,
				Reason:  incompatible.Error(),
			})
			return
		}
		if errors.Is(err, graph.ErrNodeNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, model.ProposeEdgeResponse{
		Allowed: true,
		EdgeID:  e.ID,
	})
}

// DeleteEdge handles DELETE /api/v1/edges/:id
func (h *GraphHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	edgeID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(edgeID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.Graph().Disconnect(edgeID); err != nil {
		writeError(w, http.StatusNotFound, "edge not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEdges handles GET /api/v1/edges
func (h *GraphHandler) ListEdges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"edges": h.engine.Graph().Edges(),
	})
}

// RunNode handles POST /api/v1/nodes/:id/run
func (h *GraphHandler) RunNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodeID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(nodeID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RunNodeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := middleware.ValidatePrompt(req.Prompt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Run(ctx, nodeID, req.Prompt, req.Attachments)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrNodeNotFound):
			writeError(w, http.StatusNotFound, "node not found")
		case errors.Is(err, engine.ErrNotRunnable):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("node run failed", zap.String("node_id", nodeID), zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	if result == nil {
		// Orphaned completion: the node or thread went away mid-flight.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ResetCanvas handles DELETE /api/v1/canvas
func (h *GraphHandler) ResetCanvas(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetCanvas()
	w.WriteHeader(http.StatusNoContent)
}

func parseNodeKind(s string) (graph.NodeKind, error) {
	switch graph.NodeKind(s) {
	case graph.NodeKindText, graph.NodeKindImage, graph.NodeKindVideo, graph.NodeKindDisplay:
		return graph.NodeKind(s), nil
	}
	return "", errors.New("unknown node kind")
}

func buildConnectors(inputs, outputs []model.ConnectorSpec) ([]graph.Connector, error) {
	var out []graph.Connector
	for _, spec := range inputs {
		t, err := connector.Parse(spec.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Connector{Name: spec.Name, Type: t, Direction: connector.DirectionTarget})
	}
	for _, spec := range outputs {
		t, err := connector.Parse(spec.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Connector{Name: spec.Name, Type: t, Direction: connector.DirectionSource})
	}
	return out, nil
}
