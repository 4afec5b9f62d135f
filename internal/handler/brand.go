package handler

import (
	"encoding/json"
	"net/http"

	"github.com/nodecanvas-ai/canvas-engine/internal/brand"
	"github.com/nodecanvas-ai/canvas-engine/internal/middleware"
	"github.com/nodecanvas-ai/canvas-engine/internal/model"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
)

// BrandHandler handles brand voice endpoints.
type BrandHandler struct {
	store  *brand.Store
	logger *logger.Logger
}

// NewBrandHandler creates a new brand voice handler.
func NewBrandHandler(store *brand.Store, log *logger.Logger) *BrandHandler {
	return &BrandHandler{store: store, logger: log}
}

// Get handles GET /api/v1/brand-voice
func (h *BrandHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.BrandVoiceRequest{
		Preamble: h.store.Preamble(),
	})
}

// Set handles PUT /api/v1/brand-voice
func (h *BrandHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req model.BrandVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidatePreamble(req.Preamble); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.store.SetPreamble(req.Preamble)
	writeJSON(w, http.StatusOK, req)
}
