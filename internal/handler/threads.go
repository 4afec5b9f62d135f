package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nodecanvas-ai/canvas-engine/internal/middleware"
	"github.com/nodecanvas-ai/canvas-engine/internal/thread"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
)

// ThreadHandler handles thread endpoints.
type ThreadHandler struct {
	threads *thread.Store
	logger  *logger.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(threads *thread.Store, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{threads: threads, logger: log}
}

// Get handles GET /api/v1/threads/:id
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.threads.Get(threadID)
	if err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Reset handles DELETE /api/v1/threads/:id
func (h *ThreadHandler) Reset(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.threads.Reset(threadID); err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAll handles DELETE /api/v1/threads
func (h *ThreadHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	h.threads.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

// Current handles GET /api/v1/threads/current
func (h *ThreadHandler) Current(w http.ResponseWriter, r *http.Request) {
	id := h.threads.Current()
	if id == "" {
		writeError(w, http.StatusNotFound, "no current thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"thread_id": id})
}
