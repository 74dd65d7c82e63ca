package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"courier/internal/models"
	"courier/internal/storage"
)

type DestinationHandler struct {
	store storage.Storage
}

func NewDestinationHandler(store storage.Storage) *DestinationHandler {
	return &DestinationHandler{store: store}
}

func (h *DestinationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.store.GetDestination(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get destination")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "destination not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DestinationHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	attempts, err := h.store.GetAttemptsByDestination(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get attempts")
		return
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}
