package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"courier/internal/models"
	"courier/internal/storage"
)

type MessageHandler struct {
	store storage.Storage
	wake  WakeFunc
}

func NewMessageHandler(store storage.Storage, wake WakeFunc) *MessageHandler {
	return &MessageHandler{store: store, wake: wake}
}

type createDestinationRequest struct {
	Messenger string `json:"messenger"`
	ChatID    string `json:"chat_id"`
}

type createMessageRequest struct {
	PayloadType  string                     `json:"payload_type"`
	Payload      string                     `json:"payload"`
	RequestedBy  string                     `json:"requested_by"`
	Destinations []createDestinationRequest `json:"destinations"`
}

const maxPayloadSize = 256 * 1024 // 256KB

func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Payload == "" {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}
	if req.RequestedBy == "" {
		writeError(w, http.StatusBadRequest, "requested_by is required")
		return
	}
	if len(req.Destinations) == 0 {
		writeError(w, http.StatusBadRequest, "at least one destination is required")
		return
	}

	payloadType := models.PayloadType(req.PayloadType)
	switch payloadType {
	case "":
		payloadType = models.PayloadPlain
	case models.PayloadPlain, models.PayloadMarkdown, models.PayloadHTML:
	default:
		writeError(w, http.StatusBadRequest, "unsupported payload_type")
		return
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:          models.NewID("msg"),
		PayloadType: payloadType,
		Payload:     req.Payload,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	dests := make([]models.Destination, 0, len(req.Destinations))
	for _, dr := range req.Destinations {
		messenger, err := models.ParseMessengerType(dr.Messenger)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if dr.ChatID == "" {
			writeError(w, http.StatusBadRequest, "chat_id is required for every destination")
			return
		}
		dests = append(dests, models.Destination{
			ID:        models.NewID("dst"),
			MessageID: msg.ID,
			Messenger: messenger,
			ChatID:    dr.ChatID,
			Status:    models.DestinationPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := h.store.CreateMessage(r.Context(), msg, dests); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create message")
		return
	}

	if h.wake != nil {
		h.wake(r.Context(), msg.ID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":      msg,
		"destinations": dests,
	})
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	dests, err := h.store.GetDestinationsByMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get destinations")
		return
	}
	if dests == nil {
		dests = []models.Destination{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      msg,
		"destinations": dests,
	})
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := h.store.ListMessages(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Retry re-arms a message's failed destinations for an immediate attempt.
// Terminal sent destinations are untouched.
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	retried, err := h.store.RequeueFailedDestinations(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to requeue destinations")
		return
	}

	if retried > 0 && h.wake != nil {
		h.wake(r.Context(), id)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"retried": retried,
	})
}
