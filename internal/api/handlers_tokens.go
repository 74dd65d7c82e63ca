package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"courier/internal/models"
	"courier/internal/storage"
)

type TokenHandler struct {
	store storage.Storage
}

func NewTokenHandler(store storage.Storage) *TokenHandler {
	return &TokenHandler{store: store}
}

type registerTokenRequest struct {
	UserID       string `json:"user_id"`
	Messenger    string `json:"messenger"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "user_id and access_token are required")
		return
	}
	messenger, err := models.ParseMessengerType(req.Messenger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	token := &models.Token{
		ID:           models.NewID("tok"),
		UserID:       req.UserID,
		Messenger:    messenger,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Status:       models.TokenActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.CreateToken(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register token")
		return
	}

	writeJSON(w, http.StatusCreated, sanitizeToken(*token))
}

func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	tokens, err := h.store.ListTokens(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}

	out := make([]models.Token, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, sanitizeToken(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token, err := h.store.GetToken(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get token")
		return
	}
	if token == nil {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}

	if err := h.store.UpdateTokenStatus(r.Context(), id, models.TokenRevoked); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"revoked": id})
}

// sanitizeToken strips credential material before the token leaves the API.
func sanitizeToken(t models.Token) models.Token {
	t.AccessToken = ""
	t.RefreshToken = ""
	return t
}
