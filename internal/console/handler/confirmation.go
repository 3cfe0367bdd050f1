package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/repoops-gateway/internal/console/service"
)

type ConfirmationHandler struct {
	service *service.ConfirmationService
}

func NewConfirmationHandler(s *service.ConfirmationService) *ConfirmationHandler {
	return &ConfirmationHandler{service: s}
}

// List возвращает очередь живых pending-подтверждений (HITL)
// GET /v1/confirmations?limit=...
func (h *ConfirmationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to fetch pending confirmations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// Revoke досрочно отзывает токен: действие нельзя будет подтвердить
// POST /v1/confirmations/{token}/revoke
func (h *ConfirmationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	ok, err := h.service.Revoke(r.Context(), token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Confirmation not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
