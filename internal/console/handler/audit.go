package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/repoops-gateway/internal/console/service"
	"github.com/xela07ax/repoops-gateway/internal/domain"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает историческую выборку журнала с поддержкой фильтрации
// GET /v1/audit?user_id=...&action_type=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id query param is required", http.StatusBadRequest)
		return
	}
	actionType := domain.ActionType(r.URL.Query().Get("action_type"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.service.FetchLogs(r.Context(), userID, actionType, limit)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

// GetLive возвращает хвост живой ленты (Redis Stream зеркало)
// GET /v1/audit/live?count=...
func (h *AuditHandler) GetLive(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))

	entries, err := h.service.TailLive(r.Context(), count)
	if err != nil {
		http.Error(w, "Failed to read live feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
