package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/repoops-gateway/internal/console/service"
	"go.uber.org/zap"
)

type IdentityHandler struct {
	service *service.IdentityService
	logger  *zap.Logger
}

func NewIdentityHandler(s *service.IdentityService, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{service: s, logger: logger.Named("identity-handler")}
}

// ListBlocked возвращает содержимое Kill-Switch Set.
// GET /v1/identities/blocked
func (h *IdentityHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ListBlocked(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch blocked identities", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"blocked": ids})
}

// Block мгновенно блокирует identity на всех шлюзах (Kill-Switch).
// POST /v1/identities/{id}/block
func (h *IdentityHandler) Block(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "id")
	if identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}

	// Ждем завершения и Redis Set, и Publish: безопасность важнее латентности
	if err := h.service.BlockIdentity(r.Context(), identity); err != nil {
		h.logger.Error("failed to block identity", zap.String("identity", identity), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unblock снимает блокировку.
// POST /v1/identities/{id}/unblock
func (h *IdentityHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "id")
	if identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}

	if err := h.service.UnblockIdentity(r.Context(), identity); err != nil {
		h.logger.Error("failed to unblock identity", zap.String("identity", identity), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
