package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"github.com/xela07ax/repoops-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

// Server — HTTP-фасад шлюза (Data Plane). Тонкий слой: парсинг, проверка
// scope из токена, маппинг доменных исходов в статус-коды. Вся логика — в Core.
type Server struct {
	router *chi.Mux
	core   *Core
	logger *zap.Logger
	cfg    *infra.Config

	validator auth.TokenValidator
}

func NewServer(cfg *infra.Config, core *Core, validator auth.TokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		core:      core,
		logger:    logger.Named("gateway-api"),
		cfg:       cfg,
		validator: validator,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.Route("/v1/actions", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Post("/confirm", s.handleConfirm)
			r.Get("/history", s.handleHistory)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	identity, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	req.Identity = identity

	// ПРОВЕРКА ПРАВ ИЗ ТОКЕНА (Scopes): токен должен явно разрешать тип действия
	scopes, ok := auth.ScopesFromContext(r.Context())
	if !ok || !scopes[string(req.ActionType)] {
		s.writeError(w, http.StatusForbidden, "token does not grant permission for "+string(req.ActionType))
		return
	}

	res, err := s.core.Submit(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	switch res.Status {
	case domain.StatusNeedsConfirmation:
		s.writeJSON(w, http.StatusAccepted, res)
	case domain.StatusDenied:
		if res.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(res.RetryAfterSeconds, 10))
			s.writeJSON(w, http.StatusTooManyRequests, res)
			return
		}
		s.writeJSON(w, http.StatusForbidden, res)
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

type confirmRequest struct {
	ConfirmationToken string `json:"confirmation_token"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	identity, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := s.core.Confirm(r.Context(), identity, req.ConfirmationToken)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if res.Status == domain.StatusDenied {
		s.writeJSON(w, http.StatusForbidden, res)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	actionType := domain.ActionType(r.URL.Query().Get("action_type"))

	entries, err := s.core.History(r.Context(), identity, actionType, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// writeDomainError превращает доменные ошибки в HTTP-статусы.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *domain.ValidationError
	var exErr *domain.ExecutionError

	switch {
	case errors.As(err, &vErr):
		s.writeError(w, http.StatusBadRequest, vErr.Reason)
	case errors.Is(err, domain.ErrConfirmationInvalid):
		// Несуществующий, истекший, использованный, чужой — один ответ
		s.writeError(w, http.StatusNotFound, domain.ErrConfirmationInvalid.Error())
	case errors.As(err, &exErr):
		s.logger.Error("execution failure",
			zap.String("trace_id", extractTraceID(r.Context())), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "action execution failed")
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.logger.Error("store unavailable",
			zap.String("trace_id", extractTraceID(r.Context())), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		// Детали внутренних ошибок наружу не отдаем
		s.logger.Error("unhandled pipeline error",
			zap.String("trace_id", extractTraceID(r.Context())), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
