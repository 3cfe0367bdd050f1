package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/repoops-gateway/internal/console/handler"
	"github.com/xela07ax/repoops-gateway/internal/console/service"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"github.com/xela07ax/repoops-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в IdentityService
	identityService *service.IdentityService

	// Обработчики бизнес-доменов
	authHandler         *handler.AuthHandler         // /auth/token
	identityHandler     *handler.IdentityHandler     // /v1/identities (Kill-Switch)
	policyHandler       *handler.PolicyHandler       // /v1/policies
	confirmationHandler *handler.ConfirmationHandler // /v1/confirmations (HITL)
	dashHandler         *handler.DashboardHandler    // /api/v1/dashboard
	auditHandler        *handler.AuditHandler        // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	identityService *service.IdentityService,
	authH *handler.AuthHandler,
	identityH *handler.IdentityHandler,
	policyH *handler.PolicyHandler,
	confirmationH *handler.ConfirmationHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:              chi.NewRouter(),
		logger:              logger.Named("console-api"),
		cfg:                 cfg,
		identityService:     identityService,
		authHandler:         authH,
		identityHandler:     identityH,
		policyHandler:       policyH,
		confirmationHandler: confirmationH,
		dashHandler:         dashH,
		auditHandler:        auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.identityService, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Управление Identity (Kill-Switch)
		r.Route("/v1/identities", func(r chi.Router) {
			r.Get("/blocked", s.identityHandler.ListBlocked)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/block", s.identityHandler.Block)     // Мгновенная блокировка
				r.Post("/unblock", s.identityHandler.Unblock) // Разблокировка
			})
		})

		// Управление правилами (Policy Engine)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/", s.policyHandler.List)    // Все активные правила
			r.Post("/", s.policyHandler.Create) // Создание нового (включая Wildcard '*')
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.policyHandler.Get)       // Детали правила
				r.Put("/", s.policyHandler.Update)    // Редактирование флагов
				r.Delete("/", s.policyHandler.Delete) // Удаление
			})
		})

		// Human-in-the-loop (очередь подтверждений)
		r.Route("/v1/confirmations", func(r chi.Router) {
			r.Get("/", s.confirmationHandler.List) // Живая очередь токенов
			r.Post("/{token}/revoke", s.confirmationHandler.Revoke)
		})

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
		r.Get("/v1/audit/live", s.auditHandler.GetLive)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
