package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/repoops-gateway/internal/console/handler"
	"github.com/xela07ax/repoops-gateway/internal/console/server"
	"github.com/xela07ax/repoops-gateway/internal/console/service"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"github.com/xela07ax/repoops-gateway/internal/infra/auth"
	"github.com/xela07ax/repoops-gateway/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.Database)
	initCancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	// Консоль и подписывает (private), и проверяет (public) токены
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid RSA public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid RSA private key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 3. Инициализация слоев (Dependency Injection)
	userRepo := postgres.NewUserRepo(pool)
	policyRepo := postgres.NewPolicyRepo(pool)
	pendRepo := postgres.NewPendingRepo(pool)
	logRepo := postgres.NewActionLogRepo(pool)
	statsRepo := postgres.NewStatsRepo(pool)

	authService := service.NewAuthService(userRepo, privKey, cfg.Auth.TokenTTL)
	identityService := service.NewIdentityService(rdb, statsRepo, validator, logger)
	policyService := service.NewPolicyService(policyRepo, rdb)
	confirmationService := service.NewConfirmationService(pendRepo, logger)
	auditService := service.NewAuditService(logRepo, rdb, logger)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		identityService,
		handler.NewAuthHandler(authService),
		handler.NewIdentityHandler(identityService, logger),
		handler.NewPolicyHandler(policyService),
		handler.NewConfirmationHandler(confirmationService),
		handler.NewDashboardHandler(identityService),
		handler.NewAuditHandler(auditService),
	)

	// 4. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console exited properly")
}
