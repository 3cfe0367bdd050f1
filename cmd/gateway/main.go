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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/repoops-gateway/internal/anomaly"
	"github.com/xela07ax/repoops-gateway/internal/audit"
	"github.com/xela07ax/repoops-gateway/internal/connectors"
	"github.com/xela07ax/repoops-gateway/internal/engine"
	"github.com/xela07ax/repoops-gateway/internal/idempotency"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"github.com/xela07ax/repoops-gateway/internal/infra/auth"
	"github.com/xela07ax/repoops-gateway/internal/pending"
	"github.com/xela07ax/repoops-gateway/internal/policy"
	"github.com/xela07ax/repoops-gateway/internal/ratelimit"
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

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	initCtx, initCancel := context.WithTimeout(appCtx, 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.Database)
	initCancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid RSA public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 3. Репозитории
	logRepo := postgres.NewActionLogRepo(pool)
	idemRepo := postgres.NewIdempotencyRepo(pool)
	pendRepo := postgres.NewPendingRepo(pool)
	policyRepo := postgres.NewPolicyRepo(pool)

	// 4. Audit Trail: синхронный журнал + best-effort зеркало в Redis Stream
	mirror := audit.NewMirror(rdb, logger)
	mirror.Start()
	defer mirror.Stop() // Drain Pattern: дожимаем буфер при выходе

	journal := audit.NewJournal(logRepo, mirror, logger)

	// 5. Control Plane (Kill-Switch и кэш политик)
	blocklist := engine.NewBlocklistManager(rdb, logger)
	if err := blocklist.Init(appCtx); err != nil {
		// Не фатально: слушатель пересинхронизируется при первом коннекте
		logger.Warn("blocklist warm-up failed, continuing cold", zap.Error(err))
	}
	go blocklist.StartListener(appCtx)

	memo := policy.NewMemoStore(policyRepo, rdb, logger)
	if err := memo.Refresh(appCtx); err != nil {
		logger.Fatal("policy cache warm-up failed", zap.Error(err))
	}
	go memo.StartListener(appCtx)

	// 6. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// Заполненность буфера зеркала и очередь HITL — дешевый опрос раз в 5 секунд
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.AuditBufferFill.Set(float64(mirror.Len()))
				if n, err := pendRepo.CountPending(appCtx, time.Now().UTC()); err == nil {
					metrics.PendingConfirmations.Set(float64(n))
				}
			}
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 7. Execution Layer (Исполнение + Надежность)
	// Mock-коннектор: реальный GitHub-коннектор подключается тем же интерфейсом
	executor := engine.NewGuardedExecutor(&connectors.MockGitHubConnector{}, cfg.Pipeline, metrics)

	// 8. Core (Сборка пайплайна)
	core := engine.NewCore(
		idempotency.NewCache(idemRepo, cfg.Pipeline.IdempotencyTTL, logger),
		ratelimit.NewLimiter(logRepo, cfg.Pipeline.RateLimitWindow, cfg.Pipeline.RateLimitMax, logger),
		policy.NewEngine(memo),
		pending.NewStore(pendRepo, cfg.Pipeline.ConfirmationTTL, logger),
		anomaly.NewDetector(logRepo, journal, cfg.Pipeline.AnomalyWindow, cfg.Pipeline.AnomalyThreshold, logger),
		journal,
		blocklist,
		executor,
		logRepo,
		metrics,
		logger,
	)

	// 9. Фоновая уборка истекших записей
	janitor := engine.NewJanitor(rdb, idemRepo, pendRepo, cfg.Pipeline.SweepInterval, logger)
	go janitor.Run(appCtx)

	// 10. HTTP Server
	apiServer := engine.NewServer(cfg, core, validator, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 11. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("gateway stopping...")
	cancel() // Останавливаем слушателей и janitor

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("gateway exited properly")
}
