package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"github.com/xela07ax/repoops-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

// StatsProvider описывает требования к хранилищу агрегатов для дашборда.
type StatsProvider interface {
	GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error)
}

// IdentityService управляет Kill-Switch: блокировкой identity на всех
// инстансах шлюза сразу. Состояние живет в Redis Set (источник истины
// для пересинхронизации), сигнал доставляется по Pub/Sub.
// Embedding BaseValidator: сервис одновременно является TokenValidator
// для защищенного периметра консоли.
type IdentityService struct {
	*auth.BaseValidator
	stats  StatsProvider
	rdb    *redis.Client
	logger *zap.Logger
}

func NewIdentityService(rdb *redis.Client, stats StatsProvider, validator *auth.BaseValidator, logger *zap.Logger) *IdentityService {
	return &IdentityService{
		BaseValidator: validator,
		stats:         stats,
		rdb:           rdb,
		logger:        logger.Named("identity-service"),
	}
}

// setBlockedState — унифицированный механизм переключения состояний.
// Обновляет Redis Set и транслирует сигнал всем шлюзам.
func (s *IdentityService) setBlockedState(ctx context.Context, identity, signalValue, actionName string) error {
	// 1. Persistence Layer (Set — источник истины для реконнектов)
	var err error
	if signalValue == "on" {
		err = s.rdb.SAdd(ctx, infra.RedisKeyBlockedIdentities, identity).Err()
	} else {
		err = s.rdb.SRem(ctx, infra.RedisKeyBlockedIdentities, identity).Err()
	}
	if err != nil {
		s.logger.Error("failed to update blocked set",
			zap.String("identity", identity),
			zap.String("action", actionName),
			zap.Error(err))
		return fmt.Errorf("%s redis error: %w", actionName, err)
	}

	// 2. Real-time Signaling
	payload := fmt.Sprintf("%s:%s", identity, signalValue)
	if err := s.rdb.Publish(ctx, infra.RedisChanKillSwitch, payload).Err(); err != nil {
		// Шлюзы догонят состояние при следующей пересинхронизации
		s.logger.Warn("runtime signal delivery failed",
			zap.String("action", actionName),
			zap.Error(err))
	} else {
		s.logger.Info("identity state updated",
			zap.String("identity", identity),
			zap.String("action", actionName))
	}

	return nil
}

func (s *IdentityService) BlockIdentity(ctx context.Context, identity string) error {
	return s.setBlockedState(ctx, identity, "on", "kill-switch-block")
}

func (s *IdentityService) UnblockIdentity(ctx context.Context, identity string) error {
	return s.setBlockedState(ctx, identity, "off", "kill-switch-unblock")
}

// ListBlocked возвращает текущее содержимое Kill-Switch Set.
func (s *IdentityService) ListBlocked(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, infra.RedisKeyBlockedIdentities).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read blocked set: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *IdentityService) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	// здесь можно добавить кэширование в Redis на 1 минуту,
	// чтобы не нагружать Postgres тяжелыми аналитическими запросами.
	return s.stats.GetGlobalStats(ctx)
}
