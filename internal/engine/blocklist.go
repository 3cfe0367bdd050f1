package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"go.uber.org/zap"
)

// BlocklistManager — Kill-Switch уровня identity. Проверка в Hot Path идет
// по локальной мапе (L1), источник истины — Redis Set (L2), который
// наполняет консоль. Сигналы block/unblock приходят по Pub/Sub,
// при реконнекте состояние пересинхронизируется целиком из Set.
type BlocklistManager struct {
	mu      sync.RWMutex
	blocked map[string]struct{}

	rdb    *redis.Client
	logger *zap.Logger
}

func NewBlocklistManager(rdb *redis.Client, logger *zap.Logger) *BlocklistManager {
	return &BlocklistManager{
		blocked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.Named("blocklist"),
	}
}

// IsBlocked — самая дешевая проверка пайплайна (In-memory, RLock).
func (m *BlocklistManager) IsBlocked(identity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, blocked := m.blocked[identity]
	return blocked
}

// MarkBlocked — внутренний метод для обновления мапы
func (m *BlocklistManager) MarkBlocked(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[identity] = struct{}{}
}

func (m *BlocklistManager) MarkUnblocked(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, identity)
}

// Init выполняет полную синхронизацию L1 с Redis Set.
// Вызывается при старте и при каждом переподключении Pub/Sub:
// пока подписки не было, сигналы могли пройти мимо.
func (m *BlocklistManager) Init(ctx context.Context) error {
	ids, err := m.rdb.SMembers(ctx, infra.RedisKeyBlockedIdentities).Result()
	if err != nil {
		return err
	}

	fresh := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fresh[id] = struct{}{}
	}

	m.mu.Lock()
	m.blocked = fresh
	m.mu.Unlock()

	m.logger.Info("blocklist synced", zap.Int("count", len(fresh)))
	return nil
}

// StartListener подписывается на сигналы консоли. Формат сообщения:
// "identity:on" — заблокировать, "identity:off" — разблокировать.
func (m *BlocklistManager) StartListener(ctx context.Context) {
	infra.ListenResilient(ctx, m.rdb, m.logger, infra.RedisChanKillSwitch,
		func() error { return m.Init(ctx) },
		func(payload string) {
			identity, state, ok := strings.Cut(payload, ":")
			if !ok || identity == "" {
				m.logger.Warn("malformed kill-switch signal", zap.String("payload", payload))
				return
			}

			switch state {
			case "on":
				m.MarkBlocked(identity)
				m.logger.Warn("identity BLOCKED by kill-switch", zap.String("identity", identity))
			case "off":
				m.MarkUnblocked(identity)
				m.logger.Info("identity unblocked", zap.String("identity", identity))
			default:
				m.logger.Warn("unknown kill-switch state", zap.String("payload", payload))
			}
		},
	)
}
