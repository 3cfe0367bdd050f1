package policy

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"go.uber.org/zap"
)

type PolicyRepository interface {
	GetAllPolicies(ctx context.Context) ([]domain.RepoPolicy, error)
}

// MemoStore — In-memory cache правил. В распределенной системе он
// синхронизируется с БД по сигналу из Redis, но в рантайме шлюз обращается
// только к памяти — это Hot Path, Postgres в нем не участвует.
type MemoStore struct {
	mu sync.RWMutex
	// Кэш: "user_id:repo" -> RepoPolicy
	policies map[string]domain.RepoPolicy

	repo   PolicyRepository // Используется только для Refresh()
	rdb    *redis.Client
	logger *zap.Logger
}

func NewMemoStore(repo PolicyRepository, rdb *redis.Client, logger *zap.Logger) *MemoStore {
	return &MemoStore{
		policies: make(map[string]domain.RepoPolicy),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("policy-cache"),
	}
}

// EffectivePolicy реализует PolicyProvider. Иерархия поиска:
// персональное правило -> глобальное ('*') -> консервативный дефолт (Zero Trust).
func (s *MemoStore) EffectivePolicy(userID, repo string) domain.RepoPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.policies[userID+":"+repo]; ok {
		return p
	}
	if p, ok := s.policies["*:"+repo]; ok {
		return p
	}
	return domain.DefaultRepoPolicy()
}

// Refresh выполняет «холодную загрузку» всех правил из PostgreSQL в память
// (при старте и по каждому сигналу инвалидации).
func (s *MemoStore) Refresh(ctx context.Context) error {
	policiesDb, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return err
	}

	newPolicies := make(map[string]domain.RepoPolicy, len(policiesDb))
	for _, p := range policiesDb {
		newPolicies[p.UserID+":"+p.Repo] = p
	}

	s.mu.Lock()
	s.policies = newPolicies
	s.mu.Unlock()

	s.logger.Info("policy cache refreshed", zap.Int("count", len(newPolicies)))
	return nil
}

// StartListener подписывается на сигнал инвалидации от консоли.
// Сигнал простой ("refresh") — шлюз сам перечитывает всю таблицу.
func (s *MemoStore) StartListener(ctx context.Context) {
	infra.ListenResilient(ctx, s.rdb, s.logger, infra.RedisChanPolicyUpdate,
		func() error { return s.Refresh(ctx) },
		func(payload string) {
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("policy refresh on signal failed", zap.Error(err))
			}
		},
	)
}
