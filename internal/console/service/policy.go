package service

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/infra"
)

// PolicyRepository описывает требования сервиса к хранилищу правил
type PolicyRepository interface {
	GetPolicyByID(ctx context.Context, id string) (*domain.RepoPolicy, error)
	GetAllPolicies(ctx context.Context) ([]domain.RepoPolicy, error)
	CreatePolicy(ctx context.Context, p *domain.RepoPolicy) error
	UpdatePolicy(ctx context.Context, p *domain.RepoPolicy) error
	DeletePolicy(ctx context.Context, id string) error
}

type PolicyService struct {
	repo PolicyRepository
	rdb  *redis.Client
}

func NewPolicyService(repo PolicyRepository, rdb *redis.Client) *PolicyService {
	return &PolicyService{
		repo: repo,
		rdb:  rdb,
	}
}

func (s *PolicyService) GetByID(ctx context.Context, id string) (*domain.RepoPolicy, error) {
	return s.repo.GetPolicyByID(ctx, id)
}

// GetAll возвращает все правила из БД
func (s *PolicyService) GetAll(ctx context.Context) ([]domain.RepoPolicy, error) {
	return s.repo.GetAllPolicies(ctx)
}

// Create сохраняет правило и уведомляет шлюзы об обновлении
func (s *PolicyService) Create(ctx context.Context, p *domain.RepoPolicy) error {
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// Update обновляет правило и инициирует инвалидацию кэша
func (s *PolicyService) Update(ctx context.Context, p *domain.RepoPolicy) error {
	if err := s.repo.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// Delete удаляет правило
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// notifyUpdate отправляет широковещательный сигнал в Redis.
// Все инстансы шлюза, подписанные на канал, вызовут Refresh() своего MemoStore.
func (s *PolicyService) notifyUpdate(ctx context.Context) error {
	// Сигнал может быть простым "refresh", так как шлюз сам перечитает всю таблицу
	return s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err()
}
