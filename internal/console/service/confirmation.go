package service

import (
	"context"
	"time"

	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

// ConfirmationRepository описывает требования к хранилищу pending-токенов.
type ConfirmationRepository interface {
	ListPending(ctx context.Context, now time.Time, limit int) ([]domain.PendingConfirmation, error)
	Delete(ctx context.Context, token string) (*domain.PendingConfirmation, error)
}

// ConfirmationService — обзор очереди HITL для оператора. Подтверждение
// делает сам клиент через шлюз (он владеет токеном); консоль может только
// смотреть очередь и отзывать зависшие токены.
type ConfirmationService struct {
	repo   ConfirmationRepository
	logger *zap.Logger
}

func NewConfirmationService(repo ConfirmationRepository, logger *zap.Logger) *ConfirmationService {
	return &ConfirmationService{
		repo:   repo,
		logger: logger.Named("confirmation-service"),
	}
}

func (s *ConfirmationService) ListPending(ctx context.Context, limit int) ([]domain.PendingConfirmation, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListPending(ctx, time.Now().UTC(), limit)
}

// Revoke досрочно гасит токен: действие больше нельзя подтвердить.
// Возвращает false, если токена уже нет (истек, использован, отозван).
func (s *ConfirmationService) Revoke(ctx context.Context, token string) (bool, error) {
	p, err := s.repo.Delete(ctx, token)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	s.logger.Info("pending confirmation revoked by operator",
		zap.String("user_id", p.UserID),
		zap.String("action_type", string(p.ActionType)),
		zap.String("target", p.Target),
	)
	return true, nil
}
