package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"go.uber.org/zap"
)

// AuditReader описывает требования сервиса к журналу в Postgres.
type AuditReader interface {
	List(ctx context.Context, userID string, actionType domain.ActionType, limit int) ([]domain.ActionLogEntry, error)
}

// AuditService отдает журнал двумя путями: исторические выборки из Postgres
// и живую ленту из Redis Stream (зеркало, которое пишет шлюз).
type AuditService struct {
	repo   AuditReader
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAuditService(repo AuditReader, rdb *redis.Client, logger *zap.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("audit-service"),
	}
}

// FetchLogs — историческая выборка по пользователю (и опционально типу действия).
func (s *AuditService) FetchLogs(ctx context.Context, userID string, actionType domain.ActionType, limit int) ([]domain.ActionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.repo.List(ctx, userID, actionType, limit)
}

// TailLive читает хвост зеркала аудита (новые события первыми).
// Зеркало best-effort: при потере событий истина всегда в Postgres.
func (s *AuditService) TailLive(ctx context.Context, count int) ([]domain.ActionLogEntry, error) {
	if count <= 0 {
		count = 50
	}
	if count > 500 {
		count = 500
	}

	msgs, err := s.rdb.XRevRangeN(ctx, infra.RedisKeyAuditStream, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit stream: %w", err)
	}

	entries := make([]domain.ActionLogEntry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["entry"].(string)
		if !ok {
			continue
		}
		var e domain.ActionLogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("malformed stream entry skipped", zap.String("stream_id", msg.ID))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
