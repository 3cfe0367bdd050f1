package idempotency

/*
Пакет idempotency инкапсулирует "оптимистичный танец" вокруг unique constraint:
read-before-write, ловим нарушение ограничения, перечитываем победителя.
Вызывающие никогда не видят retry-логику: Store либо фиксирует НАШ ответ,
либо возвращает ЧУЖОЙ уже зафиксированный — два разных ответа под одним
ключом сосуществовать не могут.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

// Repository — что кэшу нужно от Postgres.
type Repository interface {
	Get(ctx context.Context, key, userID, endpoint string) (*domain.IdempotencyRecord, error)
	Insert(ctx context.Context, rec *domain.IdempotencyRecord) error
}

type Cache struct {
	repo   Repository
	ttl    time.Duration
	logger *zap.Logger

	now func() time.Time
}

// DefaultTTL — сутки: достаточно для клиентских ретраев, мало для распухания таблицы.
const DefaultTTL = 24 * time.Hour

func NewCache(repo Repository, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		repo:   repo,
		ttl:    ttl,
		logger: logger.Named("idempotency"),
		now:    time.Now,
	}
}

// Get возвращает ранее зафиксированный ответ или (nil, nil) при промахе.
// Истекшая запись читается как отсутствующая, но НЕ удаляется читателем —
// физическую уборку делает отдельный sweep.
func (c *Cache) Get(ctx context.Context, key, userID, endpoint string) (json.RawMessage, error) {
	rec, err := c.repo.Get(ctx, key, userID, endpoint)
	if err != nil {
		return nil, fmt.Errorf("idempotency: %w", err)
	}
	if rec == nil || rec.Expired(c.now()) {
		return nil, nil
	}
	return rec.Response, nil
}

// Store фиксирует ответ за ключом. Если конкурент уже вставил свой —
// молча возвращаем ЕГО ответ: гонка полностью поглощается здесь.
func (c *Cache) Store(ctx context.Context, key, userID, endpoint string, response json.RawMessage, actionLogID *string) (json.RawMessage, error) {
	now := c.now()
	rec := &domain.IdempotencyRecord{
		Key:         key,
		UserID:      userID,
		Endpoint:    endpoint,
		Response:    response,
		ActionLogID: actionLogID,
		ExpiresAt:   now.Add(c.ttl),
		CreatedAt:   now,
	}

	err := c.repo.Insert(ctx, rec)
	if err == nil {
		return response, nil
	}
	if !errors.Is(err, domain.ErrDuplicateKey) {
		return nil, fmt.Errorf("idempotency: %w", err)
	}

	// Проиграли гонку — перечитываем ответ победителя
	winner, err := c.repo.Get(ctx, key, userID, endpoint)
	if err != nil {
		return nil, fmt.Errorf("idempotency: lost insert race and re-read failed: %w", err)
	}
	if winner == nil {
		// Вставка отбита, а записи нет: победитель успел истечь и быть выметенным.
		// Крайне маловероятно при суточном TTL; отдаем наш ответ как есть.
		c.logger.Warn("idempotency record vanished after duplicate insert",
			zap.String("key", key), zap.String("endpoint", endpoint))
		return response, nil
	}

	c.logger.Debug("idempotency insert race absorbed",
		zap.String("key", key), zap.String("user_id", userID))
	return winner.Response, nil
}
