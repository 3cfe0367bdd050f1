package postgres

/*
Файл idempotency_repo.go — хранилище ответов под клиентскими Idempotency Key.
Инвариант "один ключ — один ответ" держится на unique constraint
(user_id, endpoint, key): проигравший гонку писатель получает
domain.ErrDuplicateKey и обязан перечитать ответ победителя.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/repoops-gateway/internal/domain"
)

type IdempotencyRepo struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepo(pool *pgxpool.Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Get возвращает запись без учета истечения — логика "expired == miss"
// живет уровнем выше, в Cache (читатели ничего не удаляют).
func (r *IdempotencyRepo) Get(ctx context.Context, key, userID, endpoint string) (*domain.IdempotencyRecord, error) {
	query := `
		SELECT key, user_id, endpoint, response, action_log_id, expires_at, created_at
		FROM idempotency_keys
		WHERE key = $1 AND user_id = $2 AND endpoint = $3`

	var rec domain.IdempotencyRecord
	err := r.pool.QueryRow(ctx, query, key, userID, endpoint).Scan(
		&rec.Key, &rec.UserID, &rec.Endpoint, &rec.Response,
		&rec.ActionLogID, &rec.ExpiresAt, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to query idempotency key: %w", err)
	}
	return &rec, nil
}

// Insert пытается зафиксировать ответ за ключом.
// Нарушение unique constraint — это domain.ErrDuplicateKey, не ошибка БД.
func (r *IdempotencyRepo) Insert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_keys (key, user_id, endpoint, response, action_log_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		rec.Key, rec.UserID, rec.Endpoint, rec.Response,
		rec.ActionLogID, rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("postgres: failed to insert idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired — физическая уборка истекших записей (вызывается janitor'ом).
func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to sweep idempotency keys: %w", err)
	}
	return ct.RowsAffected(), nil
}
