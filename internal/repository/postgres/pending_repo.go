package postgres

/*
Файл pending_repo.go — хранилище одноразовых токенов подтверждения (HITL).
Consume реализован как DELETE ... RETURNING: атомарная операция исключает
Double Decision — из двух конкурентных подтверждений удалит строку ровно одно.
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

type PendingRepo struct {
	pool *pgxpool.Pool
}

func NewPendingRepo(pool *pgxpool.Pool) *PendingRepo {
	return &PendingRepo{pool: pool}
}

func (r *PendingRepo) Insert(ctx context.Context, p *domain.PendingConfirmation) error {
	query := `
		INSERT INTO pending_confirmations (token, user_id, summary, action_type, repo, target, payload, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		p.Token, p.UserID, p.Summary, string(p.ActionType), p.Repo,
		nullIfEmpty(p.Target), p.Payload, p.ExpiresAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create pending confirmation: %w", err)
	}
	return nil
}

// Get читает токен без учета истечения (маскировка expired == missing — уровнем выше).
func (r *PendingRepo) Get(ctx context.Context, token string) (*domain.PendingConfirmation, error) {
	query := `
		SELECT token, user_id, summary, action_type, repo, target, payload, expires_at, created_at
		FROM pending_confirmations WHERE token = $1`

	p, err := r.scanOne(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to query pending confirmation: %w", err)
	}
	return p, nil
}

// Delete атомарно удаляет и возвращает токен за один проход,
// не делая предварительный SELECT (исключение Race Condition).
// (nil, nil) — токена уже нет: использован, истек и выметен, либо не существовал.
func (r *PendingRepo) Delete(ctx context.Context, token string) (*domain.PendingConfirmation, error) {
	query := `
		DELETE FROM pending_confirmations WHERE token = $1
		RETURNING token, user_id, summary, action_type, repo, target, payload, expires_at, created_at`

	p, err := r.scanOne(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to consume pending confirmation: %w", err)
	}
	return p, nil
}

// ListPending — очередь ожидающих подтверждений для консоли.
func (r *PendingRepo) ListPending(ctx context.Context, now time.Time, limit int) ([]domain.PendingConfirmation, error) {
	query := `
		SELECT token, user_id, summary, action_type, repo, target, payload, expires_at, created_at
		FROM pending_confirmations
		WHERE expires_at > $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query pending confirmations: %w", err)
	}
	defer rows.Close()

	results := make([]domain.PendingConfirmation, 0)
	for rows.Next() {
		var p domain.PendingConfirmation
		var target *string
		if err := rows.Scan(
			&p.Token, &p.UserID, &p.Summary, &p.ActionType, &p.Repo,
			&target, &p.Payload, &p.ExpiresAt, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan pending confirmation: %w", err)
		}
		if target != nil {
			p.Target = *target
		}
		results = append(results, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func (r *PendingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM pending_confirmations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to sweep pending confirmations: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CountPending — для дашборда.
func (r *PendingRepo) CountPending(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_confirmations WHERE expires_at > $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count pending confirmations: %w", err)
	}
	return n, nil
}

func (r *PendingRepo) scanOne(row pgx.Row) (*domain.PendingConfirmation, error) {
	var p domain.PendingConfirmation
	var target *string
	err := row.Scan(
		&p.Token, &p.UserID, &p.Summary, &p.ActionType, &p.Repo,
		&target, &p.Payload, &p.ExpiresAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if target != nil {
		p.Target = *target
	}
	return &p, nil
}
