package postgres

/*
Файл action_log_repo.go — append-only журнал действий (Audit Trail).
Записи никогда не обновляются и не удаляются. Поверх этой же таблицы
работают лимитер (окно по created_at) и детектор аномалий (окно по
denial_kind в result), поэтому вставка строго синхронная: следующий
запрос обязан видеть предыдущую запись.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/repoops-gateway/internal/domain"
)

type ActionLogRepo struct {
	pool *pgxpool.Pool
}

func NewActionLogRepo(pool *pgxpool.Pool) *ActionLogRepo {
	return &ActionLogRepo{pool: pool}
}

// Insert добавляет запись. Partial unique index на idempotency_key гарантирует
// инвариант "максимум одна запись на ключ": повторная вставка вернет
// domain.ErrDuplicateKey, а не вторую строку.
func (r *ActionLogRepo) Insert(ctx context.Context, e *domain.ActionLogEntry) error {
	query := `
		INSERT INTO action_logs (id, user_id, action_type, target, request, result, ok, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.UserID, string(e.ActionType), nullIfEmpty(e.Target),
		e.Request, e.Result, e.OK, e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("postgres: failed to insert action log: %w", err)
	}
	return nil
}

// CountSince считает ВСЕ попытки (успешные и нет) в хвостовом окне.
// Отказы тоже расходуют квоту — цель лимитера ограничить объем попыток.
func (r *ActionLogRepo) CountSince(ctx context.Context, userID string, actionType domain.ActionType, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM action_logs
		WHERE user_id = $1 AND action_type = $2 AND created_at >= $3`

	var n int
	if err := r.pool.QueryRow(ctx, query, userID, string(actionType), since).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count action logs: %w", err)
	}
	return n, nil
}

// OldestSince возвращает created_at самой старой записи в окне —
// по ней лимитер вычисляет retry-after.
func (r *ActionLogRepo) OldestSince(ctx context.Context, userID string, actionType domain.ActionType, since time.Time) (time.Time, error) {
	query := `
		SELECT MIN(created_at) FROM action_logs
		WHERE user_id = $1 AND action_type = $2 AND created_at >= $3`

	var oldest sql.NullTime
	if err := r.pool.QueryRow(ctx, query, userID, string(actionType), since).Scan(&oldest); err != nil {
		return time.Time{}, fmt.Errorf("postgres: failed to query oldest entry: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, domain.ErrNotFound
	}
	return oldest.Time, nil
}

// CountDenialsSince считает отказы (rate_limited / policy_denied) в окне.
// security.anomaly исключается явно, чтобы не питать детектор его же выхлопом.
func (r *ActionLogRepo) CountDenialsSince(ctx context.Context, userID string, actionType domain.ActionType, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM action_logs
		WHERE user_id = $1
		  AND action_type = $2
		  AND action_type != 'security.anomaly'
		  AND ok = false
		  AND result->>'denial_kind' IN ('rate_limited', 'policy_denied')
		  AND created_at >= $3`

	var n int
	if err := r.pool.QueryRow(ctx, query, userID, string(actionType), since).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count denials: %w", err)
	}
	return n, nil
}

// List — история действий для audit UI. actionType == "" означает "все типы".
func (r *ActionLogRepo) List(ctx context.Context, userID string, actionType domain.ActionType, limit int) ([]domain.ActionLogEntry, error) {
	query := `
		SELECT id, user_id, action_type, target, request, result, ok, idempotency_key, created_at
		FROM action_logs
		WHERE user_id = $1`

	args := []interface{}{userID}
	if actionType != "" {
		query += " AND action_type = $2"
		args = append(args, string(actionType))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query action logs: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]domain.ActionLogEntry, 0)

	for rows.Next() {
		var e domain.ActionLogEntry
		var target sql.NullString

		if err := rows.Scan(
			&e.ID, &e.UserID, &e.ActionType, &target,
			&e.Request, &e.Result, &e.OK, &e.IdempotencyKey, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan action log: %w", err)
		}
		if target.Valid {
			e.Target = target.String
		}
		results = append(results, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

// GetByIdempotencyKey — чтение записи аудита по ключу (для линковки кэша).
func (r *ActionLogRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.ActionLogEntry, error) {
	query := `
		SELECT id, user_id, action_type, target, request, result, ok, idempotency_key, created_at
		FROM action_logs WHERE idempotency_key = $1`

	var e domain.ActionLogEntry
	var target sql.NullString
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&e.ID, &e.UserID, &e.ActionType, &target,
		&e.Request, &e.Result, &e.OK, &e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Возвращаем nil для 404 в хендлере
		}
		return nil, fmt.Errorf("postgres: failed to query by idempotency key: %w", err)
	}
	if target.Valid {
		e.Target = target.String
	}
	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
