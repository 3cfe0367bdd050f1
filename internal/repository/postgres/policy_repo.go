package postgres

/*
Файл policy_repo.go отвечает за хранение и поставку правил (RepoPolicy).
Слой обеспечивает отделение долговременного хранения правил в PostgreSQL
от их мгновенной проверки в оперативной памяти шлюза.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/repoops-gateway/internal/domain"
)

type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

const policyColumns = `id, user_id, repo, allow_merge, allow_rerun, allow_request_review, allow_comment,
	require_confirmation, require_checks_green, required_approvals, created_at, updated_at`

// GetPolicy — точечное правило для связки Identity + Repo.
// Логика Wildcards: сначала персональное правило пользователя, потом общее ('*').
// Отсутствие записи (nil, nil) трактуется выше как консервативный дефолт.
func (r *PolicyRepo) GetPolicy(ctx context.Context, userID, repo string) (*domain.RepoPolicy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM repo_policies
		WHERE (user_id = $1 OR user_id = '*') AND repo = $2
		ORDER BY (user_id != '*') DESC -- Сначала персональные правила
		LIMIT 1`

	p, err := scanPolicy(r.pool.QueryRow(ctx, query, userID, repo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to query policy: %w", err)
	}
	return p, nil
}

func (r *PolicyRepo) GetPolicyByID(ctx context.Context, id string) (*domain.RepoPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM repo_policies WHERE id = $1`

	p, err := scanPolicy(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Возвращаем nil для 404 в хендлере
		}
		return nil, fmt.Errorf("postgres: failed to query policy by id: %w", err)
	}
	return p, nil
}

// GetAllPolicies выполняет "холодную загрузку" всего набора правил при старте шлюза.
func (r *PolicyRepo) GetAllPolicies(ctx context.Context) ([]domain.RepoPolicy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+` FROM repo_policies`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query policies: %w", err)
	}
	defer rows.Close()

	var results []domain.RepoPolicy
	for rows.Next() {
		var p domain.RepoPolicy
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Repo, &p.AllowMerge, &p.AllowRerun, &p.AllowRequestReview, &p.AllowComment,
			&p.RequireConfirmation, &p.RequireChecksGreen, &p.RequiredApprovals, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan policy: %w", err)
		}
		results = append(results, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// CreatePolicy создает новую запись.
// Позволяет задавать user_id = '*' для глобальных правил.
func (r *PolicyRepo) CreatePolicy(ctx context.Context, p *domain.RepoPolicy) error {
	query := `
		INSERT INTO repo_policies (id, user_id, repo, allow_merge, allow_rerun, allow_request_review, allow_comment,
			require_confirmation, require_checks_green, required_approvals)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		p.UserID, p.Repo, p.AllowMerge, p.AllowRerun, p.AllowRequestReview, p.AllowComment,
		p.RequireConfirmation, p.RequireChecksGreen, p.RequiredApprovals,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: policy for (%s, %s) already exists", p.UserID, p.Repo)
		}
		return fmt.Errorf("postgres: failed to create policy: %w", err)
	}
	return nil
}

// UpdatePolicy обновляет переключатели существующего правила.
func (r *PolicyRepo) UpdatePolicy(ctx context.Context, p *domain.RepoPolicy) error {
	query := `
		UPDATE repo_policies
		SET allow_merge = $1, allow_rerun = $2, allow_request_review = $3, allow_comment = $4,
		    require_confirmation = $5, require_checks_green = $6, required_approvals = $7,
		    updated_at = NOW()
		WHERE id = $8`

	ct, err := r.pool.Exec(ctx, query,
		p.AllowMerge, p.AllowRerun, p.AllowRequestReview, p.AllowComment,
		p.RequireConfirmation, p.RequireChecksGreen, p.RequiredApprovals, p.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update policy: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy not found")
	}
	return nil
}

// DeletePolicy удаляет правило по ID.
func (r *PolicyRepo) DeletePolicy(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM repo_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete policy: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy not found")
	}
	return nil
}

func scanPolicy(row pgx.Row) (*domain.RepoPolicy, error) {
	var p domain.RepoPolicy
	err := row.Scan(
		&p.ID, &p.UserID, &p.Repo, &p.AllowMerge, &p.AllowRerun, &p.AllowRequestReview, &p.AllowComment,
		&p.RequireConfirmation, &p.RequireChecksGreen, &p.RequiredApprovals, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
