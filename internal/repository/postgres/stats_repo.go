package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/repoops-gateway/internal/domain"
)

type StatsRepo struct {
	pool *pgxpool.Pool
}

func NewStatsRepo(pool *pgxpool.Pool) *StatsRepo {
	return &StatsRepo{pool: pool}
}

// GetGlobalStats — агрегаты за сутки для дашборда консоли.
func (r *StatsRepo) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	since := time.Now().Add(-24 * time.Hour)
	stats := &domain.GlobalStats{TopActionTypes: make(map[string]int64)}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE action_type != 'security.anomaly'),
			COUNT(*) FILTER (WHERE ok = false AND action_type != 'security.anomaly'),
			COUNT(*) FILTER (WHERE action_type = 'security.anomaly')
		FROM action_logs WHERE created_at >= $1`

	if err := r.pool.QueryRow(ctx, query, since).Scan(
		&stats.TotalActions, &stats.DeniedActions, &stats.Anomalies,
	); err != nil {
		return nil, fmt.Errorf("postgres: failed to query global stats: %w", err)
	}

	if stats.TotalActions > 0 {
		stats.DenialRatio = float64(stats.DeniedActions) / float64(stats.TotalActions)
	}

	topQuery := `
		SELECT action_type, COUNT(*) AS cnt
		FROM action_logs
		WHERE created_at >= $1 AND action_type != 'security.anomaly'
		GROUP BY action_type
		ORDER BY cnt DESC
		LIMIT 10`

	rows, err := r.pool.Query(ctx, topQuery, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query top action types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan top action types: %w", err)
		}
		stats.TopActionTypes[t] = n
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	pendingQuery := `SELECT COUNT(*) FROM pending_confirmations WHERE expires_at > now()`
	if err := r.pool.QueryRow(ctx, pendingQuery).Scan(&stats.PendingConfirmations); err != nil {
		return nil, fmt.Errorf("postgres: failed to count pending confirmations: %w", err)
	}

	return stats, nil
}
