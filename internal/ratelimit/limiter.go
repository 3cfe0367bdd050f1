package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

// CountingStore — что лимитеру нужно от журнала аудита.
type CountingStore interface {
	CountSince(ctx context.Context, userID string, actionType domain.ActionType, since time.Time) (int, error)
	OldestSince(ctx context.Context, userID string, actionType domain.ActionType, since time.Time) (time.Time, error)
}

// Limiter — хвостовое окно поверх журнала аудита, не token bucket:
// всплески ограничены внутри любого окна, но не сглаживаются.
// Квоту расходуют ВСЕ попытки — и успешные, и отклоненные: цель — ограничить
// объем попыток, а не только состоявшихся действий.
//
// Подсчет read-then-compare без блокировки: на границе два конкурентных
// запроса могут проскочить на единицу выше лимита. Это осознанное
// приближение — лимитер про abuse mitigation, не про строгую квоту.
type Limiter struct {
	store  CountingStore
	window time.Duration
	max    int
	logger *zap.Logger

	now func() time.Time // Подменяется в тестах
}

func NewLimiter(store CountingStore, window time.Duration, max int, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:  store,
		window: window,
		max:    max,
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
}

// Check считает ПРЕДЫДУЩИЕ записи (текущая попытка еще не залогирована):
// N прошлых записей при лимите L пропускают, пока N < L. Reason всегда "N/L".
func (l *Limiter) Check(ctx context.Context, userID string, actionType domain.ActionType) (domain.RateLimitResult, error) {
	now := l.now()
	since := now.Add(-l.window)

	n, err := l.store.CountSince(ctx, userID, actionType, since)
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("ratelimit: %w", err)
	}

	res := domain.RateLimitResult{
		Current: n,
		Limit:   l.max,
		Reason:  fmt.Sprintf("%d/%d", n, l.max),
	}

	if n < l.max {
		res.Admitted = true
		return res, nil
	}

	// Отказ: считаем, когда самая старая запись выйдет из окна
	oldest, err := l.store.OldestSince(ctx, userID, actionType, since)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Count > 0, но старейшей нет — гонка со sweep'ом; отдаем минимум
			res.RetryAfter = time.Second
			return res, nil
		}
		return domain.RateLimitResult{}, fmt.Errorf("ratelimit: %w", err)
	}

	retryAfter := oldest.Add(l.window).Sub(now)
	if retryAfter <= 0 {
		// Строго положительный retry-after по контракту
		retryAfter = time.Second
	}
	res.RetryAfter = retryAfter

	l.logger.Debug("rate limit exceeded",
		zap.String("user_id", userID),
		zap.String("action_type", string(actionType)),
		zap.String("usage", res.Reason),
		zap.Duration("retry_after", retryAfter),
	)
	return res, nil
}
