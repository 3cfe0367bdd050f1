package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/repoops-gateway/internal/connectors"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"golang.org/x/time/rate"
)

// GuardedExecutor оборачивает внешний коннектор в слой надежности:
// outbound rate limiter -> Circuit Breaker -> ретраи с умной задержкой.
// Не путать с доменным лимитером: этот защищает ВНЕШНИЙ API от нас,
// доменный защищает нас от клиента.
type GuardedExecutor struct {
	next    connectors.Executor
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGuardedExecutor(next connectors.Executor, cfg infra.PipelineConfig, metrics *Metrics) *GuardedExecutor {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "github-connector",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			val := 0.0
			if to == gobreaker.StateOpen {
				val = 1.0
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(val)
		},
	})

	return &GuardedExecutor{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.ExecutorRPS), cfg.ExecutorBurst),
	}
}

func (g *GuardedExecutor) Execute(ctx context.Context, actionType domain.ActionType, target string, payload json.RawMessage) (json.RawMessage, error) {
	// 1. Outbound Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("outbound rate limit: %w", err)
	}

	var finalData json.RawMessage

	// 2. Circuit Breaker
	cbResult, err := g.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если коннектор вернул ThrottleError (например, считал Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			finalData, callErr = g.next.Execute(tCtx, actionType, target, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.(json.RawMessage), nil
}
