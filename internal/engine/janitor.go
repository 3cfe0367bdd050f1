package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"go.uber.org/zap"
)

// ExpiredSweeper — репозитории с фоновой уборкой истекших записей.
type ExpiredSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Janitor физически выметает истекшие idempotency-ключи и pending-токены.
// Логическое истечение работает и без него (читатели сравнивают expires_at),
// janitor лишь не дает таблицам распухать. Распределенный лок через SetNX:
// при нескольких инстансах шлюза метет только один.
type Janitor struct {
	rdb      *redis.Client
	idem     ExpiredSweeper
	pending  ExpiredSweeper
	interval time.Duration
	logger   *zap.Logger
}

func NewJanitor(rdb *redis.Client, idem, pending ExpiredSweeper, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		rdb:      rdb,
		idem:     idem,
		pending:  pending,
		interval: interval,
		logger:   logger.Named("janitor"),
	}
}

// Run блокирует до отмены контекста; запускать в отдельной горутине.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", zap.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopping by context...")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	// Лок живет чуть меньше интервала: к следующему тику он гарантированно истек
	ok, err := j.rdb.SetNX(ctx, infra.RedisKeyLockSweep, "processing", j.interval-time.Second).Result()
	if err != nil {
		// Redis лег — лучше промести без лока, чем не мести вовсе
		j.logger.Warn("sweep lock unavailable, sweeping anyway", zap.Error(err))
	} else if !ok {
		return // Другой инстанс уже метет
	}

	now := time.Now().UTC()

	idemN, err := j.idem.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error("idempotency sweep failed", zap.Error(err))
	}

	pendN, err := j.pending.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error("pending sweep failed", zap.Error(err))
	}

	if idemN > 0 || pendN > 0 {
		j.logger.Info("sweep done",
			zap.Int64("idempotency_deleted", idemN),
			zap.Int64("pending_deleted", pendN),
		)
	}
}
