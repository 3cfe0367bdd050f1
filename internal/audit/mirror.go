package audit

/*
Файл mirror.go реализует зеркало Audit Trail в Redis Stream — источник
живой ленты для консоли и внешних SIEM-подписчиков.

Ключевые особенности архитектуры:
- Non-blocking: события уходят из Hot Path через неблокирующий канал,
  задержки Redis не влияют на Response Time шлюза.
- Load Shedding: при переполнении буфера событие теряется с warning-логом —
  зеркало вторично, источник правды всегда Postgres.
- Drain Pattern & Graceful Shutdown: при остановке буфер вычитывается до конца
  (sync.WaitGroup + закрытие канала), Final Flush гарантирован.
*/

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/infra"
	"go.uber.org/zap"
)

const (
	mirrorBuffer    = 10000 // Очередь на 10к событий
	mirrorBatchSize = 100
	mirrorMaxLen    = 100000 // Обрезка стрима (approx), чтобы Redis не распух
)

type Mirror struct {
	ch     chan domain.ActionLogEntry
	rdb    *redis.Client
	logger *zap.Logger
	wg     sync.WaitGroup

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Publish после Stop
	isClosed int32
}

func NewMirror(rdb *redis.Client, logger *zap.Logger) *Mirror {
	return &Mirror{
		ch:     make(chan domain.ActionLogEntry, mirrorBuffer),
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "audit-mirror")),
	}
}

func (m *Mirror) Start() {
	m.wg.Add(1)
	go m.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (m *Mirror) Stop() {
	atomic.StoreInt32(&m.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Publish успели проскочить
	time.Sleep(10 * time.Millisecond)

	m.logger.Info("stopping audit mirror: closing channel and flushing buffer...")
	close(m.ch)
	m.wg.Wait()
	m.logger.Info("audit mirror stopped gracefully")
}

func (m *Mirror) Publish(e domain.ActionLogEntry) {
	if atomic.LoadInt32(&m.isClosed) == 1 {
		m.logger.Warn("audit mirror event dropped: mirror is stopping", zap.String("id", e.ID))
		return
	}

	// Стратегия Load Shedding (сброс нагрузки)
	select {
	case m.ch <- e:
	default:
		m.logger.Warn("audit_mirror_overflow",
			zap.String("user_id", e.UserID),
			zap.String("action_type", string(e.ActionType)),
		)
	}
}

// Len — текущая заполненность буфера (для метрики backpressure).
func (m *Mirror) Len() int {
	return len(m.ch)
}

func (m *Mirror) worker() {
	defer m.wg.Done()

	batch := make([]domain.ActionLogEntry, 0, mirrorBatchSize)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Используем Background: основной контекст может быть уже закрыт
		if err := m.flush(context.Background(), batch); err != nil {
			m.logger.Error("audit mirror flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-m.ch:
			if !ok {
				// Канал закрыт в Stop() — самодостаточный сигнал завершения:
				// сначала вычитали остатки, потом финальный flush и выход.
				flush()
				m.logger.Info("audit mirror worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= mirrorBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (m *Mirror) flush(ctx context.Context, batch []domain.ActionLogEntry) error {
	pipe := m.rdb.Pipeline()
	for _, e := range batch {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: infra.RedisKeyAuditStream,
			MaxLen: mirrorMaxLen,
			Approx: true,
			Values: map[string]interface{}{"entry": payload},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}
