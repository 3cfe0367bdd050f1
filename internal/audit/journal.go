package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

// LogStore определяет, куда физически сохраняются записи аудита.
type LogStore interface {
	Insert(ctx context.Context, e *domain.ActionLogEntry) error
}

// Journal — единая точка записи Audit Trail.
// Вставка строго синхронная: лимитер и детектор аномалий считают строки
// этой же таблицы, значит следующий запрос обязан видеть предыдущую запись.
// Зеркалирование в Redis Stream (живая лента консоли) — best-effort и
// никогда не влияет на ответ.
type Journal struct {
	store  LogStore
	mirror *Mirror // может быть nil (тесты, деградация без Redis)
	logger *zap.Logger
}

func NewJournal(store LogStore, mirror *Mirror, logger *zap.Logger) *Journal {
	return &Journal{
		store:  store,
		mirror: mirror,
		logger: logger.Named("audit"),
	}
}

// Append записывает терминальный исход. ID и таймстемп проставляются здесь,
// чтобы у вызывающих не было соблазна датировать записи задним числом.
func (j *Journal) Append(ctx context.Context, e *domain.ActionLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := j.store.Insert(ctx, e); err != nil {
		return err
	}

	if j.mirror != nil {
		j.mirror.Publish(*e)
	}
	return nil
}

// AppendDenial — частый случай: неуспешная запись с маркером причины отказа.
func (j *Journal) AppendDenial(ctx context.Context, userID string, actionType domain.ActionType, target string, request json.RawMessage, kind domain.DenialKind, reason string) (*domain.ActionLogEntry, error) {
	result, err := json.Marshal(domain.DenialRecord{DenialKind: kind, Reason: reason})
	if err != nil {
		return nil, err
	}

	entry := &domain.ActionLogEntry{
		UserID:     userID,
		ActionType: actionType,
		Target:     target,
		Request:    request,
		Result:     result,
		OK:         false,
	}
	if err := j.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
