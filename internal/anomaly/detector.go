package anomaly

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

// DenialCounter — что детектору нужно от журнала аудита.
type DenialCounter interface {
	CountDenialsSince(ctx context.Context, userID string, actionType domain.ActionType, since time.Time) (int, error)
}

// JournalWriter — куда детектор пишет событие security.anomaly.
type JournalWriter interface {
	Append(ctx context.Context, e *domain.ActionLogEntry) error
}

// Detector следит за повторными отказами (rate_limited / policy_denied)
// в хвостовом окне. Достигнут порог — пишется отдельная запись аудита
// security.anomaly, сама из дальнейших проверок исключенная (Feedback Loop).
//
// Детектор работает сбоку от Hot Path: ЛЮБАЯ его внутренняя ошибка
// глотается с warning-логом и не трогает основной ответ.
type Detector struct {
	counts  DenialCounter
	journal JournalWriter
	logger  *zap.Logger

	window    time.Duration
	threshold int

	now func() time.Time
}

const (
	DefaultWindow    = 5 * time.Minute
	DefaultThreshold = 5
)

func NewDetector(counts DenialCounter, journal JournalWriter, window time.Duration, threshold int, logger *zap.Logger) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		counts:    counts,
		journal:   journal,
		logger:    logger.Named("anomaly"),
		window:    window,
		threshold: threshold,
		now:       time.Now,
	}
}

// ObserveDenial вызывается пайплайном ПОСЛЕ записи отказа в журнал:
// свежий отказ уже входит в подсчет. Возвращает true, если порог достигнут
// и запись security.anomaly создана.
func (d *Detector) ObserveDenial(ctx context.Context, userID string, actionType domain.ActionType, kind domain.DenialKind, target string) bool {
	now := d.now()
	since := now.Add(-d.window)

	n, err := d.counts.CountDenialsSince(ctx, userID, actionType, since)
	if err != nil {
		d.logger.Warn("anomaly check skipped: denial count failed", zap.Error(err))
		return false
	}

	if n < d.threshold {
		return false
	}

	record, err := json.Marshal(domain.AnomalyRecord{
		DenialCount:   n,
		WindowSeconds: int(d.window.Seconds()),
		ActionType:    actionType,
		Target:        target,
		DetectedAt:    now,
	})
	if err != nil {
		d.logger.Warn("anomaly record marshal failed", zap.Error(err))
		return false
	}

	entry := &domain.ActionLogEntry{
		UserID:     userID,
		ActionType: domain.ActionSecurityAnomaly,
		Target:     target,
		Result:     record,
		OK:         true, // Сама запись аномалии — успешное событие безопасности
	}
	if err := d.journal.Append(ctx, entry); err != nil {
		// Best-effort: сбой логирования аномалии никогда не роняет запрос
		d.logger.Warn("anomaly audit write failed", zap.Error(err))
		return false
	}

	d.logger.Warn("REPEATED DENIAL ANOMALY",
		zap.String("user_id", userID),
		zap.String("action_type", string(actionType)),
		zap.String("denial_kind", string(kind)),
		zap.Int("denials_in_window", n),
		zap.Duration("window", d.window),
	)
	return true
}
