package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/repoops-gateway/internal/anomaly"
	"github.com/xela07ax/repoops-gateway/internal/audit"
	"github.com/xela07ax/repoops-gateway/internal/connectors"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/idempotency"
	"github.com/xela07ax/repoops-gateway/internal/pending"
	"github.com/xela07ax/repoops-gateway/internal/policy"
	"github.com/xela07ax/repoops-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

// submitEndpoint — скоуп Idempotency Key: ключ уникален в рамках
// (identity, endpoint), разные операции не пересекаются ключами.
const submitEndpoint = "/v1/actions"

// LogReader — чтение журнала для истории и разруливания гонок по ключу.
type LogReader interface {
	List(ctx context.Context, userID string, actionType domain.ActionType, limit int) ([]domain.ActionLogEntry, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.ActionLogEntry, error)
}

// Core — ядро пайплайна авторизации действий. Порядок проверок фиксирован
// (от дешевых к дорогим, и так, чтобы повтор по ключу не выполнял действие
// второй раз):
//
//	idempotency replay -> kill-switch -> rate limit -> policy -> execute
//
// Терминальные исходы (ok / denied) пишутся в журнал и кэшируются под
// Idempotency Key. needs_confirmation — НЕ терминальный: ни записи
// аудита, ни кэша, только pending-токен.
type Core struct {
	idem      *idempotency.Cache
	limiter   *ratelimit.Limiter
	policy    *policy.Engine
	pending   *pending.Store
	detector  *anomaly.Detector
	journal   *audit.Journal
	blocklist *BlocklistManager
	executor  connectors.Executor
	logs      LogReader
	metrics   *Metrics
	logger    *zap.Logger
}

func NewCore(
	idem *idempotency.Cache,
	limiter *ratelimit.Limiter,
	pol *policy.Engine,
	pend *pending.Store,
	detector *anomaly.Detector,
	journal *audit.Journal,
	blocklist *BlocklistManager,
	executor connectors.Executor,
	logs LogReader,
	metrics *Metrics,
	logger *zap.Logger,
) *Core {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Core{
		idem:      idem,
		limiter:   limiter,
		policy:    pol,
		pending:   pend,
		detector:  detector,
		journal:   journal,
		blocklist: blocklist,
		executor:  executor,
		logs:      logs,
		metrics:   metrics,
		logger:    logger.Named("core"),
	}
}

// Submit проводит запрос через весь пайплайн до терминального исхода
// или pending-токена.
func (c *Core) Submit(ctx context.Context, req domain.ActionRequest) (*domain.SubmitResult, error) {
	c.metrics.TotalRequests.WithLabelValues(string(req.ActionType)).Inc()
	start := time.Now()

	outcome := "error"
	defer func() {
		c.metrics.RequestDuration.
			WithLabelValues(string(req.ActionType), outcome).
			Observe(time.Since(start).Seconds())
	}()

	if err := validateSubmit(req); err != nil {
		c.metrics.ErrorTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	// 1. Idempotency replay — раньше ВСЕХ проверок. Повтор по ключу обязан
	// вернуть зафиксированный ответ, даже если identity с тех пор
	// заблокирована или квота исчерпана: replay не есть новая попытка.
	if req.IdempotencyKey != "" {
		cached, err := c.idem.Get(ctx, req.IdempotencyKey, req.Identity, submitEndpoint)
		if err != nil {
			c.metrics.ErrorTotal.WithLabelValues("store").Inc()
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		if cached != nil {
			var res domain.SubmitResult
			if err := json.Unmarshal(cached, &res); err == nil {
				c.metrics.IdempotencyHits.Inc()
				outcome = res.Status
				c.logger.Debug("idempotency replay",
					zap.String("trace_id", extractTraceID(ctx)),
					zap.String("key", req.IdempotencyKey),
				)
				return &res, nil
			}
			c.logger.Warn("corrupt idempotency record, recomputing",
				zap.String("key", req.IdempotencyKey))
		}
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, domain.NewValidationError("request is not serializable: %v", err)
	}

	// 2. Kill-Switch (самый дешевый отказ: In-memory)
	if c.blocklist.IsBlocked(req.Identity) {
		c.metrics.ErrorTotal.WithLabelValues("blocked").Inc()
		reason := "identity is blocked by operator"
		if _, err := c.journal.AppendDenial(ctx, req.Identity, req.ActionType, targetOf(req), reqJSON, domain.DenialBlocked, reason); err != nil {
			return nil, c.storeFailure(err)
		}
		// Блокировку в детектор не подаем: она сама и есть реакция на аномалию
		res := &domain.SubmitResult{Status: domain.StatusDenied, Reason: reason}
		return c.finish(ctx, req, res, nil, &outcome)
	}

	// 3. Rate Limiter (trailing window поверх журнала)
	rl, err := c.limiter.Check(ctx, req.Identity, req.ActionType)
	if err != nil {
		c.metrics.ErrorTotal.WithLabelValues("store").Inc()
		return nil, c.storeFailure(err)
	}
	if !rl.Admitted {
		c.metrics.ErrorTotal.WithLabelValues("rate_limit").Inc()
		reason := "rate limit exceeded: " + rl.Reason
		if _, err := c.journal.AppendDenial(ctx, req.Identity, req.ActionType, targetOf(req), reqJSON, domain.DenialRateLimited, reason); err != nil {
			return nil, c.storeFailure(err)
		}
		c.observeDenial(ctx, req, domain.DenialRateLimited)

		res := &domain.SubmitResult{
			Status:            domain.StatusDenied,
			Reason:            reason,
			RetryAfterSeconds: ceilSeconds(rl.RetryAfter),
		}
		return c.finish(ctx, req, res, nil, &outcome)
	}

	// 4. Policy Engine (PDP)
	eval := c.policy.Evaluate(req.Identity, req.Repo, req.ActionType, req.Facts)
	switch eval.Decision {
	case domain.DecisionDeny:
		c.metrics.ErrorTotal.WithLabelValues("policy_deny").Inc()
		if _, err := c.journal.AppendDenial(ctx, req.Identity, req.ActionType, targetOf(req), reqJSON, domain.DenialPolicyDenied, eval.Reason); err != nil {
			return nil, c.storeFailure(err)
		}
		c.observeDenial(ctx, req, domain.DenialPolicyDenied)

		res := &domain.SubmitResult{Status: domain.StatusDenied, Reason: eval.Reason}
		return c.finish(ctx, req, res, nil, &outcome)

	case domain.DecisionRequireConfirmation:
		// HITL: действие замораживается до явного подтверждения человеком.
		// Ни аудита, ни кэша: терминального исхода еще нет, и повтор submit
		// с тем же ключом честно выпустит новый токен.
		summary := fmt.Sprintf("%s on %s: %s", req.ActionType, targetOf(req), eval.Reason)
		token, err := c.pending.Create(ctx, req.Identity, summary, req.ActionType, req.Repo, targetOf(req), req.Payload)
		if err != nil {
			c.metrics.ErrorTotal.WithLabelValues("store").Inc()
			return nil, c.storeFailure(err)
		}

		outcome = domain.StatusNeedsConfirmation
		c.metrics.DecisionTotal.WithLabelValues(outcome).Inc()
		return &domain.SubmitResult{
			Status:            domain.StatusNeedsConfirmation,
			ConfirmationToken: token,
			Reason:            eval.Reason,
		}, nil
	}

	// DecisionAllow — выполняем
	return c.executeSubmit(ctx, req, reqJSON, &outcome)
}

// executeSubmit — финальная стадия: вызов коннектора, аудит, кэш.
func (c *Core) executeSubmit(ctx context.Context, req domain.ActionRequest, reqJSON json.RawMessage, outcome *string) (*domain.SubmitResult, error) {
	resp, execErr := c.executor.Execute(ctx, req.ActionType, targetOf(req), req.Payload)

	// Side effect уже случился (или не случился) у внешней системы.
	// Отмена клиентского контекста с этого момента не повод потерять
	// запись аудита: журнал пишем на отвязанном контексте.
	auditCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		c.metrics.ErrorTotal.WithLabelValues("execution").Inc()

		// Неуспех аудируется (попытка расходует квоту), но НЕ кэшируется
		// и НЕ занимает idempotency_key в журнале: клиент вправе повторить
		// тот же логический запрос тем же ключом.
		failRec, _ := json.Marshal(map[string]string{"error": execErr.Error()})
		entry := &domain.ActionLogEntry{
			UserID:     req.Identity,
			ActionType: req.ActionType,
			Target:     targetOf(req),
			Request:    reqJSON,
			Result:     failRec,
			OK:         false,
		}
		if err := c.journal.Append(auditCtx, entry); err != nil {
			// Двойной сбой: наружу уходит исходная причина, аудит — в лог
			c.logger.Error("audit write failed after execution failure", zap.Error(err))
		}
		return nil, &domain.ExecutionError{ActionType: req.ActionType, Target: targetOf(req), Err: execErr}
	}

	entry := &domain.ActionLogEntry{
		UserID:     req.Identity,
		ActionType: req.ActionType,
		Target:     targetOf(req),
		Request:    reqJSON,
		Result:     resp,
		OK:         true,
	}
	if req.IdempotencyKey != "" {
		entry.IdempotencyKey = &req.IdempotencyKey
	}

	err := c.journal.Append(auditCtx, entry)
	if err != nil && errors.Is(err, domain.ErrDuplicateKey) {
		// Double Decision: конкурент с тем же ключом проскочил мимо кэша
		// и выполнил действие первым. Его запись — каноническая.
		winner, werr := c.logs.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if werr == nil && winner != nil {
			c.logger.Warn("concurrent duplicate execution absorbed",
				zap.String("key", req.IdempotencyKey),
				zap.String("winner_log_id", winner.ID),
			)
			res := &domain.SubmitResult{Status: domain.StatusOK, Result: winner.Result}
			return c.finish(ctx, req, res, &winner.ID, outcome)
		}
		c.logger.Warn("duplicate audit insert, winner re-read failed", zap.Error(werr))
	} else if err != nil {
		// Действие выполнилось, а журнал лег. Отдать ok без аудита нельзя:
		// на журнале держатся лимитер и детектор.
		c.metrics.ErrorTotal.WithLabelValues("store").Inc()
		return nil, c.storeFailure(err)
	}

	res := &domain.SubmitResult{Status: domain.StatusOK, Result: resp}
	return c.finish(ctx, req, res, &entry.ID, outcome)
}

// Confirm выполняет ранее отложенное действие по одноразовому токену.
// Токен гасится ДО вызова коннектора: из двух конкурентных Confirm
// действие выполнит ровно один, второй получит "invalid token".
// Обратная сторона: упавшее после погашения выполнение съедает токен —
// клиент идет на новый submit. Это дешевле, чем риск двойного merge.
func (c *Core) Confirm(ctx context.Context, identity, token string) (*domain.ConfirmResult, error) {
	if token == "" {
		return nil, domain.NewValidationError("confirmation token is required")
	}

	p, err := c.pending.Fetch(ctx, token)
	if err != nil {
		return nil, c.storeFailure(err)
	}
	// Несуществующий, истекший и ЧУЖОЙ токен неразличимы в ответе
	if p == nil || p.UserID != identity {
		return nil, domain.ErrConfirmationInvalid
	}

	start := time.Now()
	c.metrics.TotalRequests.WithLabelValues(string(p.ActionType)).Inc()

	outcome := "error"
	defer func() {
		c.metrics.RequestDuration.
			WithLabelValues(string(p.ActionType), outcome).
			Observe(time.Since(start).Seconds())
	}()

	if c.blocklist.IsBlocked(identity) {
		// Токен НЕ гасим: оператор может успеть разблокировать до истечения
		c.metrics.ErrorTotal.WithLabelValues("blocked").Inc()
		outcome = domain.StatusDenied
		return &domain.ConfirmResult{Status: domain.StatusDenied, Reason: "identity is blocked by operator"}, nil
	}

	ok, err := c.pending.Consume(ctx, token)
	if err != nil {
		return nil, c.storeFailure(err)
	}
	if !ok {
		// Проиграли гонку конкурентному Confirm
		return nil, domain.ErrConfirmationInvalid
	}

	resp, execErr := c.executor.Execute(ctx, p.ActionType, p.Target, p.Payload)

	// Токен уже погашен, действие ушло в коннектор: запись аудита не должна
	// зависеть от того, дождался ли клиент ответа.
	auditCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		c.metrics.ErrorTotal.WithLabelValues("execution").Inc()

		failRec, _ := json.Marshal(map[string]string{"error": execErr.Error()})
		entry := &domain.ActionLogEntry{
			UserID:     identity,
			ActionType: p.ActionType,
			Target:     p.Target,
			Result:     failRec,
			OK:         false,
		}
		if err := c.journal.Append(auditCtx, entry); err != nil {
			c.logger.Error("audit write failed after confirm execution failure", zap.Error(err))
		}
		return nil, &domain.ExecutionError{ActionType: p.ActionType, Target: p.Target, Err: execErr}
	}

	entry := &domain.ActionLogEntry{
		UserID:     identity,
		ActionType: p.ActionType,
		Target:     p.Target,
		Result:     resp,
		OK:         true,
	}
	if err := c.journal.Append(auditCtx, entry); err != nil {
		c.metrics.ErrorTotal.WithLabelValues("store").Inc()
		return nil, c.storeFailure(err)
	}

	outcome = domain.StatusOK
	c.metrics.DecisionTotal.WithLabelValues(outcome).Inc()
	c.logger.Info("confirmed action executed",
		zap.String("trace_id", extractTraceID(ctx)),
		zap.String("user_id", identity),
		zap.String("action_type", string(p.ActionType)),
		zap.String("target", p.Target),
	)
	return &domain.ConfirmResult{Status: domain.StatusOK, Result: resp}, nil
}

// History возвращает хвост журнала пользователя, новые записи первыми.
func (c *Core) History(ctx context.Context, userID string, actionType domain.ActionType, limit int) ([]domain.ActionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	entries, err := c.logs.List(ctx, userID, actionType, limit)
	if err != nil {
		return nil, c.storeFailure(err)
	}
	return entries, nil
}

// finish фиксирует терминальный исход: кэш под Idempotency Key (если ключ
// задан) и метрика решения. При проигрыше гонки за ключ возвращается
// ответ победителя — два разных ответа под одним ключом невозможны.
func (c *Core) finish(ctx context.Context, req domain.ActionRequest, res *domain.SubmitResult, logID *string, outcome *string) (*domain.SubmitResult, error) {
	*outcome = res.Status
	c.metrics.DecisionTotal.WithLabelValues(res.Status).Inc()

	if req.IdempotencyKey == "" {
		return res, nil
	}

	raw, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("submit result marshal failed, skipping cache", zap.Error(err))
		return res, nil
	}

	stored, err := c.idem.Store(ctx, req.IdempotencyKey, req.Identity, submitEndpoint, raw, logID)
	if err != nil {
		// Исход уже состоялся и записан в журнал; падать из-за кэша поздно
		c.logger.Warn("idempotency store failed",
			zap.String("key", req.IdempotencyKey), zap.Error(err))
		return res, nil
	}

	if !bytes.Equal(stored, raw) {
		var winner domain.SubmitResult
		if err := json.Unmarshal(stored, &winner); err == nil {
			*outcome = winner.Status
			return &winner, nil
		}
	}
	return res, nil
}

func (c *Core) observeDenial(ctx context.Context, req domain.ActionRequest, kind domain.DenialKind) {
	if c.detector == nil {
		return
	}
	if c.detector.ObserveDenial(ctx, req.Identity, req.ActionType, kind, targetOf(req)) {
		c.metrics.AnomalyTotal.Inc()
	}
}

func (c *Core) storeFailure(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func validateSubmit(req domain.ActionRequest) error {
	if req.Identity == "" {
		return domain.NewValidationError("identity is required")
	}
	if req.ActionType == "" {
		return domain.NewValidationError("action_type is required")
	}
	// Закрытый список: служебные типы (security.anomaly) и опечатки
	// отсекаются до пайплайна, квоту такая попытка не расходует
	if _, ok := domain.KnownActionTypes[req.ActionType]; !ok {
		return domain.NewValidationError("unsupported action_type %q", req.ActionType)
	}
	if req.Repo == "" {
		return domain.NewValidationError("repo is required")
	}
	return nil
}

// targetOf — объект действия; без явного target действие адресуется репозиторию.
func targetOf(req domain.ActionRequest) string {
	if req.Target != "" {
		return req.Target
	}
	return req.Repo
}

func ceilSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
