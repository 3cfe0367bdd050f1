package domain

import (
	"encoding/json"
	"time"
)

// ActionType идентифицирует тип side-effect операции над GitHub-ресурсом.
// Формат "система.объект.действие" — как Capability ID у коннекторов.
type ActionType string

const (
	ActionMerge         ActionType = "github.pr.merge"
	ActionRerun         ActionType = "github.workflow.rerun"
	ActionRequestReview ActionType = "github.pr.request_review"
	ActionComment       ActionType = "github.pr.comment"

	// ActionSecurityAnomaly — служебная запись детектора аномалий.
	// Сама по себе не проходит через пайплайн и не участвует в повторных проверках
	// (иначе получим Feedback Loop: аномалия порождает аномалию).
	ActionSecurityAnomaly ActionType = "security.anomaly"
)

// KnownActionTypes — закрытый список того, что клиент вообще может запросить.
var KnownActionTypes = map[ActionType]struct{}{
	ActionMerge:         {},
	ActionRerun:         {},
	ActionRequestReview: {},
	ActionComment:       {},
}

// ActionRequest — запрос клиента на выполнение действия.
// Identity берется из токена, остальное — из тела запроса.
type ActionRequest struct {
	Identity   string          `json:"-"`
	ActionType ActionType      `json:"action_type"`
	Repo       string          `json:"repo"`             // Ресурс: "owner/repo"
	Target     string          `json:"target,omitempty"` // Конкретный объект: "owner/repo#123"
	Payload    json.RawMessage `json:"payload,omitempty"`

	// IdempotencyKey — клиентский ключ "этот же самый логический запрос".
	// Пустая строка = клиент не просил exactly-once семантику.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Facts — контекст для policy-специфичных проверок (статус чеков, апрувы).
	Facts ActionFacts `json:"facts"`
}

// Статусы ответа пайплайна
const (
	StatusOK                = "ok"
	StatusNeedsConfirmation = "needs_confirmation"
	StatusDenied            = "denied"
)

// SubmitResult — терминальный ответ на submit. Именно эта структура
// (в сериализованном виде) кэшируется под Idempotency Key, поэтому
// она обязана быть самодостаточной.
type SubmitResult struct {
	Status            string          `json:"status"`
	Result            json.RawMessage `json:"result,omitempty"`
	ConfirmationToken string          `json:"confirmation_token,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	RetryAfterSeconds int64           `json:"retry_after_seconds,omitempty"`
}

// ConfirmResult — ответ на подтверждение ранее отложенного действия.
type ConfirmResult struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// DenialKind маркирует причину отказа в result-payload записи аудита.
// По этим маркерам детектор аномалий считает повторные отказы.
type DenialKind string

const (
	DenialRateLimited  DenialKind = "rate_limited"
	DenialPolicyDenied DenialKind = "policy_denied"

	// DenialBlocked — оператор заблокировал identity (Kill-Switch).
	// В детектор аномалий не попадает: блокировка и есть реакция на аномалию.
	DenialBlocked DenialKind = "blocked"
)

// DenialRecord — то, что кладем в result записи аудита при отказе.
type DenialRecord struct {
	DenialKind DenialKind `json:"denial_kind"`
	Reason     string     `json:"reason"`
}

// AnomalyRecord — payload записи security.anomaly.
type AnomalyRecord struct {
	DenialCount   int        `json:"denial_count"`
	WindowSeconds int        `json:"window_seconds"`
	ActionType    ActionType `json:"action_type"`
	Target        string     `json:"target,omitempty"`
	DetectedAt    time.Time  `json:"detected_at"`
}
