package domain

import (
	"encoding/json"
	"time"
)

// ActionLogEntry — неизменяемая запись аудита. Создается ровно один раз
// на каждый терминальный исход пайплайна, никогда не мутируется и не удаляется.
// Если задан IdempotencyKey — в хранилище может существовать максимум одна
// запись с таким ключом (partial unique index на стороне Postgres).
type ActionLogEntry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	ActionType ActionType      `json:"action_type"`
	Target     string          `json:"target,omitempty"` // "owner/repo#123"
	Request    json.RawMessage `json:"request,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	OK         bool            `json:"ok"`

	IdempotencyKey *string `json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
