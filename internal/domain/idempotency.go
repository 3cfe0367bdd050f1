package domain

import (
	"encoding/json"
	"time"
)

// IdempotencyRecord связывает клиентский ключ (в рамках identity + endpoint)
// с ранее вычисленным ответом. Ответ фиксируется первой успешной вставкой:
// конкурирующие писатели обязаны сойтись на одном и том же ответе.
type IdempotencyRecord struct {
	Key      string          `json:"key"`
	UserID   string          `json:"user_id"`
	Endpoint string          `json:"endpoint"`
	Response json.RawMessage `json:"response"`

	// ActionLogID — ссылка на запись аудита, породившую ответ (если была).
	ActionLogID *string `json:"action_log_id,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired — логическое отсутствие: чтение после expires_at равно "не найдено".
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
