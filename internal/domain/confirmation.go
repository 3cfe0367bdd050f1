package domain

import (
	"encoding/json"
	"time"
)

// PendingConfirmation — одноразовая capability на выполнение уже оцененного
// действия. Токен высокоэнтропийный: угадываемый токен позволил бы третьей
// стороне подтвердить чужую операцию. После consume запись удаляется физически,
// а не помечается: повтор использованного и несуществующего токена обязаны
// выглядеть одинаково ("not found").
type PendingConfirmation struct {
	Token      string          `json:"token"`
	UserID     string          `json:"user_id"`
	Summary    string          `json:"summary"` // Человекочитаемое "что именно подтверждаем"
	ActionType ActionType      `json:"action_type"`
	Repo       string          `json:"repo"`
	Target     string          `json:"target,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *PendingConfirmation) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
