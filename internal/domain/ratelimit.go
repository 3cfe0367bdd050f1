package domain

import "time"

// RateLimitResult — транзитный результат проверки лимита.
// Reason всегда содержит "текущее/лимит" — удобно и клиенту, и в аудите.
type RateLimitResult struct {
	Admitted bool
	Current  int
	Limit    int
	Reason   string

	// RetryAfter — через сколько самая старая запись выйдет из окна.
	// Заполняется только при отказе, строго положительный.
	RetryAfter time.Duration
}
