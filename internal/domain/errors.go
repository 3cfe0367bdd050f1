package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfirmationInvalid — единый ответ на несуществующий, истекший,
	// использованный или чужой токен. Не различаем причины специально,
	// чтобы не подтверждать само существование токена.
	ErrConfirmationInvalid = errors.New("invalid or expired confirmation token")

	// ErrStoreUnavailable — транзакционное хранилище недоступно.
	// Фатально для текущего запроса; частичный коммит не предполагается.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound — общий "не найдено" для репозиториев.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey — нарушение unique constraint при вставке.
	// Для Idempotency Cache это не ошибка, а сигнал "ответ уже есть".
	ErrDuplicateKey = errors.New("duplicate key")
)

// ValidationError — запрос некорректен сам по себе (неизвестный тип действия,
// отсутствующий контекст). Это не policy-решение: не логируется как отказ
// и не питает детектор аномалий.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError — внешний Executor не смог выполнить действие.
// Логируется как неуспешная запись аудита, наружу уходит как есть.
// Автоматических ретраев нет: повтор — забота клиента (тот же Idempotency Key).
type ExecutionError struct {
	ActionType ActionType
	Target     string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for %s on %s: %v", e.ActionType, e.Target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
