package connectors

import (
	"fmt"
	"time"
)

// ThrottleError возвращается коннектором, если внешний API попросил подождать
// (прочитан заголовок Retry-After). GuardedExecutor использует его для умного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}
