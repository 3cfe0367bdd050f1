package domain

// Decision — закрытый тип решения Policy Engine.
// Везде, где он потребляется, switch обязан перечислять все три значения:
// новое решение должно ломать компиляцию потребителей, а не молча проваливаться.
type Decision string

const (
	DecisionAllow               Decision = "ALLOW"
	DecisionDeny                Decision = "DENY"
	DecisionRequireConfirmation Decision = "REQUIRE_CONFIRMATION"
)

// PolicyCause — какое измерение политики привело к решению.
// Нужен для человекочитаемого prompt'а подтверждения и для аудита.
type PolicyCause string

const (
	CauseAllowed            PolicyCause = "allowed"
	CauseUnknownAction      PolicyCause = "unknown_action_type"
	CauseActionDisabled     PolicyCause = "action_disabled"
	CauseChecksFailing      PolicyCause = "checks_failing"
	CauseChecksUnknown      PolicyCause = "checks_unknown"
	CauseApprovalsShort     PolicyCause = "approvals_short"
	CausePolicyConfirmation PolicyCause = "policy_requires_confirmation"
)

// EvaluationResult — транзитное значение: решение + причина.
// Policy Engine никогда не возвращает ошибку — только результат.
type EvaluationResult struct {
	Decision Decision
	Cause    PolicyCause
	Reason   string
}
