package policy

import (
	"fmt"

	"github.com/xela07ax/repoops-gateway/internal/domain"
)

// PolicyProvider отдает эффективное правило для (identity, repo).
// Реализация (MemoStore) обязана быть тотальной: нет записи — вернуть
// консервативный дефолт, ошибок здесь не бывает.
type PolicyProvider interface {
	EffectivePolicy(userID, repo string) domain.RepoPolicy
}

// Engine — чистая функция решения: (identity, ресурс, тип действия, факты)
// -> {ALLOW, DENY, REQUIRE_CONFIRMATION} + причина. Никаких side effects и
// логирования — аудит лежит на вызывающем. Ошибок Engine не возвращает
// принципиально: это делает его композируемым и тривиально тестируемым.
type Engine struct {
	provider PolicyProvider
}

func NewEngine(provider PolicyProvider) *Engine {
	return &Engine{provider: provider}
}

func (e *Engine) Evaluate(userID, repo string, actionType domain.ActionType, facts domain.ActionFacts) domain.EvaluationResult {
	return Evaluate(e.provider.EffectivePolicy(userID, repo), repo, actionType, facts)
}

// Evaluate применяет правило к запросу. Порядок ворот фиксирован, возврат —
// на первых сработавших: при нескольких зацепках всегда побеждает более
// консервативный исход (DENY > REQUIRE_CONFIRMATION > ALLOW).
func Evaluate(p domain.RepoPolicy, repo string, actionType domain.ActionType, facts domain.ActionFacts) domain.EvaluationResult {
	// 1. Неизвестный схеме тип действия — жесткий запрет
	allowed, known := p.AllowsAction(actionType)
	if !known {
		return domain.EvaluationResult{
			Decision: domain.DecisionDeny,
			Cause:    domain.CauseUnknownAction,
			Reason:   fmt.Sprintf("unknown action type %q", actionType),
		}
	}

	// 2. Переключатель конкретного действия
	if !allowed {
		return domain.EvaluationResult{
			Decision: domain.DecisionDeny,
			Cause:    domain.CauseActionDisabled,
			Reason:   fmt.Sprintf("%s is disabled for %s", shortName(actionType), repo),
		}
	}

	// 3. Специфичные для merge ворота
	if actionType == domain.ActionMerge {
		if res, fired := mergeGates(p, repo, facts); fired {
			return res
		}
	}

	// 4. Общий флаг "только через подтверждение" — перекрывает чистый ALLOW
	if p.RequireConfirmation {
		return domain.EvaluationResult{
			Decision: domain.DecisionRequireConfirmation,
			Cause:    domain.CausePolicyConfirmation,
			Reason:   "policy requires confirmation",
		}
	}

	return domain.EvaluationResult{
		Decision: domain.DecisionAllow,
		Cause:    domain.CauseAllowed,
		Reason:   "allowed by policy",
	}
}

func mergeGates(p domain.RepoPolicy, repo string, facts domain.ActionFacts) (domain.EvaluationResult, bool) {
	if p.RequireChecksGreen {
		switch facts.ChecksStatus {
		case domain.ChecksFailing:
			return domain.EvaluationResult{
				Decision: domain.DecisionDeny,
				Cause:    domain.CauseChecksFailing,
				Reason:   fmt.Sprintf("merge blocked: checks are failing on %s", repo),
			}, true
		case domain.ChecksPassing:
			// Чеки зеленые — едем дальше
		default:
			// Всё, что не явный passing/failing — в том числе пустой или
			// незнакомый статус — трактуем как unknown: авто-разрешить
			// merge, не зная состояния чеков, небезопасно
			return domain.EvaluationResult{
				Decision: domain.DecisionRequireConfirmation,
				Cause:    domain.CauseChecksUnknown,
				Reason:   fmt.Sprintf("checks status is unknown on %s, confirmation required", repo),
			}, true
		}
	}

	if facts.ApprovalCount < p.RequiredApprovals {
		return domain.EvaluationResult{
			Decision: domain.DecisionDeny,
			Cause:    domain.CauseApprovalsShort,
			Reason: fmt.Sprintf("merge requires %d approvals, have %d",
				p.RequiredApprovals, facts.ApprovalCount),
		}, true
	}

	return domain.EvaluationResult{}, false
}

func shortName(t domain.ActionType) string {
	switch t {
	case domain.ActionMerge:
		return "merge"
	case domain.ActionRerun:
		return "rerun"
	case domain.ActionRequestReview:
		return "request_review"
	case domain.ActionComment:
		return "comment"
	default:
		return string(t)
	}
}
