package domain

import "time"

// ChecksStatus — состояние CI-проверок на момент запроса.
// Передается клиентом как факт, шлюз его не перепроверяет (это забота Executor'а).
type ChecksStatus string

const (
	ChecksPassing ChecksStatus = "passing"
	ChecksFailing ChecksStatus = "failing"
	ChecksUnknown ChecksStatus = "unknown"
)

// ActionFacts — контекстные факты для policy-специфичных проверок.
// Сейчас используются только для merge.
type ActionFacts struct {
	ChecksStatus  ChecksStatus `json:"checks_status,omitempty"`
	ApprovalCount int          `json:"approval_count,omitempty"`
}

// RepoPolicy — конфигурация (identity, repo): какие действия разрешены
// и при каких условиях. Принадлежит Policy Repository, для ядра read-only.
type RepoPolicy struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"` // "*" — правило для всех пользователей
	Repo   string `json:"repo"`

	AllowMerge         bool `json:"allow_merge"`
	AllowRerun         bool `json:"allow_rerun"`
	AllowRequestReview bool `json:"allow_request_review"`
	AllowComment       bool `json:"allow_comment"`

	RequireConfirmation bool `json:"require_confirmation"`
	RequireChecksGreen  bool `json:"require_checks_green"`
	RequiredApprovals   int  `json:"required_approvals"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultRepoPolicy — консервативный дефолт при отсутствии явной записи (Zero Trust):
// merge выключен, безопасные действия разрешены, но только через подтверждение.
func DefaultRepoPolicy() RepoPolicy {
	return RepoPolicy{
		AllowMerge:          false,
		AllowRerun:          true,
		AllowRequestReview:  true,
		AllowComment:        true,
		RequireConfirmation: true,
		RequireChecksGreen:  true,
		RequiredApprovals:   1,
	}
}

// AllowsAction возвращает переключатель для типа действия.
// ok == false — тип действия схеме политики неизвестен.
func (p RepoPolicy) AllowsAction(t ActionType) (allowed, ok bool) {
	switch t {
	case ActionMerge:
		return p.AllowMerge, true
	case ActionRerun:
		return p.AllowRerun, true
	case ActionRequestReview:
		return p.AllowRequestReview, true
	case ActionComment:
		return p.AllowComment, true
	default:
		return false, false
	}
}
