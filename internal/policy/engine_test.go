package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

// Полностью открытое правило — от него удобно "откручивать" по одной гайке.
func openPolicy() domain.RepoPolicy {
	return domain.RepoPolicy{
		AllowMerge:         true,
		AllowRerun:         true,
		AllowRequestReview: true,
		AllowComment:       true,
	}
}

func TestEvaluate_GateOrder(t *testing.T) {
	greenFacts := domain.ActionFacts{ChecksStatus: domain.ChecksPassing, ApprovalCount: 2}

	tests := []struct {
		name     string
		policy   domain.RepoPolicy
		action   domain.ActionType
		facts    domain.ActionFacts
		decision domain.Decision
		cause    domain.PolicyCause
	}{
		{
			name:     "unknown action type is a hard deny",
			policy:   openPolicy(),
			action:   domain.ActionType("github.repo.delete"),
			facts:    greenFacts,
			decision: domain.DecisionDeny,
			cause:    domain.CauseUnknownAction,
		},
		{
			name: "disabled merge wins over green checks",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.AllowMerge = false
				return p
			}(),
			action:   domain.ActionMerge,
			facts:    greenFacts,
			decision: domain.DecisionDeny,
			cause:    domain.CauseActionDisabled,
		},
		{
			name: "failing checks deny merge even with approvals",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.RequireChecksGreen = true
				return p
			}(),
			action:   domain.ActionMerge,
			facts:    domain.ActionFacts{ChecksStatus: domain.ChecksFailing, ApprovalCount: 5},
			decision: domain.DecisionDeny,
			cause:    domain.CauseChecksFailing,
		},
		{
			name: "unknown checks demand confirmation, not auto-allow",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.RequireChecksGreen = true
				return p
			}(),
			action:   domain.ActionMerge,
			facts:    domain.ActionFacts{ChecksStatus: domain.ChecksUnknown, ApprovalCount: 5},
			decision: domain.DecisionRequireConfirmation,
			cause:    domain.CauseChecksUnknown,
		},
		{
			// Клиент вообще не прислал facts — это не повод авто-разрешать merge
			name: "omitted checks status resolves as unknown",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.RequireChecksGreen = true
				return p
			}(),
			action:   domain.ActionMerge,
			facts:    domain.ActionFacts{},
			decision: domain.DecisionRequireConfirmation,
			cause:    domain.CauseChecksUnknown,
		},
		{
			name: "out-of-enum checks status resolves as unknown",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.RequireChecksGreen = true
				return p
			}(),
			action:   domain.ActionMerge,
			facts:    domain.ActionFacts{ChecksStatus: domain.ChecksStatus("in_progress"), ApprovalCount: 5},
			decision: domain.DecisionRequireConfirmation,
			cause:    domain.CauseChecksUnknown,
		},
		{
			name: "approvals shortfall denies merge",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.RequiredApprovals = 2
				return p
			}(),
			action:   domain.ActionMerge,
			facts:    domain.ActionFacts{ChecksStatus: domain.ChecksPassing, ApprovalCount: 1},
			decision: domain.DecisionDeny,
			cause:    domain.CauseApprovalsShort,
		},
		{
			name: "require_confirmation overrides a clean allow",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.RequireConfirmation = true
				return p
			}(),
			action:   domain.ActionComment,
			facts:    domain.ActionFacts{},
			decision: domain.DecisionRequireConfirmation,
			cause:    domain.CausePolicyConfirmation,
		},
		{
			name:     "fully open policy allows",
			policy:   openPolicy(),
			action:   domain.ActionMerge,
			facts:    greenFacts,
			decision: domain.DecisionAllow,
			cause:    domain.CauseAllowed,
		},
		{
			// Merge-ворота не трогают другие действия: rerun проходит
			// даже при красных чеках.
			name: "merge gates do not apply to rerun",
			policy: func() domain.RepoPolicy {
				p := openPolicy()
				p.RequireChecksGreen = true
				p.RequiredApprovals = 2
				return p
			}(),
			action:   domain.ActionRerun,
			facts:    domain.ActionFacts{ChecksStatus: domain.ChecksFailing},
			decision: domain.DecisionAllow,
			cause:    domain.CauseAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.policy, "acme/widgets", tt.action, tt.facts)
			assert.Equal(t, tt.decision, res.Decision)
			assert.Equal(t, tt.cause, res.Cause)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestEvaluate_DefaultPolicyIsZeroTrust(t *testing.T) {
	def := domain.DefaultRepoPolicy()

	// Merge выключен по умолчанию
	res := Evaluate(def, "acme/widgets", domain.ActionMerge, domain.ActionFacts{ChecksStatus: domain.ChecksPassing, ApprovalCount: 3})
	assert.Equal(t, domain.DecisionDeny, res.Decision)
	assert.Equal(t, domain.CauseActionDisabled, res.Cause)

	// Безопасные действия разрешены, но только через подтверждение
	res = Evaluate(def, "acme/widgets", domain.ActionComment, domain.ActionFacts{})
	assert.Equal(t, domain.DecisionRequireConfirmation, res.Decision)
	assert.Equal(t, domain.CausePolicyConfirmation, res.Cause)
}

type stubRepo struct {
	policies []domain.RepoPolicy
}

func (s *stubRepo) GetAllPolicies(_ context.Context) ([]domain.RepoPolicy, error) {
	return s.policies, nil
}

func TestMemoStore_Hierarchy(t *testing.T) {
	personal := domain.RepoPolicy{UserID: "alice", Repo: "acme/widgets", AllowMerge: true}
	wildcard := domain.RepoPolicy{UserID: "*", Repo: "acme/widgets", AllowComment: true}

	store := NewMemoStore(&stubRepo{policies: []domain.RepoPolicy{personal, wildcard}}, nil, zap.NewNop())
	require.NoError(t, store.Refresh(context.Background()))

	// Персональное правило перекрывает глобальное
	got := store.EffectivePolicy("alice", "acme/widgets")
	assert.True(t, got.AllowMerge)

	// Остальные падают на wildcard
	got = store.EffectivePolicy("bob", "acme/widgets")
	assert.False(t, got.AllowMerge)
	assert.True(t, got.AllowComment)

	// Незнакомый repo — консервативный дефолт
	got = store.EffectivePolicy("bob", "acme/unknown")
	assert.Equal(t, domain.DefaultRepoPolicy(), got)
}

func TestMemoStore_RefreshReplacesSnapshot(t *testing.T) {
	repo := &stubRepo{policies: []domain.RepoPolicy{{UserID: "alice", Repo: "acme/widgets", AllowMerge: true}}}
	store := NewMemoStore(repo, nil, zap.NewNop())
	require.NoError(t, store.Refresh(context.Background()))
	assert.True(t, store.EffectivePolicy("alice", "acme/widgets").AllowMerge)

	// Правило удалили в БД — после Refresh кэш не должен его помнить
	repo.policies = nil
	require.NoError(t, store.Refresh(context.Background()))
	assert.Equal(t, domain.DefaultRepoPolicy(), store.EffectivePolicy("alice", "acme/widgets"))
}
