package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/repoops-gateway/internal/anomaly"
	"github.com/xela07ax/repoops-gateway/internal/audit"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"github.com/xela07ax/repoops-gateway/internal/idempotency"
	"github.com/xela07ax/repoops-gateway/internal/pending"
	"github.com/xela07ax/repoops-gateway/internal/policy"
	"github.com/xela07ax/repoops-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

// --- In-memory журнал: одна структура закрывает все интерфейсы,
// которые в проде обслуживает ActionLogRepo ---

type memLog struct {
	mu      sync.Mutex
	entries []domain.ActionLogEntry
}

func (m *memLog) Insert(_ context.Context, e *domain.ActionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IdempotencyKey != nil {
		for _, ex := range m.entries {
			if ex.IdempotencyKey != nil && *ex.IdempotencyKey == *e.IdempotencyKey {
				return domain.ErrDuplicateKey
			}
		}
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memLog) CountSince(_ context.Context, userID string, actionType domain.ActionType, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.UserID == userID && e.ActionType == actionType && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memLog) OldestSince(_ context.Context, userID string, actionType domain.ActionType, since time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest time.Time
	for _, e := range m.entries {
		if e.UserID == userID && e.ActionType == actionType && !e.CreatedAt.Before(since) {
			if oldest.IsZero() || e.CreatedAt.Before(oldest) {
				oldest = e.CreatedAt
			}
		}
	}
	if oldest.IsZero() {
		return time.Time{}, domain.ErrNotFound
	}
	return oldest, nil
}

func (m *memLog) CountDenialsSince(_ context.Context, userID string, actionType domain.ActionType, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.UserID != userID || e.ActionType != actionType || e.OK || e.CreatedAt.Before(since) {
			continue
		}
		if e.ActionType == domain.ActionSecurityAnomaly {
			continue
		}
		var rec domain.DenialRecord
		if json.Unmarshal(e.Result, &rec) != nil {
			continue
		}
		if rec.DenialKind == domain.DenialRateLimited || rec.DenialKind == domain.DenialPolicyDenied {
			n++
		}
	}
	return n, nil
}

func (m *memLog) List(_ context.Context, userID string, actionType domain.ActionType, limit int) ([]domain.ActionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActionLogEntry, 0)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.UserID != userID {
			continue
		}
		if actionType != "" && e.ActionType != actionType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memLog) GetByIdempotencyKey(_ context.Context, key string) (*domain.ActionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			out := e
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memLog) byType(t domain.ActionType) []domain.ActionLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ActionLogEntry
	for _, e := range m.entries {
		if e.ActionType == t {
			out = append(out, e)
		}
	}
	return out
}

// --- Остальные фейки ---

type memIdemRepo struct {
	mu   sync.Mutex
	recs map[string]domain.IdempotencyRecord
}

func (r *memIdemRepo) Get(_ context.Context, key, userID, endpoint string) (*domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[userID+"|"+endpoint+"|"+key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memIdemRepo) Insert(_ context.Context, rec *domain.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := rec.UserID + "|" + rec.Endpoint + "|" + rec.Key
	if _, exists := r.recs[k]; exists {
		return domain.ErrDuplicateKey
	}
	r.recs[k] = *rec
	return nil
}

type memPendRepo struct {
	mu   sync.Mutex
	recs map[string]domain.PendingConfirmation
}

func (r *memPendRepo) Insert(_ context.Context, p *domain.PendingConfirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[p.Token] = *p
	return nil
}

func (r *memPendRepo) Get(_ context.Context, token string) (*domain.PendingConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.recs[token]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memPendRepo) Delete(_ context.Context, token string) (*domain.PendingConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.recs[token]
	if !ok {
		return nil, nil
	}
	delete(r.recs, token)
	return &p, nil
}

type stubExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *stubExecutor) Execute(_ context.Context, _ domain.ActionType, target string, _ json.RawMessage) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return json.RawMessage(`{"executed":true,"target":"` + target + `"}`), nil
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubProvider struct {
	policies map[string]domain.RepoPolicy
}

func (p *stubProvider) EffectivePolicy(userID, repo string) domain.RepoPolicy {
	if pol, ok := p.policies[userID+":"+repo]; ok {
		return pol
	}
	return domain.DefaultRepoPolicy()
}

func (p *stubProvider) set(userID, repo string, pol domain.RepoPolicy) {
	p.policies[userID+":"+repo] = pol
}

// --- Сборка ядра на фейках ---

type fixture struct {
	core      *Core
	log       *memLog
	exec      *stubExecutor
	provider  *stubProvider
	blocklist *BlocklistManager
}

func newFixture(rateMax, anomalyThreshold int) *fixture {
	nop := zap.NewNop()
	logStore := &memLog{}
	journal := audit.NewJournal(logStore, nil, nop)
	exec := &stubExecutor{}
	provider := &stubProvider{policies: make(map[string]domain.RepoPolicy)}
	blocklist := NewBlocklistManager(nil, nop)

	core := NewCore(
		idempotency.NewCache(&memIdemRepo{recs: make(map[string]domain.IdempotencyRecord)}, time.Hour, nop),
		ratelimit.NewLimiter(logStore, time.Hour, rateMax, nop),
		policy.NewEngine(provider),
		pending.NewStore(&memPendRepo{recs: make(map[string]domain.PendingConfirmation)}, 10*time.Minute, nop),
		anomaly.NewDetector(logStore, journal, 5*time.Minute, anomalyThreshold, nop),
		journal,
		blocklist,
		exec,
		logStore,
		NewMetrics(nil),
		nop,
	)

	return &fixture{core: core, log: logStore, exec: exec, provider: provider, blocklist: blocklist}
}

// Полностью открытое правило: действие выполняется сразу
func openPolicy() domain.RepoPolicy {
	return domain.RepoPolicy{
		AllowMerge:         true,
		AllowRerun:         true,
		AllowRequestReview: true,
		AllowComment:       true,
	}
}

func commentReq(key string) domain.ActionRequest {
	return domain.ActionRequest{
		Identity:       "alice",
		ActionType:     domain.ActionComment,
		Repo:           "acme/widgets",
		Target:         "acme/widgets#7",
		Payload:        json.RawMessage(`{"body":"lgtm"}`),
		IdempotencyKey: key,
	}
}

func TestSubmit_AllowExecutesAndAudits(t *testing.T) {
	f := newFixture(100, 5)
	f.provider.set("alice", "acme/widgets", openPolicy())

	res, err := f.core.Submit(context.Background(), commentReq(""))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOK, res.Status)
	assert.JSONEq(t, `{"executed":true,"target":"acme/widgets#7"}`, string(res.Result))
	assert.Equal(t, 1, f.exec.callCount())

	entries := f.log.byType(domain.ActionComment)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].OK)
	assert.Equal(t, "alice", entries[0].UserID)
}

func TestSubmit_DefaultPolicyDeniesMerge(t *testing.T) {
	f := newFixture(100, 5)

	res, err := f.core.Submit(context.Background(), domain.ActionRequest{
		Identity:   "alice",
		ActionType: domain.ActionMerge,
		Repo:       "acme/widgets",
		Target:     "acme/widgets#7",
		Facts:      domain.ActionFacts{ChecksStatus: domain.ChecksPassing, ApprovalCount: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDenied, res.Status)
	assert.Contains(t, res.Reason, "disabled")
	assert.Zero(t, f.exec.callCount())

	entries := f.log.byType(domain.ActionMerge)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OK)

	var rec domain.DenialRecord
	require.NoError(t, json.Unmarshal(entries[0].Result, &rec))
	assert.Equal(t, domain.DenialPolicyDenied, rec.DenialKind)
}

func TestSubmit_ConfirmationRoundTrip(t *testing.T) {
	f := newFixture(100, 5)
	// Дефолтное правило: comment разрешен, но только через подтверждение

	res, err := f.core.Submit(context.Background(), commentReq(""))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsConfirmation, res.Status)
	assert.NotEmpty(t, res.ConfirmationToken)
	assert.Zero(t, f.exec.callCount())
	// Терминального исхода нет — журнал пуст
	assert.Empty(t, f.log.byType(domain.ActionComment))

	confirmed, err := f.core.Confirm(context.Background(), "alice", res.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, confirmed.Status)
	assert.Equal(t, 1, f.exec.callCount())

	entries := f.log.byType(domain.ActionComment)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].OK)

	// Токен одноразовый
	_, err = f.core.Confirm(context.Background(), "alice", res.ConfirmationToken)
	assert.ErrorIs(t, err, domain.ErrConfirmationInvalid)
	assert.Equal(t, 1, f.exec.callCount())
}

func TestConfirm_ForeignTokenMasked(t *testing.T) {
	f := newFixture(100, 5)

	res, err := f.core.Submit(context.Background(), commentReq(""))
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedsConfirmation, res.Status)

	// Чужой токен неотличим от несуществующего
	_, err = f.core.Confirm(context.Background(), "mallory", res.ConfirmationToken)
	assert.ErrorIs(t, err, domain.ErrConfirmationInvalid)
	assert.Zero(t, f.exec.callCount())

	// Владелец при этом токен не потерял
	confirmed, err := f.core.Confirm(context.Background(), "alice", res.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, confirmed.Status)
}

func TestSubmit_IdempotencyReplay(t *testing.T) {
	f := newFixture(100, 5)
	f.provider.set("alice", "acme/widgets", openPolicy())

	first, err := f.core.Submit(context.Background(), commentReq("k1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusOK, first.Status)

	second, err := f.core.Submit(context.Background(), commentReq("k1"))
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.JSONEq(t, string(first.Result), string(second.Result))
	// Действие выполнилось ровно один раз
	assert.Equal(t, 1, f.exec.callCount())
	assert.Len(t, f.log.byType(domain.ActionComment), 1)
}

func TestSubmit_DeniedOutcomeIsCachedToo(t *testing.T) {
	f := newFixture(100, 5)

	req := domain.ActionRequest{
		Identity:       "alice",
		ActionType:     domain.ActionMerge,
		Repo:           "acme/widgets",
		IdempotencyKey: "k-deny",
	}

	first, err := f.core.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDenied, first.Status)

	second, err := f.core.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDenied, second.Status)
	// Повтор пришел из кэша: второй записи аудита нет
	assert.Len(t, f.log.byType(domain.ActionMerge), 1)
}

func TestSubmit_NeedsConfirmationNotCached(t *testing.T) {
	f := newFixture(100, 5)

	first, err := f.core.Submit(context.Background(), commentReq("k1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedsConfirmation, first.Status)

	second, err := f.core.Submit(context.Background(), commentReq("k1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedsConfirmation, second.Status)

	// Каждый submit честно выпускает новый токен
	assert.NotEqual(t, first.ConfirmationToken, second.ConfirmationToken)
}

func TestSubmit_RateLimitDeniesWithRetryAfter(t *testing.T) {
	f := newFixture(2, 100)
	f.provider.set("alice", "acme/widgets", openPolicy())

	for i := 0; i < 2; i++ {
		res, err := f.core.Submit(context.Background(), commentReq(""))
		require.NoError(t, err)
		require.Equal(t, domain.StatusOK, res.Status)
	}

	res, err := f.core.Submit(context.Background(), commentReq(""))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDenied, res.Status)
	assert.Contains(t, res.Reason, "2/2")
	assert.GreaterOrEqual(t, res.RetryAfterSeconds, int64(1))
	assert.Equal(t, 2, f.exec.callCount())

	// Отказ тоже попал в журнал (и расходует квоту следующих попыток)
	entries := f.log.byType(domain.ActionComment)
	require.Len(t, entries, 3)
	var rec domain.DenialRecord
	require.NoError(t, json.Unmarshal(entries[2].Result, &rec))
	assert.Equal(t, domain.DenialRateLimited, rec.DenialKind)
}

func TestSubmit_RepeatedDenialsRaiseAnomaly(t *testing.T) {
	f := newFixture(100, 3)

	for i := 0; i < 3; i++ {
		res, err := f.core.Submit(context.Background(), domain.ActionRequest{
			Identity:   "alice",
			ActionType: domain.ActionMerge,
			Repo:       "acme/widgets",
		})
		require.NoError(t, err)
		require.Equal(t, domain.StatusDenied, res.Status)
	}

	anomalies := f.log.byType(domain.ActionSecurityAnomaly)
	require.Len(t, anomalies, 1)
	assert.True(t, anomalies[0].OK)

	var rec domain.AnomalyRecord
	require.NoError(t, json.Unmarshal(anomalies[0].Result, &rec))
	assert.Equal(t, 3, rec.DenialCount)
}

func TestSubmit_BlockedIdentity(t *testing.T) {
	f := newFixture(100, 5)
	f.provider.set("alice", "acme/widgets", openPolicy())
	f.blocklist.MarkBlocked("alice")

	res, err := f.core.Submit(context.Background(), commentReq(""))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDenied, res.Status)
	assert.Contains(t, res.Reason, "blocked")
	assert.Zero(t, f.exec.callCount())

	entries := f.log.byType(domain.ActionComment)
	require.Len(t, entries, 1)
	var rec domain.DenialRecord
	require.NoError(t, json.Unmarshal(entries[0].Result, &rec))
	assert.Equal(t, domain.DenialBlocked, rec.DenialKind)
}

func TestSubmit_ExecutionFailureIsRetryable(t *testing.T) {
	f := newFixture(100, 5)
	f.provider.set("alice", "acme/widgets", openPolicy())
	f.exec.err = errors.New("github: 502 bad gateway")

	_, err := f.core.Submit(context.Background(), commentReq("k1"))
	var exErr *domain.ExecutionError
	require.ErrorAs(t, err, &exErr)

	// Неуспех записан в журнал, но НЕ занял idempotency_key
	entries := f.log.byType(domain.ActionComment)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OK)
	assert.Nil(t, entries[0].IdempotencyKey)

	// Клиент повторяет тот же логический запрос тем же ключом
	f.exec.mu.Lock()
	f.exec.err = nil
	f.exec.mu.Unlock()

	res, err := f.core.Submit(context.Background(), commentReq("k1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, 2, f.exec.callCount())
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(100, 5)

	_, err := f.core.Submit(context.Background(), domain.ActionRequest{
		Identity:   "alice",
		ActionType: domain.ActionComment,
		// Repo отсутствует
	})

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "repo")

	// Типы вне закрытого списка (включая служебный security.anomaly)
	// отсекаются до пайплайна и не оставляют следа в журнале
	for _, at := range []domain.ActionType{"github.repo.delete", domain.ActionSecurityAnomaly} {
		_, err = f.core.Submit(context.Background(), domain.ActionRequest{
			Identity:   "alice",
			ActionType: at,
			Repo:       "acme/widgets",
		})
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Reason, "unsupported action_type")
	}
	all, err := f.core.History(context.Background(), "alice", "", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistory_NewestFirstAndFiltered(t *testing.T) {
	f := newFixture(100, 5)
	f.provider.set("alice", "acme/widgets", openPolicy())

	_, err := f.core.Submit(context.Background(), commentReq(""))
	require.NoError(t, err)
	_, err = f.core.Submit(context.Background(), domain.ActionRequest{
		Identity:   "alice",
		ActionType: domain.ActionRerun,
		Repo:       "acme/widgets",
	})
	require.NoError(t, err)

	all, err := f.core.History(context.Background(), "alice", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.ActionRerun, all[0].ActionType) // Новые первыми

	comments, err := f.core.History(context.Background(), "alice", domain.ActionComment, 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, domain.ActionComment, comments[0].ActionType)
}
