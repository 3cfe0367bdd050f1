package pending

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

type memRepo struct {
	mu   sync.Mutex
	recs map[string]domain.PendingConfirmation
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[string]domain.PendingConfirmation)}
}

func (r *memRepo) Insert(_ context.Context, p *domain.PendingConfirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[p.Token] = *p
	return nil
}

func (r *memRepo) Get(_ context.Context, token string) (*domain.PendingConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.recs[token]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memRepo) Delete(_ context.Context, token string) (*domain.PendingConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.recs[token]
	if !ok {
		return nil, nil
	}
	delete(r.recs, token)
	return &p, nil
}

func newTestStore(repo *memRepo) *Store {
	return NewStore(repo, 10*time.Minute, zap.NewNop())
}

func create(t *testing.T, s *Store) string {
	t.Helper()
	token, err := s.Create(context.Background(), "alice", "merge acme/widgets#7",
		domain.ActionMerge, "acme/widgets", "acme/widgets#7", json.RawMessage(`{"method":"squash"}`))
	require.NoError(t, err)
	return token
}

func TestCreate_TokensAreUniqueAndOpaque(t *testing.T) {
	s := newTestStore(newMemRepo())

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		token := create(t, s)
		// 32 байта в RawURL base64 = 43 символа, без паддинга и спецсимволов
		assert.Len(t, token, 43)
		_, dup := seen[token]
		assert.False(t, dup, "duplicate token generated")
		seen[token] = struct{}{}
	}
}

func TestFetch_ReturnsLiveRecord(t *testing.T) {
	repo := newMemRepo()
	s := newTestStore(repo)
	token := create(t, s)

	p, err := s.Fetch(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, domain.ActionMerge, p.ActionType)
	assert.Equal(t, "acme/widgets#7", p.Target)
}

func TestFetch_ExpiredLooksMissing(t *testing.T) {
	repo := newMemRepo()
	s := newTestStore(repo)
	token := create(t, s)

	s.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	p, err := s.Fetch(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestConsume_SingleUse(t *testing.T) {
	repo := newMemRepo()
	s := newTestStore(repo)
	token := create(t, s)

	ok, err := s.Consume(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, ok)

	// Второе погашение того же токена — отказ
	ok, err = s.Consume(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsume_ExpiredButNotSweptYet(t *testing.T) {
	repo := newMemRepo()
	s := newTestStore(repo)
	token := create(t, s)

	// Запись физически есть (sweep не дошел), но логически истекла
	s.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	ok, err := s.Consume(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsume_UnknownToken(t *testing.T) {
	s := newTestStore(newMemRepo())

	ok, err := s.Consume(context.Background(), "no-such-token")
	require.NoError(t, err)
	assert.False(t, ok)
}
