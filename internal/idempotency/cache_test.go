package idempotency

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
	recs map[string]domain.IdempotencyRecord
}

func newMemRepo() *memRepo {
	return &memRepo{recs: make(map[string]domain.IdempotencyRecord)}
}

func compositeKey(key, userID, endpoint string) string {
	return userID + "|" + endpoint + "|" + key
}

func (r *memRepo) Get(_ context.Context, key, userID, endpoint string) (*domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[compositeKey(key, userID, endpoint)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memRepo) Insert(_ context.Context, rec *domain.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := compositeKey(rec.Key, rec.UserID, rec.Endpoint)
	if _, exists := r.recs[k]; exists {
		return domain.ErrDuplicateKey
	}
	r.recs[k] = *rec
	return nil
}

func (r *memRepo) delete(key, userID, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, compositeKey(key, userID, endpoint))
}

func TestCache_MissThenHit(t *testing.T) {
	repo := newMemRepo()
	c := NewCache(repo, time.Hour, zap.NewNop())

	got, err := c.Get(context.Background(), "k1", "alice", "/v1/actions")
	require.NoError(t, err)
	assert.Nil(t, got)

	resp := json.RawMessage(`{"status":"ok"}`)
	stored, err := c.Store(context.Background(), "k1", "alice", "/v1/actions", resp, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(resp), string(stored))

	got, err = c.Get(context.Background(), "k1", "alice", "/v1/actions")
	require.NoError(t, err)
	assert.JSONEq(t, string(resp), string(got))
}

func TestCache_KeysAreScopedPerUser(t *testing.T) {
	repo := newMemRepo()
	c := NewCache(repo, time.Hour, zap.NewNop())

	_, err := c.Store(context.Background(), "k1", "alice", "/v1/actions", json.RawMessage(`{"who":"alice"}`), nil)
	require.NoError(t, err)

	// Тот же ключ другого пользователя — промах
	got, err := c.Get(context.Background(), "k1", "bob", "/v1/actions")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_ExpiredReadsAsMissing(t *testing.T) {
	repo := newMemRepo()
	c := NewCache(repo, time.Hour, zap.NewNop())

	_, err := c.Store(context.Background(), "k1", "alice", "/v1/actions", json.RawMessage(`{"status":"ok"}`), nil)
	require.NoError(t, err)

	// Переводим часы за TTL
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	got, err := c.Get(context.Background(), "k1", "alice", "/v1/actions")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_InsertRaceReturnsWinner(t *testing.T) {
	repo := newMemRepo()
	c := NewCache(repo, time.Hour, zap.NewNop())

	winner := json.RawMessage(`{"status":"ok","result":{"id":1}}`)
	_, err := c.Store(context.Background(), "k1", "alice", "/v1/actions", winner, nil)
	require.NoError(t, err)

	// Проигравший пытается зафиксировать СВОЙ ответ — получает ответ победителя
	loser := json.RawMessage(`{"status":"ok","result":{"id":2}}`)
	got, err := c.Store(context.Background(), "k1", "alice", "/v1/actions", loser, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(winner), string(got))
}

func TestCache_VanishedWinnerFallsBackToOwnResponse(t *testing.T) {
	repo := newMemRepo()
	c := NewCache(repo, time.Hour, zap.NewNop())

	_, err := c.Store(context.Background(), "k1", "alice", "/v1/actions", json.RawMessage(`{"id":1}`), nil)
	require.NoError(t, err)

	// Эмулируем repo, который отбивает вставку, но уже не находит победителя
	blocked := &duplicateAlwaysRepo{inner: repo}
	c2 := NewCache(blocked, time.Hour, zap.NewNop())
	repo.delete("k1", "alice", "/v1/actions")

	own := json.RawMessage(`{"id":2}`)
	got, err := c2.Store(context.Background(), "k1", "alice", "/v1/actions", own, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(own), string(got))
}

type duplicateAlwaysRepo struct {
	inner *memRepo
}

func (r *duplicateAlwaysRepo) Get(ctx context.Context, key, userID, endpoint string) (*domain.IdempotencyRecord, error) {
	return r.inner.Get(ctx, key, userID, endpoint)
}

func (r *duplicateAlwaysRepo) Insert(_ context.Context, _ *domain.IdempotencyRecord) error {
	return domain.ErrDuplicateKey
}
