package pending

/*
Пакет pending — хранилище отложенных подтверждений (Human-in-the-loop).
Токен — одноразовая capability: угадываемый токен позволил бы третьей стороне
подтвердить чужую операцию, поэтому 32 байта crypto/rand и URL-safe кодировка.
*/

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

// tokenBytes — 256 бит энтропии. Ниже опускаться нельзя (brute force по токену
// = подтверждение чужого действия).
const tokenBytes = 32

// Repository — что стору нужно от Postgres.
type Repository interface {
	Insert(ctx context.Context, p *domain.PendingConfirmation) error
	Get(ctx context.Context, token string) (*domain.PendingConfirmation, error)
	// Delete атомарно удаляет и возвращает запись; (nil, nil) — токена уже нет.
	Delete(ctx context.Context, token string) (*domain.PendingConfirmation, error)
}

type Store struct {
	repo   Repository
	ttl    time.Duration
	logger *zap.Logger

	now func() time.Time
}

const DefaultTTL = 10 * time.Minute

func NewStore(repo Repository, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		repo:   repo,
		ttl:    ttl,
		logger: logger.Named("pending"),
		now:    time.Now,
	}
}

// Create выпускает токен на отложенное действие.
func (s *Store) Create(ctx context.Context, userID, summary string, actionType domain.ActionType, repo, target string, payload json.RawMessage) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	p := &domain.PendingConfirmation{
		Token:      token,
		UserID:     userID,
		Summary:    summary,
		ActionType: actionType,
		Repo:       repo,
		Target:     target,
		Payload:    payload,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
	}

	if err := s.repo.Insert(ctx, p); err != nil {
		return "", fmt.Errorf("pending: %w", err)
	}

	s.logger.Info("pending confirmation created",
		zap.String("user_id", userID),
		zap.String("action_type", string(actionType)),
		zap.Time("expires_at", p.ExpiresAt),
	)
	return token, nil
}

// Fetch возвращает запись или (nil, nil). Истекший токен неотличим от
// несуществующего — никакой утечки "он был, но протух".
func (s *Store) Fetch(ctx context.Context, token string) (*domain.PendingConfirmation, error) {
	p, err := s.repo.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}
	if p == nil || p.Expired(s.now()) {
		return nil, nil
	}
	return p, nil
}

// Consume атомарно гасит токен. ok == false — токен уже использован,
// истек или не существовал; из двух конкурентных Consume выигрывает один.
func (s *Store) Consume(ctx context.Context, token string) (bool, error) {
	p, err := s.repo.Delete(ctx, token)
	if err != nil {
		return false, fmt.Errorf("pending: %w", err)
	}
	if p == nil {
		return false, nil
	}
	// Запись могла физически пережить свой TTL (sweep еще не дошел):
	// удалить удалили, но подтверждением это не считается.
	if p.Expired(s.now()) {
		return false, nil
	}
	return true, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pending: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
