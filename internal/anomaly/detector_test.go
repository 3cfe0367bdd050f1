package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/repoops-gateway/internal/domain"
	"go.uber.org/zap"
)

type stubCounter struct {
	n   int
	err error
}

func (s *stubCounter) CountDenialsSince(_ context.Context, _ string, _ domain.ActionType, _ time.Time) (int, error) {
	return s.n, s.err
}

type captureJournal struct {
	entries []*domain.ActionLogEntry
	err     error
}

func (j *captureJournal) Append(_ context.Context, e *domain.ActionLogEntry) error {
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, e)
	return nil
}

func TestObserveDenial_BelowThreshold(t *testing.T) {
	journal := &captureJournal{}
	d := NewDetector(&stubCounter{n: 4}, journal, 5*time.Minute, 5, zap.NewNop())

	fired := d.ObserveDenial(context.Background(), "alice", domain.ActionMerge, domain.DenialPolicyDenied, "acme/widgets#7")
	assert.False(t, fired)
	assert.Empty(t, journal.entries)
}

func TestObserveDenial_AtThreshold(t *testing.T) {
	journal := &captureJournal{}
	d := NewDetector(&stubCounter{n: 5}, journal, 5*time.Minute, 5, zap.NewNop())

	fired := d.ObserveDenial(context.Background(), "alice", domain.ActionMerge, domain.DenialRateLimited, "acme/widgets#7")
	assert.True(t, fired)
	require.Len(t, journal.entries, 1)

	e := journal.entries[0]
	assert.Equal(t, domain.ActionSecurityAnomaly, e.ActionType)
	assert.Equal(t, "alice", e.UserID)
	assert.True(t, e.OK)

	var rec domain.AnomalyRecord
	require.NoError(t, json.Unmarshal(e.Result, &rec))
	assert.Equal(t, 5, rec.DenialCount)
	assert.Equal(t, 300, rec.WindowSeconds)
	assert.Equal(t, domain.ActionMerge, rec.ActionType)
}

func TestObserveDenial_CounterFailureIsSwallowed(t *testing.T) {
	journal := &captureJournal{}
	d := NewDetector(&stubCounter{err: errors.New("db down")}, journal, 5*time.Minute, 5, zap.NewNop())

	// Сбой детектора никогда не влияет на основной ответ
	fired := d.ObserveDenial(context.Background(), "alice", domain.ActionMerge, domain.DenialPolicyDenied, "")
	assert.False(t, fired)
	assert.Empty(t, journal.entries)
}

func TestObserveDenial_JournalFailureIsSwallowed(t *testing.T) {
	journal := &captureJournal{err: errors.New("insert failed")}
	d := NewDetector(&stubCounter{n: 10}, journal, 5*time.Minute, 5, zap.NewNop())

	fired := d.ObserveDenial(context.Background(), "alice", domain.ActionMerge, domain.DenialPolicyDenied, "")
	assert.False(t, fired)
}
