package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"time"

	"github.com/xela07ax/repoops-gateway/internal/domain"
)

// MockGitHubConnector имитирует GitHub-коннектор для локальных запусков и демо.
type MockGitHubConnector struct{}

func (c *MockGitHubConnector) Execute(ctx context.Context, actionType domain.ActionType, target string, payload json.RawMessage) (json.RawMessage, error) {
	// Имитируем задержку внешнего API 50-300мс
	latency := time.Duration(50+rand.IntN(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch actionType {
	case domain.ActionMerge:
		return json.RawMessage(fmt.Sprintf(`{"status": "merged", "target": %q, "sha": "deadbeef"}`, target)), nil
	case domain.ActionRerun:
		return json.RawMessage(fmt.Sprintf(`{"status": "rerun_requested", "target": %q}`, target)), nil
	case domain.ActionRequestReview:
		return json.RawMessage(fmt.Sprintf(`{"status": "review_requested", "target": %q}`, target)), nil
	case domain.ActionComment:
		return json.RawMessage(fmt.Sprintf(`{"status": "commented", "target": %q}`, target)), nil
	default:
		return nil, fmt.Errorf("action %s not supported by connector", actionType)
	}
}
