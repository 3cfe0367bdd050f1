package connectors

import (
	"context"
	"encoding/json"

	"github.com/xela07ax/repoops-gateway/internal/domain"
)

// Executor — контракт внешнего исполнителя действий (GitHub API, пуш-шлюз).
// Ядро шлюза не знает, как именно мержится PR: оно решает только
// "можно ли" и "сколько раз".
type Executor interface {
	Execute(ctx context.Context, actionType domain.ActionType, target string, payload json.RawMessage) (json.RawMessage, error)
}
