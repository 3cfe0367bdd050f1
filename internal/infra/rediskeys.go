package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "repoops"
)

// Ключи состояния
const (
	// RedisKeyBlockedIdentities — Set заблокированных identity (Kill-Switch).
	RedisKeyBlockedIdentities = RedisNamespace + ":identities:blocked_set"

	// RedisKeyAuditStream — стрим-зеркало записей аудита для live-ленты консоли.
	RedisKeyAuditStream = RedisNamespace + ":audit:stream"

	// RedisKeyLockSweep — SetNX-лок фоновой уборки (один инстанс метет)
	RedisKeyLockSweep = RedisNamespace + ":lock:sweep"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanKillSwitch — трансляция блокировок/разблокировок identity.
	RedisChanKillSwitch = RedisNamespace + ":identities:kill-switch-signal"

	// RedisChanPolicyUpdate — сигнал инвалидации кэша политик в шлюзах.
	RedisChanPolicyUpdate = RedisNamespace + ":policies:policy-update"
)

// GetLockKey Генератор ключей для блокировок (если нужны динамические)
func GetLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:%s", RedisNamespace, resource)
}
