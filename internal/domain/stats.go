package domain

// GlobalStats — агрегаты для дашборда консоли (сутки).
type GlobalStats struct {
	TotalActions         int64           `json:"total_actions"`
	DeniedActions        int64           `json:"denied_actions"`
	PendingConfirmations int64           `json:"pending_confirmations"`
	Anomalies            int64           `json:"anomalies"`
	DenialRatio          float64         `json:"denial_ratio"`
	TopActionTypes       map[string]int64 `json:"top_action_types"`
}
