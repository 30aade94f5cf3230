package model

import "time"

// DecisionEvent 一条已被后端确认的决定，写入决定日志并最终落库。
type DecisionEvent struct {
	EventID   string       `json:"event_id"`
	BatchID   string       `json:"batch_id,omitempty"` // 批量决定共享同一个 BatchID
	AdID      int64        `json:"ad_id"`
	Action    DecisionKind `json:"action"`
	Reason    string       `json:"reason,omitempty"`
	Comment   string       `json:"comment,omitempty"`
	Status    AdStatus     `json:"status"` // 后端确认后的状态
	DecidedAt time.Time    `json:"decided_at"`
	Retry     int          `json:"retry"`
}

// BulkReport 批量决定部分失败时的告警内容。
type BulkReport struct {
	BatchID   string
	Action    DecisionKind
	Succeeded []int64
	Failed    map[int64]string
	At        time.Time
}
