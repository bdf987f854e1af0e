package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventInvalid    EventType = "invalid_request"
)

// SearchEvent describes one /search request. The searched PAN or name is
// deliberately absent; only its kind is recorded.
type SearchEvent struct {
	Type      EventType `json:"type"`
	KeyKind   string    `json:"key_kind"`
	Expand    bool      `json:"expand"`
	Limit     int       `json:"limit"`
	Count     int       `json:"count"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
