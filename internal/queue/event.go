// Package queue defines message payloads exchanged over the message broker.
package queue

// GenerationCompletedEvent is published after a generation record is
// persisted. It carries enough for downstream consumers to log or feed
// analytics without querying the primary database. Prompt text stays out
// of the broker entirely.
type GenerationCompletedEvent struct {
	GenerationID string `json:"generation_id"`
	UserID       uint64 `json:"user_id"`
	Ratio        string `json:"ratio"`
	Size         string `json:"size"`
	Model        string `json:"model"`
	DurationMS   int64  `json:"duration_ms"`
	Retries      int    `json:"retries"`
	CompletedAt  string `json:"completed_at"`
}
