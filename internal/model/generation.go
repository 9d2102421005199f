package model

import "time"

// Moderation stages. A moderation event records at which pipeline stage the
// upstream provider rejected a prompt.
const (
	StageOptimize = "optimize"
	StageGenerate = "generate"
)

// Generation mirrors the `generations` table. One row is written per
// successful generation; only IsPublic is ever mutated afterwards.
// ImageURL holds the durable rehosted URL, or the provider URL when
// rehosting failed.
type Generation struct {
	ID             string    // generations.id
	UserID         uint64    // generations.user_id
	OriginalPrompt string    // generations.original_prompt
	BetterPrompt   string    // generations.better_prompt
	ImageURL       string    // generations.image_url
	Style          string    // generations.style
	Ratio          string    // generations.ratio
	Size           string    // generations.size
	Model          string    // generations.model
	IsPublic       bool      // generations.is_public
	DurationMS     int64     // generations.duration_ms
	Retries        int       // generations.retries
	CreatedAt      time.Time // generations.created_at
}

// ModerationEvent mirrors the `moderation_events` table. Rows are
// append-only: one per content-policy rejection, written whether or not a
// Generation row exists. Prompt is truncated before storage.
type ModerationEvent struct {
	ID        uint64    // moderation_events.id
	UserID    uint64    // moderation_events.user_id
	Prompt    string    // moderation_events.prompt (truncated)
	Stage     string    // moderation_events.stage (optimize|generate)
	Reason    string    // moderation_events.reason
	CreatedAt time.Time // moderation_events.created_at
}
