package repository

import (
	"context"
	"database/sql"
)

// moderationPromptMax bounds the stored prompt length. Full prompts are not
// needed to review a rejection and keeping them short avoids bloating an
// append-only table.
const moderationPromptMax = 200

// ModerationRepo records content-policy rejections. The table is
// append-only; rows are written whether or not a generation row exists.
type ModerationRepo struct{ DB *sql.DB }

func NewModerationRepo(db *sql.DB) *ModerationRepo { return &ModerationRepo{DB: db} }

// Insert writes one moderation event. The prompt is truncated to
// moderationPromptMax runes before storage.
func (r *ModerationRepo) Insert(ctx context.Context, userID uint64, prompt, stage, reason string) error {
	if rs := []rune(prompt); len(rs) > moderationPromptMax {
		prompt = string(rs[:moderationPromptMax])
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO moderation_events (user_id, prompt, stage, reason) VALUES (?,?,?,?)",
		userID, prompt, stage, reason)
	return err
}
