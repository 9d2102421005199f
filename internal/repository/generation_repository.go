package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/avelar/image-studio/internal/model"
)

// GenerationRepo persists generation records. A row is created exactly once
// per successful pipeline run; later mutations are limited to the is_public
// flag, and deletes are restricted to the owner.
type GenerationRepo struct{ DB *sql.DB }

func NewGenerationRepo(db *sql.DB) *GenerationRepo { return &GenerationRepo{DB: db} }

const generationCols = "id,user_id,original_prompt,better_prompt,image_url,style,ratio,size,model,is_public,duration_ms,retries,created_at"

func scanGeneration(row interface{ Scan(...any) error }) (model.Generation, error) {
	var g model.Generation
	err := row.Scan(&g.ID, &g.UserID, &g.OriginalPrompt, &g.BetterPrompt, &g.ImageURL,
		&g.Style, &g.Ratio, &g.Size, &g.Model, &g.IsPublic, &g.DurationMS, &g.Retries, &g.CreatedAt)
	return g, err
}

// Create inserts a generation row.
func (r *GenerationRepo) Create(ctx context.Context, g model.Generation) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO generations (id,user_id,original_prompt,better_prompt,image_url,style,ratio,size,model,is_public,duration_ms,retries) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)",
		g.ID, g.UserID, g.OriginalPrompt, g.BetterPrompt, g.ImageURL,
		g.Style, g.Ratio, g.Size, g.Model, g.IsPublic, g.DurationMS, g.Retries)
	return err
}

// GetByID fetches a single generation regardless of visibility. Callers
// decide whether the requester may see a private row.
func (r *GenerationRepo) GetByID(ctx context.Context, id string) (model.Generation, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+generationCols+" FROM generations WHERE id=? LIMIT 1", id)
	return scanGeneration(row)
}

// ListByUser returns one page of a user's generations, newest first, plus
// the total count for pagination.
func (r *GenerationRepo) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]model.Generation, int, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+generationCols+" FROM generations WHERE user_id=? ORDER BY created_at DESC LIMIT ? OFFSET ?",
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Generation, 0, limit)
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM generations WHERE user_id=?", userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListPublic returns one page of the public discovery feed. sortAsc selects
// oldest-first ordering; the default is newest first.
func (r *GenerationRepo) ListPublic(ctx context.Context, limit, offset int, sortAsc bool) ([]model.Generation, int, error) {
	order := "DESC"
	if sortAsc {
		order = "ASC"
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+generationCols+" FROM generations WHERE is_public=1 ORDER BY created_at "+order+" LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Generation, 0, limit)
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM generations WHERE is_public=1").Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CountSince returns how many generations were created after the given
// time, across all users. Used by the stats endpoint.
func (r *GenerationRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM generations WHERE created_at >= ?", since).Scan(&n)
	return n, err
}

// SetPublic toggles the visibility flag. Returns sql.ErrNoRows when the
// record does not exist and ErrForbidden when it belongs to another user.
func (r *GenerationRepo) SetPublic(ctx context.Context, id string, ownerID uint64, public bool) error {
	owner, err := r.ownerOf(ctx, id)
	if err != nil {
		return err
	}
	if owner != ownerID {
		return ErrForbidden
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE generations SET is_public=? WHERE id=?", public, id)
	return err
}

// DeleteByIDAndOwner removes a generation row. Ownership is checked first;
// object storage cleanup is the caller's responsibility and happens before
// this call.
func (r *GenerationRepo) DeleteByIDAndOwner(ctx context.Context, id string, ownerID uint64) error {
	owner, err := r.ownerOf(ctx, id)
	if err != nil {
		return err
	}
	if owner != ownerID {
		return ErrForbidden
	}
	_, err = r.DB.ExecContext(ctx, "DELETE FROM generations WHERE id=?", id)
	return err
}

func (r *GenerationRepo) ownerOf(ctx context.Context, id string) (uint64, error) {
	var owner uint64
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id FROM generations WHERE id=? LIMIT 1", id).Scan(&owner)
	return owner, err
}
