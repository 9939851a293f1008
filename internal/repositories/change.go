package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

// ChangeRepository is the append-only change log. Seq is assigned on insert.
type ChangeRepository struct {
	db DBTX
}

// NewChangeRepository creates a new ChangeRepository with the given connection or transaction
func NewChangeRepository(db DBTX) *ChangeRepository {
	return &ChangeRepository{db: db}
}

// Append stores rec and sets rec.Seq.
func (r *ChangeRepository) Append(ctx context.Context, rec *models.ChangeRecord) error {
	if rec.ID == "" || rec.PlaylistID == "" || !rec.Action.Valid() {
		return fmt.Errorf("%w: change record needs an id, playlist and known action", shared.ErrInvalidInput)
	}
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO playlist_changes (id, playlist_id, user_id, action, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PlaylistID, rec.UserID, rec.Action, payload, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read change sequence: %w", err)
	}
	rec.Seq = seq
	return nil
}

// Recent returns up to limit records for a playlist, newest first.
func (r *ChangeRepository) Recent(ctx context.Context, playlistID string, limit int) ([]models.ChangeRecord, error) {
	return r.query(ctx, `
		SELECT seq, id, playlist_id, user_id, action, payload, created_at
		FROM playlist_changes
		WHERE playlist_id = ?
		ORDER BY seq DESC
		LIMIT ?`, playlistID, limit)
}

// Since returns records after seq in commit order.
func (r *ChangeRepository) Since(ctx context.Context, playlistID string, seq int64) ([]models.ChangeRecord, error) {
	return r.query(ctx, `
		SELECT seq, id, playlist_id, user_id, action, payload, created_at
		FROM playlist_changes
		WHERE playlist_id = ? AND seq > ?
		ORDER BY seq`, playlistID, seq)
}

func (r *ChangeRepository) query(ctx context.Context, query string, args ...any) ([]models.ChangeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeRecord
	for rows.Next() {
		var (
			rec     models.ChangeRecord
			payload string
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.PlaylistID, &rec.UserID, &rec.Action, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}
