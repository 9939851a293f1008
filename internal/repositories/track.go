package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

// TrackRepository persists playlist membership. Positions are dense, starting at 0.
type TrackRepository struct {
	db DBTX
}

// NewTrackRepository creates a new TrackRepository with the given connection or transaction
func NewTrackRepository(db DBTX) *TrackRepository {
	return &TrackRepository{db: db}
}

// List returns a playlist's tracks in position order.
func (r *TrackRepository) List(ctx context.Context, playlistID string) ([]models.Track, error) {
	query := `
		SELECT id, playlist_id, song_id, title, show_name, kind, media_url, position, added_by, created_at
		FROM playlist_tracks
		WHERE playlist_id = ?
		ORDER BY position, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var (
			t        models.Track
			mediaURL sql.NullString
		)
		err := rows.Scan(&t.ID, &t.PlaylistID, &t.SongID, &t.Title, &t.Show, &t.Kind, &mediaURL, &t.Position, &t.AddedBy, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		t.MediaURL = mediaURL.String
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// Order returns a playlist's track ids in position order.
func (r *TrackRepository) Order(ctx context.Context, playlistID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM playlist_tracks WHERE playlist_id = ? ORDER BY position, created_at`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track order: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan track id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

// Append inserts the track after the playlist's last position.
func (r *TrackRepository) Append(ctx context.Context, t *models.Track) error {
	if t.ID == "" {
		t.ID = shared.GenerateID()
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	var next int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM playlist_tracks WHERE playlist_id = ?`, t.PlaylistID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to find next position: %w", err)
	}

	t.Position = next
	t.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO playlist_tracks (id, playlist_id, song_id, title, show_name, kind, media_url, position, added_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.PlaylistID, t.SongID, t.Title, t.Show, t.Kind, nullString(t.MediaURL), t.Position, t.AddedBy, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}
	return nil
}

// Remove deletes a track and closes the gap it leaves.
func (r *TrackRepository) Remove(ctx context.Context, playlistID, trackID string) (*models.Track, error) {
	tracks, err := r.List(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	var removed *models.Track
	for i := range tracks {
		if tracks[i].ID == trackID {
			removed = &tracks[i]
			break
		}
	}
	if removed == nil {
		return nil, fmt.Errorf("%w: track %s", shared.ErrNotFound, trackID)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM playlist_tracks WHERE id = ? AND playlist_id = ?`, trackID, playlistID); err != nil {
		return nil, fmt.Errorf("failed to delete track: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE playlist_tracks SET position = position - 1 WHERE playlist_id = ? AND position > ?`, playlistID, removed.Position)
	if err != nil {
		return nil, fmt.Errorf("failed to compact positions: %w", err)
	}
	return removed, nil
}

// Reorder assigns positions following order, which must name every track exactly once.
func (r *TrackRepository) Reorder(ctx context.Context, playlistID string, order []string) error {
	tracks, err := r.List(ctx, playlistID)
	if err != nil {
		return err
	}
	if err := checkPermutation(tracks, order); err != nil {
		return err
	}

	for pos, id := range order {
		_, err := r.db.ExecContext(ctx,
			`UPDATE playlist_tracks SET position = ? WHERE id = ? AND playlist_id = ?`, pos, id, playlistID)
		if err != nil {
			return fmt.Errorf("failed to move track %s: %w", id, err)
		}
	}
	return nil
}

func checkPermutation(tracks []models.Track, order []string) error {
	if len(order) != len(tracks) {
		return fmt.Errorf("%w: got %d ids for %d tracks", shared.ErrInvalidOrder, len(order), len(tracks))
	}
	want := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		want[t.ID] = true
	}
	for _, id := range order {
		if !want[id] {
			return fmt.Errorf("%w: unknown or repeated id %s", shared.ErrInvalidOrder, id)
		}
		delete(want, id)
	}
	return nil
}
