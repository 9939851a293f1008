package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

const playlistColumns = `p.id, p.owner_id, p.name, p.description, p.is_public, p.revision, p.created_at, p.updated_at, p.deleted_at`

// PlaylistRepository persists playlist metadata with soft delete support.
type PlaylistRepository struct {
	db DBTX
}

// NewPlaylistRepository creates a new PlaylistRepository with the given connection or transaction
func NewPlaylistRepository(db DBTX) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Create inserts a new playlist, generating its id when empty.
func (r *PlaylistRepository) Create(ctx context.Context, p *models.Playlist) error {
	if p.ID == "" {
		p.ID = shared.GenerateID()
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt, p.Revision = now, now, 0

	query := `
		INSERT INTO playlists (id, owner_id, name, description, is_public, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.OwnerID, p.Name, p.Description, p.IsPublic, now, now); err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}
	return nil
}

// Get retrieves a playlist by id, excluding soft-deleted playlists.
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists p WHERE p.id = ? AND p.deleted_at IS NULL`
	p, err := scanPlaylist(r.db.QueryRowContext(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, id)
	}
	return p, err
}

// UpdateMetadata writes name, description and visibility and bumps the revision.
func (r *PlaylistRepository) UpdateMetadata(ctx context.Context, p *models.Playlist) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE playlists
		SET name = ?, description = ?, is_public = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, p.Name, p.Description, p.IsPublic, now, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	if err := expectOne(res, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, p.ID)); err != nil {
		return err
	}
	p.UpdatedAt = now
	return r.db.QueryRowContext(ctx, `SELECT revision FROM playlists WHERE id = ?`, p.ID).Scan(&p.Revision)
}

// BumpRevision increments the revision after a track mutation and returns the new value.
func (r *PlaylistRepository) BumpRevision(ctx context.Context, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE playlists SET revision = revision + 1, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to bump revision: %w", err)
	}
	if err := expectOne(res, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, id)); err != nil {
		return 0, err
	}

	var rev int64
	if err := r.db.QueryRowContext(ctx, `SELECT revision FROM playlists WHERE id = ?`, id).Scan(&rev); err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return rev, nil
}

// Delete soft-deletes a playlist by id.
func (r *PlaylistRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE playlists SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	return expectOne(res, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, id))
}

// ListForUser returns playlists the user owns or has accepted an invitation to.
func (r *PlaylistRepository) ListForUser(ctx context.Context, userID string) ([]models.Playlist, error) {
	query := `
		SELECT ` + playlistColumns + `
		FROM playlists p
		WHERE p.deleted_at IS NULL AND (
			p.owner_id = ? OR EXISTS (
				SELECT 1 FROM playlist_collaborators c
				WHERE c.playlist_id = p.id AND c.user_id = ? AND c.status = 'accepted'
			)
		)
		ORDER BY p.created_at, p.id
	`
	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []models.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return playlists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlaylist(row scanner) (*models.Playlist, error) {
	var (
		p         models.Playlist
		deletedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.IsPublic, &p.Revision, &p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return &p, nil
}
