package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

const collaboratorColumns = `c.id, c.playlist_id, c.user_id, COALESCE(u.display_name, ''), c.role, c.status, c.invited_by, c.invited_at, c.accepted_at`

// CollaboratorRepository persists invitations and memberships. A user has at most one row
// per playlist; a declined row is reopened by the next invitation.
type CollaboratorRepository struct {
	db DBTX
}

// NewCollaboratorRepository creates a new CollaboratorRepository with the given connection or transaction
func NewCollaboratorRepository(db DBTX) *CollaboratorRepository {
	return &CollaboratorRepository{db: db}
}

// Save inserts a pending invitation or reopens the user's declined row. A pending or accepted
// row is left alone and reported as [shared.ErrAlreadyInvited] or [shared.ErrAlreadyCollaborator].
// The stored row id is written back to c.
func (r *CollaboratorRepository) Save(ctx context.Context, c *models.Collaborator) error {
	if c.ID == "" {
		c.ID = shared.GenerateID()
	}
	if c.InvitedAt.IsZero() {
		c.InvitedAt = time.Now().UTC()
	}
	c.Status, c.AcceptedAt = models.StatusPending, nil

	query := `
		INSERT INTO playlist_collaborators (id, playlist_id, user_id, role, status, invited_by, invited_at, accepted_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, NULL)
		ON CONFLICT(playlist_id, user_id) DO UPDATE SET
			role = excluded.role,
			status = 'pending',
			invited_by = excluded.invited_by,
			invited_at = excluded.invited_at,
			accepted_at = NULL
		WHERE playlist_collaborators.status = 'declined'
	`
	res, err := r.db.ExecContext(ctx, query, c.ID, c.PlaylistID, c.UserID, c.Role, c.InvitedBy, c.InvitedAt)
	if err != nil {
		return fmt.Errorf("failed to save invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save invitation: %w", err)
	}

	var status models.InviteStatus
	err = r.db.QueryRowContext(ctx,
		`SELECT id, status FROM playlist_collaborators WHERE playlist_id = ? AND user_id = ?`,
		c.PlaylistID, c.UserID).Scan(&c.ID, &status)
	if err != nil {
		return fmt.Errorf("failed to read invitation: %w", err)
	}
	if n == 0 {
		return invitationConflict(status, c.UserID)
	}
	return nil
}

// Get retrieves a row by id.
func (r *CollaboratorRepository) Get(ctx context.Context, id string) (*models.Collaborator, error) {
	query := `SELECT ` + collaboratorColumns + `
		FROM playlist_collaborators c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// Find retrieves the row for a user on a playlist.
func (r *CollaboratorRepository) Find(ctx context.Context, playlistID, userID string) (*models.Collaborator, error) {
	query := `SELECT ` + collaboratorColumns + `
		FROM playlist_collaborators c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.playlist_id = ? AND c.user_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, playlistID, userID), userID)
}

// List returns a playlist's rows in invitation order.
func (r *CollaboratorRepository) List(ctx context.Context, playlistID string) ([]models.Collaborator, error) {
	query := `SELECT ` + collaboratorColumns + `
		FROM playlist_collaborators c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.playlist_id = ?
		ORDER BY c.invited_at, c.id`
	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collaborators: %w", err)
	}
	defer rows.Close()

	var out []models.Collaborator
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Pending returns invitations awaiting the user's answer, with playlist names.
func (r *CollaboratorRepository) Pending(ctx context.Context, userID string) ([]models.Invitation, error) {
	query := `SELECT ` + collaboratorColumns + `, p.name, p.owner_id
		FROM playlist_collaborators c
		JOIN playlists p ON p.id = c.playlist_id AND p.deleted_at IS NULL
		LEFT JOIN users u ON u.id = c.user_id
		WHERE c.user_id = ? AND c.status = 'pending'
		ORDER BY c.invited_at, c.id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()

	var out []models.Invitation
	for rows.Next() {
		var (
			inv        models.Invitation
			acceptedAt sql.NullTime
		)
		c := &inv.Collaborator
		err := rows.Scan(&c.ID, &c.PlaylistID, &c.UserID, &c.DisplayName, &c.Role, &c.Status, &c.InvitedBy, &c.InvitedAt, &acceptedAt,
			&inv.PlaylistName, &inv.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Respond moves a pending row to status. Rows that are not pending are reported as not found.
func (r *CollaboratorRepository) Respond(ctx context.Context, id string, status models.InviteStatus, at time.Time) error {
	var acceptedAt any
	if status == models.StatusAccepted {
		acceptedAt = at.UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE playlist_collaborators SET status = ?, accepted_at = ? WHERE id = ? AND status = 'pending'`,
		status, acceptedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	return expectOne(res, fmt.Errorf("%w: pending invitation %s", shared.ErrNotFound, id))
}

func (r *CollaboratorRepository) scanOne(row *sql.Row, ref string) (*models.Collaborator, error) {
	c, err := scanCollaborator(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: collaborator %s", shared.ErrNotFound, ref)
	}
	return c, err
}

func scanCollaborator(row scanner) (*models.Collaborator, error) {
	var (
		c          models.Collaborator
		acceptedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.PlaylistID, &c.UserID, &c.DisplayName, &c.Role, &c.Status, &c.InvitedBy, &c.InvitedAt, &acceptedAt)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collaborator: %w", err)
	}
	if acceptedAt.Valid {
		c.AcceptedAt = &acceptedAt.Time
	}
	return &c, nil
}
