package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

func (s *Store) EnsureUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	var email *string
	if e := strings.ToLower(strings.TrimSpace(u.Email)); e != "" {
		email = &e
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, users.email),
			display_name = CASE WHEN EXCLUDED.display_name = '' THEN users.display_name ELSE EXCLUDED.display_name END,
			updated_at = now()
		RETURNING created_at, updated_at`, u.ID, email, u.DisplayName).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(s.db.QueryRow(ctx,
		`SELECT id, email, display_name, created_at, updated_at FROM users WHERE id = $1`, id), id)
}

// FindUser resolves ref as an id first and an email second.
func (s *Store) FindUser(ctx context.Context, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	return s.scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, display_name, created_at, updated_at
		FROM users
		WHERE id = $1 OR email = lower($1)
		ORDER BY (id = $1) DESC
		LIMIT 1`, ref), ref)
}

func (s *Store) scanUser(row interface{ Scan(...any) error }, ref string) (*models.User, error) {
	var (
		u     models.User
		email *string
	)
	err := row.Scan(&u.ID, &email, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}

func (s *Store) CreatePlaylist(ctx context.Context, p *models.Playlist) error {
	if p.ID == "" {
		p.ID = shared.GenerateID()
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO playlists (id, owner_id, name, description, is_public)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING revision, created_at, updated_at`,
		p.ID, p.OwnerID, p.Name, p.Description, p.IsPublic).Scan(&p.Revision, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}
	return nil
}

const playlistColumns = `id, owner_id, name, description, is_public, revision, created_at, updated_at, deleted_at`

func (s *Store) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	return getPlaylist(ctx, s.db, id)
}

func getPlaylist(ctx context.Context, q querier, id string) (*models.Playlist, error) {
	var p models.Playlist
	err := q.QueryRow(ctx, `SELECT `+playlistColumns+` FROM playlists WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.IsPublic, &p.Revision, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if isNoRows(err) {
		return nil, notFound("playlist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist: %w", err)
	}
	return &p, nil
}

// ListPlaylists returns playlists the user owns or has accepted an invitation to.
func (s *Store) ListPlaylists(ctx context.Context, userID string) ([]models.Playlist, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+playlistColumns+`
		FROM playlists p
		WHERE deleted_at IS NULL AND (
			owner_id = $1 OR EXISTS (
				SELECT 1 FROM playlist_collaborators c
				WHERE c.playlist_id = p.id AND c.user_id = $1 AND c.status = 'accepted'
			)
		)
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var out []models.Playlist
	for rows.Next() {
		var p models.Playlist
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.IsPublic, &p.Revision, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	return listTracks(ctx, s.db, playlistID)
}

// TrackOrder returns the playlist's track ids in position order.
func (s *Store) TrackOrder(ctx context.Context, playlistID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM playlist_tracks
		WHERE playlist_id = $1
		ORDER BY position, created_at`, playlistID)
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
	return ids, rows.Err()
}

func listTracks(ctx context.Context, q querier, playlistID string) ([]models.Track, error) {
	rows, err := q.Query(ctx, `
		SELECT id, playlist_id, song_id, title, show_name, kind, media_url, position, added_by, created_at
		FROM playlist_tracks
		WHERE playlist_id = $1
		ORDER BY position, created_at`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var out []models.Track
	for rows.Next() {
		var (
			t        models.Track
			mediaURL *string
		)
		if err := rows.Scan(&t.ID, &t.PlaylistID, &t.SongID, &t.Title, &t.Show, &t.Kind, &mediaURL, &t.Position, &t.AddedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		if mediaURL != nil {
			t.MediaURL = *mediaURL
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func bumpRevision(ctx context.Context, q querier, playlistID string) error {
	tag, err := q.Exec(ctx,
		`UPDATE playlists SET revision = revision + 1, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, playlistID)
	if err != nil {
		return fmt.Errorf("failed to bump revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("playlist", playlistID)
	}
	return nil
}

// AddTrack appends t after the last position and records rec.
func (s *Store) AddTrack(ctx context.Context, t *models.Track, rec *models.ChangeRecord) error {
	if t.ID == "" {
		t.ID = shared.GenerateID()
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	var mediaURL *string
	if t.MediaURL != "" {
		mediaURL = &t.MediaURL
	}

	return s.inTx(ctx, func(q querier) error {
		if err := bumpRevision(ctx, q, t.PlaylistID); err != nil {
			return err
		}
		err := q.QueryRow(ctx, `
			INSERT INTO playlist_tracks (id, playlist_id, song_id, title, show_name, kind, media_url, position, added_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7,
				(SELECT COALESCE(MAX(position) + 1, 0) FROM playlist_tracks WHERE playlist_id = $2), $8)
			RETURNING position, created_at`,
			t.ID, t.PlaylistID, t.SongID, t.Title, t.Show, t.Kind, mediaURL, t.AddedBy).Scan(&t.Position, &t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert track: %w", err)
		}
		return appendChange(ctx, q, rec)
	})
}

// RemoveTrack deletes a track, closes the gap and records rec.
func (s *Store) RemoveTrack(ctx context.Context, playlistID, trackID string, rec *models.ChangeRecord) error {
	return s.inTx(ctx, func(q querier) error {
		var pos int
		err := q.QueryRow(ctx,
			`DELETE FROM playlist_tracks WHERE id = $1 AND playlist_id = $2 RETURNING position`, trackID, playlistID).Scan(&pos)
		if isNoRows(err) {
			return notFound("track", trackID)
		}
		if err != nil {
			return fmt.Errorf("failed to delete track: %w", err)
		}
		if _, err := q.Exec(ctx,
			`UPDATE playlist_tracks SET position = position - 1 WHERE playlist_id = $1 AND position > $2`, playlistID, pos); err != nil {
			return fmt.Errorf("failed to compact positions: %w", err)
		}
		if err := bumpRevision(ctx, q, playlistID); err != nil {
			return err
		}
		return appendChange(ctx, q, rec)
	})
}

// ReorderTracks rewrites positions to follow order and records rec.
func (s *Store) ReorderTracks(ctx context.Context, playlistID string, order []string, rec *models.ChangeRecord) error {
	return s.inTx(ctx, func(q querier) error {
		tracks, err := listTracks(ctx, q, playlistID)
		if err != nil {
			return err
		}
		if err := checkPermutation(tracks, order); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			UPDATE playlist_tracks t
			SET position = o.pos - 1
			FROM unnest($2::text[]) WITH ORDINALITY AS o(id, pos)
			WHERE t.playlist_id = $1 AND t.id = o.id`, playlistID, order); err != nil {
			return fmt.Errorf("failed to reorder tracks: %w", err)
		}
		if err := bumpRevision(ctx, q, playlistID); err != nil {
			return err
		}
		return appendChange(ctx, q, rec)
	})
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

// UpdatePlaylist writes metadata, bumps the revision and records rec.
func (s *Store) UpdatePlaylist(ctx context.Context, p *models.Playlist, rec *models.ChangeRecord) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return s.inTx(ctx, func(q querier) error {
		err := q.QueryRow(ctx, `
			UPDATE playlists
			SET name = $2, description = $3, is_public = $4, revision = revision + 1, updated_at = now()
			WHERE id = $1 AND deleted_at IS NULL
			RETURNING revision, updated_at`, p.ID, p.Name, p.Description, p.IsPublic).Scan(&p.Revision, &p.UpdatedAt)
		if isNoRows(err) {
			return notFound("playlist", p.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update playlist: %w", err)
		}
		return appendChange(ctx, q, rec)
	})
}

const collaboratorColumns = `c.id, c.playlist_id, c.user_id, COALESCE(u.display_name, ''), c.role, c.status, c.invited_by, c.invited_at, c.accepted_at`

func scanCollaborator(row interface{ Scan(...any) error }, extra ...any) (*models.Collaborator, error) {
	var c models.Collaborator
	dest := append([]any{&c.ID, &c.PlaylistID, &c.UserID, &c.DisplayName, &c.Role, &c.Status, &c.InvitedBy, &c.InvitedAt, &c.AcceptedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCollaborator(ctx context.Context, id string) (*models.Collaborator, error) {
	c, err := scanCollaborator(s.db.QueryRow(ctx, `SELECT `+collaboratorColumns+`
		FROM playlist_collaborators c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("collaborator", id)
	}
	return c, err
}

func (s *Store) FindCollaborator(ctx context.Context, playlistID, userID string) (*models.Collaborator, error) {
	c, err := scanCollaborator(s.db.QueryRow(ctx, `SELECT `+collaboratorColumns+`
		FROM playlist_collaborators c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.playlist_id = $1 AND c.user_id = $2`, playlistID, userID))
	if isNoRows(err) {
		return nil, notFound("collaborator", userID)
	}
	return c, err
}

func (s *Store) ListCollaborators(ctx context.Context, playlistID string) ([]models.Collaborator, error) {
	rows, err := s.db.Query(ctx, `SELECT `+collaboratorColumns+`
		FROM playlist_collaborators c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.playlist_id = $1
		ORDER BY c.invited_at, c.id`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collaborators: %w", err)
	}
	defer rows.Close()

	var out []models.Collaborator
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) PendingInvitations(ctx context.Context, userID string) ([]models.Invitation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+collaboratorColumns+`, p.name, p.owner_id
		FROM playlist_collaborators c
		JOIN playlists p ON p.id = c.playlist_id AND p.deleted_at IS NULL
		LEFT JOIN users u ON u.id = c.user_id
		WHERE c.user_id = $1 AND c.status = 'pending'
		ORDER BY c.invited_at, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()

	var out []models.Invitation
	for rows.Next() {
		var inv models.Invitation
		c, err := scanCollaborator(rows, &inv.PlaylistName, &inv.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		inv.Collaborator = *c
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SaveInvitation inserts a pending row or reopens the user's declined one. Pending and accepted
// rows are left alone.
func (s *Store) SaveInvitation(ctx context.Context, c *models.Collaborator) error {
	if c.ID == "" {
		c.ID = shared.GenerateID()
	}
	if c.InvitedAt.IsZero() {
		c.InvitedAt = time.Now().UTC()
	}
	c.Status, c.AcceptedAt = models.StatusPending, nil

	err := s.db.QueryRow(ctx, `
		INSERT INTO playlist_collaborators (id, playlist_id, user_id, role, status, invited_by, invited_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		ON CONFLICT (playlist_id, user_id) DO UPDATE SET
			role = EXCLUDED.role,
			status = 'pending',
			invited_by = EXCLUDED.invited_by,
			invited_at = EXCLUDED.invited_at,
			accepted_at = NULL
		WHERE playlist_collaborators.status = 'declined'
		RETURNING id`, c.ID, c.PlaylistID, c.UserID, c.Role, c.InvitedBy, c.InvitedAt).Scan(&c.ID)
	switch {
	case isNoRows(err):
		var status models.InviteStatus
		err := s.db.QueryRow(ctx,
			`SELECT status FROM playlist_collaborators WHERE playlist_id = $1 AND user_id = $2`,
			c.PlaylistID, c.UserID).Scan(&status)
		if err != nil {
			return fmt.Errorf("failed to read invitation: %w", err)
		}
		if status == models.StatusAccepted {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyCollaborator, c.UserID)
		}
		return fmt.Errorf("%w: %s", shared.ErrAlreadyInvited, c.UserID)
	case err != nil:
		return fmt.Errorf("failed to save invitation: %w", err)
	}
	return nil
}

func respond(ctx context.Context, q querier, id string, status models.InviteStatus, acceptedAt *time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE playlist_collaborators SET status = $2, accepted_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, status, acceptedAt)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("pending invitation", id)
	}
	return nil
}

// AcceptInvitation marks the row accepted and records rec atomically.
func (s *Store) AcceptInvitation(ctx context.Context, id string, at time.Time, rec *models.ChangeRecord) error {
	at = at.UTC()
	return s.inTx(ctx, func(q querier) error {
		if err := respond(ctx, q, id, models.StatusAccepted, &at); err != nil {
			return err
		}
		return appendChange(ctx, q, rec)
	})
}

func (s *Store) DeclineInvitation(ctx context.Context, id string) error {
	return respond(ctx, s.db, id, models.StatusDeclined, nil)
}

func (s *Store) AppendChange(ctx context.Context, rec *models.ChangeRecord) error {
	return appendChange(ctx, s.db, rec)
}

func appendChange(ctx context.Context, q querier, rec *models.ChangeRecord) error {
	if rec.ID == "" || rec.PlaylistID == "" || !rec.Action.Valid() {
		return fmt.Errorf("%w: change record needs an id, playlist and known action", shared.ErrInvalidInput)
	}
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	err := q.QueryRow(ctx, `
		INSERT INTO playlist_changes (id, playlist_id, user_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`, rec.ID, rec.PlaylistID, rec.UserID, rec.Action, payload, rec.CreatedAt.UTC()).Scan(&rec.Seq)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	return nil
}

// RecentChanges returns up to limit records, newest first.
func (s *Store) RecentChanges(ctx context.Context, playlistID string, limit int) ([]models.ChangeRecord, error) {
	return s.queryChanges(ctx, `
		SELECT seq, id, playlist_id, user_id, action, payload, created_at
		FROM playlist_changes
		WHERE playlist_id = $1
		ORDER BY seq DESC
		LIMIT $2`, playlistID, limit)
}

// ChangesSince returns records after seq in commit order.
func (s *Store) ChangesSince(ctx context.Context, playlistID string, seq int64) ([]models.ChangeRecord, error) {
	return s.queryChanges(ctx, `
		SELECT seq, id, playlist_id, user_id, action, payload, created_at
		FROM playlist_changes
		WHERE playlist_id = $1 AND seq > $2
		ORDER BY seq`, playlistID, seq)
}

func (s *Store) queryChanges(ctx context.Context, query string, args ...any) ([]models.ChangeRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeRecord
	for rows.Next() {
		var (
			rec     models.ChangeRecord
			payload []byte
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.PlaylistID, &rec.UserID, &rec.Action, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}
