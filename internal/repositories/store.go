package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
)

// Store composes the repositories over one database. Mutations that produce a change record
// write the record in the same transaction.
type Store struct {
	db *sql.DB

	Users         *UserRepository
	Playlists     *PlaylistRepository
	Tracks        *TrackRepository
	Collaborators *CollaboratorRepository
	Changes       *ChangeRepository
}

func NewStore(db *sql.DB) *Store {
	s := &Store{db: db}
	s.bind(db)
	return s
}

func (s *Store) bind(q DBTX) {
	s.Users = NewUserRepository(q)
	s.Playlists = NewPlaylistRepository(q)
	s.Tracks = NewTrackRepository(q)
	s.Collaborators = NewCollaboratorRepository(q)
	s.Changes = NewChangeRepository(q)
}

// InTx runs fn with repositories bound to a single transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scoped := &Store{db: s.db}
	scoped.bind(tx)
	if err := fn(scoped); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, u *models.User) error { return s.Users.Ensure(ctx, u) }

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.Users.Get(ctx, id)
}

func (s *Store) FindUser(ctx context.Context, ref string) (*models.User, error) {
	return s.Users.Find(ctx, ref)
}

func (s *Store) CreatePlaylist(ctx context.Context, p *models.Playlist) error {
	return s.Playlists.Create(ctx, p)
}

func (s *Store) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	return s.Playlists.Get(ctx, id)
}

func (s *Store) ListPlaylists(ctx context.Context, userID string) ([]models.Playlist, error) {
	return s.Playlists.ListForUser(ctx, userID)
}

func (s *Store) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	return s.Tracks.List(ctx, playlistID)
}

// TrackOrder returns the playlist's track ids in position order.
func (s *Store) TrackOrder(ctx context.Context, playlistID string) ([]string, error) {
	return s.Tracks.Order(ctx, playlistID)
}

// AddTrack appends t and records rec.
func (s *Store) AddTrack(ctx context.Context, t *models.Track, rec *models.ChangeRecord) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.Playlists.Get(ctx, t.PlaylistID); err != nil {
			return err
		}
		if err := tx.Tracks.Append(ctx, t); err != nil {
			return err
		}
		if _, err := tx.Playlists.BumpRevision(ctx, t.PlaylistID); err != nil {
			return err
		}
		return tx.Changes.Append(ctx, rec)
	})
}

// RemoveTrack deletes a track, compacts positions and records rec.
func (s *Store) RemoveTrack(ctx context.Context, playlistID, trackID string, rec *models.ChangeRecord) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.Tracks.Remove(ctx, playlistID, trackID); err != nil {
			return err
		}
		if _, err := tx.Playlists.BumpRevision(ctx, playlistID); err != nil {
			return err
		}
		return tx.Changes.Append(ctx, rec)
	})
}

// ReorderTracks rewrites positions to follow order and records rec.
func (s *Store) ReorderTracks(ctx context.Context, playlistID string, order []string, rec *models.ChangeRecord) error {
	return s.InTx(ctx, func(tx *Store) error {
		if err := tx.Tracks.Reorder(ctx, playlistID, order); err != nil {
			return err
		}
		if _, err := tx.Playlists.BumpRevision(ctx, playlistID); err != nil {
			return err
		}
		return tx.Changes.Append(ctx, rec)
	})
}

// UpdatePlaylist writes metadata and records rec.
func (s *Store) UpdatePlaylist(ctx context.Context, p *models.Playlist, rec *models.ChangeRecord) error {
	return s.InTx(ctx, func(tx *Store) error {
		if err := tx.Playlists.UpdateMetadata(ctx, p); err != nil {
			return err
		}
		return tx.Changes.Append(ctx, rec)
	})
}

func (s *Store) GetCollaborator(ctx context.Context, id string) (*models.Collaborator, error) {
	return s.Collaborators.Get(ctx, id)
}

func (s *Store) FindCollaborator(ctx context.Context, playlistID, userID string) (*models.Collaborator, error) {
	return s.Collaborators.Find(ctx, playlistID, userID)
}

func (s *Store) ListCollaborators(ctx context.Context, playlistID string) ([]models.Collaborator, error) {
	return s.Collaborators.List(ctx, playlistID)
}

func (s *Store) PendingInvitations(ctx context.Context, userID string) ([]models.Invitation, error) {
	return s.Collaborators.Pending(ctx, userID)
}

func (s *Store) SaveInvitation(ctx context.Context, c *models.Collaborator) error {
	return s.Collaborators.Save(ctx, c)
}

// AcceptInvitation marks the row accepted and records rec atomically.
func (s *Store) AcceptInvitation(ctx context.Context, id string, at time.Time, rec *models.ChangeRecord) error {
	return s.InTx(ctx, func(tx *Store) error {
		if err := tx.Collaborators.Respond(ctx, id, models.StatusAccepted, at); err != nil {
			return err
		}
		return tx.Changes.Append(ctx, rec)
	})
}

func (s *Store) DeclineInvitation(ctx context.Context, id string) error {
	return s.Collaborators.Respond(ctx, id, models.StatusDeclined, time.Time{})
}

func (s *Store) AppendChange(ctx context.Context, rec *models.ChangeRecord) error {
	return s.Changes.Append(ctx, rec)
}

func (s *Store) RecentChanges(ctx context.Context, playlistID string, limit int) ([]models.ChangeRecord, error) {
	return s.Changes.Recent(ctx, playlistID, limit)
}

func (s *Store) ChangesSince(ctx context.Context, playlistID string, seq int64) ([]models.ChangeRecord, error) {
	return s.Changes.Since(ctx, playlistID, seq)
}
