package collab

import (
	"context"
	"time"

	"github.com/desertthunder/themeroom/internal/changes"
	"github.com/desertthunder/themeroom/internal/models"
)

// Store is the durable playlist store. Methods taking a change record write it in the same
// transaction as the mutation and set its Seq.
type Store interface {
	changes.Log

	EnsureUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	// FindUser resolves a user id or email.
	FindUser(ctx context.Context, ref string) (*models.User, error)

	CreatePlaylist(ctx context.Context, p *models.Playlist) error
	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	ListPlaylists(ctx context.Context, userID string) ([]models.Playlist, error)
	PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error)
	// TrackOrder returns track ids in position order without the track rows.
	TrackOrder(ctx context.Context, playlistID string) ([]string, error)

	AddTrack(ctx context.Context, t *models.Track, rec *models.ChangeRecord) error
	RemoveTrack(ctx context.Context, playlistID, trackID string, rec *models.ChangeRecord) error
	ReorderTracks(ctx context.Context, playlistID string, order []string, rec *models.ChangeRecord) error
	UpdatePlaylist(ctx context.Context, p *models.Playlist, rec *models.ChangeRecord) error

	GetCollaborator(ctx context.Context, id string) (*models.Collaborator, error)
	FindCollaborator(ctx context.Context, playlistID, userID string) (*models.Collaborator, error)
	ListCollaborators(ctx context.Context, playlistID string) ([]models.Collaborator, error)
	PendingInvitations(ctx context.Context, userID string) ([]models.Invitation, error)
	// SaveInvitation inserts a pending row or reopens the user's existing row.
	SaveInvitation(ctx context.Context, c *models.Collaborator) error
	AcceptInvitation(ctx context.Context, id string, at time.Time, rec *models.ChangeRecord) error
	DeclineInvitation(ctx context.Context, id string) error
}
