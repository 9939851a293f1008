package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/changes"
	"github.com/desertthunder/themeroom/internal/identity"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

// EventCollaborationAccepted marks the audit record written when an invitation is accepted.
const EventCollaborationAccepted = "collaboration_accepted"

type WorkflowOpts struct {
	Store       Store
	Identity    identity.Provider
	Broadcaster *changes.Broadcaster
	Logger      *log.Logger
	Now         func() time.Time
}

// Workflow runs invitations and permission-checked playlist mutations on behalf of the
// current user.
type Workflow struct {
	store    Store
	identity identity.Provider
	changes  *changes.Broadcaster
	logger   *log.Logger
	now      func() time.Time
}

func NewWorkflow(opts WorkflowOpts) *Workflow {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Workflow{
		store:    opts.Store,
		identity: opts.Identity,
		changes:  opts.Broadcaster,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

func (w *Workflow) currentUser(ctx context.Context) (string, error) {
	if w.identity == nil {
		return "", fmt.Errorf("%w: no identity provider", shared.ErrNotAuthenticated)
	}
	id, err := w.identity.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}
	return id, nil
}

// CreatePlaylist creates a playlist owned by the current user.
func (w *Workflow) CreatePlaylist(ctx context.Context, name, description string, public bool) (*models.Playlist, error) {
	owner, err := w.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	p := &models.Playlist{OwnerID: owner, Name: strings.TrimSpace(name), Description: description, IsPublic: public}
	if err := w.store.CreatePlaylist(ctx, p); err != nil {
		return nil, err
	}
	w.logger.Info("playlist created", "playlist", p.ID, "user", owner)
	return p, nil
}

// Playlists lists what the current user owns or collaborates on.
func (w *Workflow) Playlists(ctx context.Context) ([]models.Playlist, error) {
	user, err := w.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return w.store.ListPlaylists(ctx, user)
}

// Invite asks invitee (a user id or email) to collaborate with the given role. Only the owner
// may invite. A declined invitation is reopened rather than refused.
func (w *Workflow) Invite(ctx context.Context, playlistID, invitee string, role models.Role) (*models.Collaborator, error) {
	caller, err := w.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := models.ParseInviteRole(string(role)); err != nil {
		return nil, err
	}

	p, err := w.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != caller {
		return nil, fmt.Errorf("%w: only the owner can invite to %s", shared.ErrUnauthorized, playlistID)
	}

	user, err := w.store.FindUser(ctx, invitee)
	if err != nil {
		return nil, err
	}
	if user.ID == p.OwnerID || user.ID == caller {
		return nil, fmt.Errorf("%w: the owner cannot be invited", shared.ErrInvalidInput)
	}

	existing, err := w.store.FindCollaborator(ctx, playlistID, user.ID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
	case err != nil:
		return nil, err
	case existing.Status == models.StatusPending:
		return nil, fmt.Errorf("%w: %s", shared.ErrAlreadyInvited, user.Name())
	case existing.Status == models.StatusAccepted:
		return nil, fmt.Errorf("%w: %s", shared.ErrAlreadyCollaborator, user.Name())
	}

	c := &models.Collaborator{
		PlaylistID:  playlistID,
		UserID:      user.ID,
		DisplayName: user.Name(),
		Role:        role,
		InvitedBy:   caller,
		InvitedAt:   w.now().UTC(),
	}
	if err := w.store.SaveInvitation(ctx, c); err != nil {
		return nil, err
	}
	w.logger.Info("invitation sent", "playlist", playlistID, "user", user.ID, "role", role)
	return c, nil
}

// Respond answers one of the current user's pending invitations. Invitations that belong to
// someone else or are no longer pending are reported as not found.
func (w *Workflow) Respond(ctx context.Context, invitationID string, action models.ResponseAction) (*models.Collaborator, error) {
	caller, err := w.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	c, err := w.store.GetCollaborator(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if c.UserID != caller || c.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: pending invitation %s", shared.ErrNotFound, invitationID)
	}

	now := w.now()
	switch action {
	case models.Accept:
		rec, err := changes.NewRecord(c.PlaylistID, caller, models.ActionUpdateMetadata, map[string]any{
			"event":          EventCollaborationAccepted,
			"collaboratorId": c.ID,
			"userId":         caller,
			"role":           c.Role,
		}, now)
		if err != nil {
			return nil, err
		}
		if err := w.store.AcceptInvitation(ctx, c.ID, now, &rec); err != nil {
			return nil, err
		}
		w.announce(ctx, rec)
	case models.Decline:
		if err := w.store.DeclineInvitation(ctx, c.ID); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown response %q", shared.ErrInvalidInput, action)
	}

	w.logger.Info("invitation answered", "playlist", c.PlaylistID, "user", caller, "action", action)
	return w.store.GetCollaborator(ctx, c.ID)
}

// CanEdit reports whether userID may mutate the playlist: the owner, or an accepted editor.
func (w *Workflow) CanEdit(ctx context.Context, playlistID, userID string) (bool, error) {
	p, err := w.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return false, err
	}
	return w.canEdit(ctx, p, userID)
}

func (w *Workflow) canEdit(ctx context.Context, p *models.Playlist, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if p.OwnerID == userID {
		return true, nil
	}
	c, err := w.store.FindCollaborator(ctx, p.ID, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.CanEdit(), nil
}

// CanView reports whether userID may open a session on the playlist.
func (w *Workflow) CanView(ctx context.Context, p *models.Playlist, userID string) (bool, error) {
	if p.IsPublic || p.OwnerID == userID {
		return true, nil
	}
	c, err := w.store.FindCollaborator(ctx, p.ID, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Status == models.StatusAccepted, nil
}

func (w *Workflow) Collaborators(ctx context.Context, playlistID string) ([]models.Collaborator, error) {
	return w.store.ListCollaborators(ctx, playlistID)
}

// PendingFor lists the current user's open invitations.
func (w *Workflow) PendingFor(ctx context.Context) ([]models.Invitation, error) {
	user, err := w.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return w.store.PendingInvitations(ctx, user)
}

// RecentChanges reads the playlist's change log, newest first.
func (w *Workflow) RecentChanges(ctx context.Context, playlistID string, limit int) ([]models.ChangeRecord, error) {
	if w.changes != nil {
		return w.changes.Recent(ctx, playlistID, limit)
	}
	if limit <= 0 {
		limit = 50
	}
	return w.store.RecentChanges(ctx, playlistID, limit)
}

// editor resolves the caller and checks edit rights on playlistID.
func (w *Workflow) editor(ctx context.Context, playlistID string) (string, *models.Playlist, error) {
	user, err := w.currentUser(ctx)
	if err != nil {
		return "", nil, err
	}
	p, err := w.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return "", nil, err
	}
	ok, err := w.canEdit(ctx, p, user)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, fmt.Errorf("%w: %s cannot edit %s", shared.ErrUnauthorized, user, playlistID)
	}
	return user, p, nil
}

// AddTrack appends a theme to the playlist.
func (w *Workflow) AddTrack(ctx context.Context, playlistID string, t models.Track) (*models.Track, *models.ChangeRecord, error) {
	user, p, err := w.editor(ctx, playlistID)
	if err != nil {
		return nil, nil, err
	}
	if t.ID == "" {
		t.ID = shared.GenerateID()
	}
	if t.Kind == "" {
		t.Kind = models.KindOpening
	}
	t.PlaylistID, t.AddedBy = playlistID, user

	rec, err := changes.NewRecord(playlistID, user, models.ActionAddTheme, map[string]any{
		"trackId":      t.ID,
		"title":        t.Title,
		"show":         t.Show,
		"kind":         t.Kind,
		"baseRevision": p.Revision,
	}, w.now())
	if err != nil {
		return nil, nil, err
	}
	if err := w.store.AddTrack(ctx, &t, &rec); err != nil {
		return nil, nil, err
	}
	w.announce(ctx, rec)
	return &t, &rec, nil
}

// RemoveTrack deletes a theme from the playlist.
func (w *Workflow) RemoveTrack(ctx context.Context, playlistID, trackID string) (*models.ChangeRecord, error) {
	user, p, err := w.editor(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	rec, err := changes.NewRecord(playlistID, user, models.ActionRemoveTheme, map[string]any{
		"trackId":      trackID,
		"baseRevision": p.Revision,
	}, w.now())
	if err != nil {
		return nil, err
	}
	if err := w.store.RemoveTrack(ctx, playlistID, trackID, &rec); err != nil {
		return nil, err
	}
	w.announce(ctx, rec)
	return &rec, nil
}

// Reorder replaces the playlist order. Concurrent reorders are last-write-wins.
func (w *Workflow) Reorder(ctx context.Context, playlistID string, order []string) (*models.ChangeRecord, error) {
	user, p, err := w.editor(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	rec, err := changes.NewRecord(playlistID, user, models.ActionReorderThemes, map[string]any{
		"order":        order,
		"baseRevision": p.Revision,
	}, w.now())
	if err != nil {
		return nil, err
	}
	if err := w.store.ReorderTracks(ctx, playlistID, order, &rec); err != nil {
		return nil, err
	}
	w.announce(ctx, rec)
	return &rec, nil
}

// MetadataPatch holds the fields to change; nil fields are left alone.
type MetadataPatch struct {
	Name        *string
	Description *string
	IsPublic    *bool
}

// UpdateMetadata applies patch to the playlist's name, description or visibility.
func (w *Workflow) UpdateMetadata(ctx context.Context, playlistID string, patch MetadataPatch) (*models.Playlist, *models.ChangeRecord, error) {
	user, p, err := w.editor(ctx, playlistID)
	if err != nil {
		return nil, nil, err
	}

	payload := map[string]any{"baseRevision": p.Revision}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
		payload["name"] = p.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
		payload["description"] = p.Description
	}
	if patch.IsPublic != nil {
		p.IsPublic = *patch.IsPublic
		payload["isPublic"] = p.IsPublic
	}
	if len(payload) == 1 {
		return nil, nil, fmt.Errorf("%w: nothing to update", shared.ErrMissingArgument)
	}

	rec, err := changes.NewRecord(playlistID, user, models.ActionUpdateMetadata, payload, w.now())
	if err != nil {
		return nil, nil, err
	}
	if err := w.store.UpdatePlaylist(ctx, p, &rec); err != nil {
		return nil, nil, err
	}
	w.announce(ctx, rec)
	return p, &rec, nil
}

// announce publishes a committed record. The mutation stands when publishing fails; live
// viewers catch up on their next refetch.
func (w *Workflow) announce(ctx context.Context, rec models.ChangeRecord) {
	if w.changes == nil {
		return
	}
	if err := w.changes.Announce(ctx, rec); err != nil {
		w.logger.Warn("change committed but not announced", "playlist", rec.PlaylistID, "action", rec.Action, "err", err)
	}
}
