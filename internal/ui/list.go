package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/themeroom/internal/formatter"
	"github.com/desertthunder/themeroom/internal/models"
)

var (
	_ list.Item = playlistItem{}
	_ list.Item = trackItem{}
	_ list.Item = invitationItem{}
)

// playlistItem wraps [models.Playlist] to implement [list.Item].
type playlistItem struct {
	playlist models.Playlist
}

func (i playlistItem) FilterValue() string { return i.playlist.Name }
func (i playlistItem) Title() string       { return i.playlist.Name }
func (i playlistItem) Description() string {
	desc := fmt.Sprintf("%s • rev %d", formatter.Visibility(i.playlist.IsPublic), i.playlist.Revision)
	if i.playlist.Description != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.playlist.Description)
	}
	return desc
}

// trackItem wraps [models.Track] to implement [list.Item]. current marks the loaded track.
type trackItem struct {
	track   models.Track
	current bool
}

func (i trackItem) FilterValue() string { return i.track.Label() }
func (i trackItem) Title() string {
	if i.current {
		return "▶ " + i.track.Label()
	}
	return i.track.Label()
}

func (i trackItem) Description() string {
	desc := i.track.Kind.Short()
	if i.track.AddedBy != "" {
		desc = fmt.Sprintf("%s • added by %s", desc, i.track.AddedBy)
	}
	if !i.track.Playable() {
		desc += " • no media"
	}
	return desc
}

// invitationItem wraps [models.Invitation] to implement [list.Item].
type invitationItem struct {
	invitation models.Invitation
}

func (i invitationItem) FilterValue() string { return i.invitation.PlaylistName }
func (i invitationItem) Title() string       { return i.invitation.PlaylistName }
func (i invitationItem) Description() string {
	return fmt.Sprintf("%s from %s", i.invitation.Role, i.invitation.InvitedBy)
}
