package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/themeroom/internal/collab"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/playback"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPlaylistsFetched MsgKind = iota
	MsgInvitationsFetched
	MsgInvitationAnswered
	MsgSessionStarted
	MsgSessionEvent
	MsgSessionClosed
	MsgSnapshot
	MsgActionDone
)

type playlistsData struct {
	playlists []models.Playlist
	err       error
}

type invitationsData struct {
	invitations []models.Invitation
	err         error
}

type answeredData struct {
	collaborator *models.Collaborator
	err          error
}

type sessionData struct {
	session *collab.Session
	err     error
}

// playlistsFetchedMsg is the constructor for [MsgPlaylistsFetched]
func playlistsFetchedMsg(playlists []models.Playlist, err error) Msg {
	return Msg{kind: MsgPlaylistsFetched, data: playlistsData{playlists, err}}
}

// invitationsFetchedMsg is the constructor for [MsgInvitationsFetched]
func invitationsFetchedMsg(invitations []models.Invitation, err error) Msg {
	return Msg{kind: MsgInvitationsFetched, data: invitationsData{invitations, err}}
}

// invitationAnsweredMsg is the constructor for [MsgInvitationAnswered]
func invitationAnsweredMsg(c *models.Collaborator, err error) Msg {
	return Msg{kind: MsgInvitationAnswered, data: answeredData{c, err}}
}

// sessionStartedMsg is the constructor for [MsgSessionStarted]
func sessionStartedMsg(s *collab.Session, err error) Msg {
	return Msg{kind: MsgSessionStarted, data: sessionData{s, err}}
}

// sessionEventMsg is the constructor for [MsgSessionEvent]
func sessionEventMsg(ev collab.Event) Msg {
	return Msg{kind: MsgSessionEvent, data: ev}
}

// sessionClosedMsg is the constructor for [MsgSessionClosed]
func sessionClosedMsg() Msg {
	return Msg{kind: MsgSessionClosed}
}

// snapshotMsg is the constructor for [MsgSnapshot]
func snapshotMsg(s playback.Snapshot) Msg {
	return Msg{kind: MsgSnapshot, data: s}
}

// actionDoneMsg is the constructor for [MsgActionDone]
func actionDoneMsg(label string, err error) Msg {
	return Msg{kind: MsgActionDone, data: actionData{label, err}}
}

type actionData struct {
	label string
	err   error
}
